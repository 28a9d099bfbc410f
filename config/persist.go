package config

import (
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"

	"github.com/teranos/tessera/errors"
	"github.com/teranos/tessera/logger"
)

// createBackup rotates up to three backups (.back1 newest) before a file is
// overwritten.
func createBackup(configPath string) error {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil
	}

	back1 := configPath + ".back1"
	back2 := configPath + ".back2"
	back3 := configPath + ".back3"

	if err := os.Remove(back3); err != nil && !os.IsNotExist(err) {
		logger.Warnw("Failed to delete old config backup", logger.FieldPath, back3, logger.FieldError, err.Error())
	}
	if _, err := os.Stat(back2); err == nil {
		if err := os.Rename(back2, back3); err != nil {
			return errors.WrapIO(err, "rotate backup", back2)
		}
	}
	if _, err := os.Stat(back1); err == nil {
		if err := os.Rename(back1, back2); err != nil {
			return errors.WrapIO(err, "rotate backup", back1)
		}
	}

	content, err := os.ReadFile(configPath)
	if err != nil {
		return errors.WrapIO(err, "read config for backup", configPath)
	}
	if err := os.WriteFile(back1, content, DefaultFilePermissions); err != nil {
		return errors.WrapIO(err, "write backup", back1)
	}
	return nil
}

// Marshal renders cfg as TOML.
func Marshal(cfg *Config) ([]byte, error) {
	data, err := toml.Marshal(cfg)
	if err != nil {
		return nil, errors.WrapSerialization(err, "config")
	}
	return data, nil
}

// WriteFile writes cfg to path as TOML. An existing file is only replaced when
// force is set, and is backed up first.
func WriteFile(path string, cfg *Config, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return errors.WithHint(
			errors.NewInvalidRequestError("config file %s already exists", path),
			"pass --force to overwrite it; the old file is kept as .back1")
	}

	data, err := Marshal(cfg)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), DefaultDirPermissions); err != nil {
		return errors.WrapIO(err, "create config directory", filepath.Dir(path))
	}
	if err := createBackup(path); err != nil {
		return errors.Wrap(err, "failed to create backup")
	}
	if err := os.WriteFile(path, data, DefaultFilePermissions); err != nil {
		return errors.WrapIO(err, "write config", path)
	}
	logger.Infow("Wrote config", logger.FieldPath, path)
	return nil
}
