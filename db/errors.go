package db

import (
	"strings"

	"github.com/mattn/go-sqlite3"

	"github.com/teranos/tessera/errors"
)

// ErrDatabaseClosed marks operations on a catalog whose connection is gone.
var ErrDatabaseClosed = errors.New("database is closed")

// ErrDatabaseBusy marks operations that gave up waiting on another writer.
var ErrDatabaseBusy = errors.New("database is busy")

// IsDatabaseClosed reports whether err comes from a closed connection, marked or not.
// database/sql reports closed pools only through its message.
func IsDatabaseClosed(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrDatabaseClosed) {
		return true
	}
	return strings.Contains(err.Error(), "database is closed")
}

// IsDatabaseBusy reports whether err is SQLite's busy or locked condition.
func IsDatabaseBusy(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrDatabaseBusy) {
		return true
	}
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked
	}
	return false
}

// Classify marks driver errors the CLI can explain and adds a hint. Other errors
// are returned unchanged.
func Classify(err error) error {
	switch {
	case err == nil:
		return nil
	case IsDatabaseClosed(err):
		return errors.WithHint(errors.Mark(err, ErrDatabaseClosed),
			"the catalog was closed before the command finished")
	case IsDatabaseBusy(err):
		return errors.WithHintf(errors.Mark(err, ErrDatabaseBusy),
			"another tessera process holds the catalog; retry once it finishes (waited %dms)", SQLiteBusyTimeoutMS)
	}
	return err
}
