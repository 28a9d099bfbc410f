package logger

import (
	"go.uber.org/zap"
)

// Standard field names for consistent structured logging across tessera.
// Use these constants instead of raw strings to ensure consistency.
const (
	// Identity
	FieldDatasetID = "dataset_id"
	FieldVersionID = "version_id"
	FieldParentID  = "parent_id"

	// Lifecycle
	FieldStage     = "stage"
	FieldMode      = "mode"
	FieldTransform = "transform"
	FieldReused    = "reused_parent_data"

	// Operations
	FieldOperation = "operation"
	FieldPath      = "path"

	// Timing
	FieldDurationMS = "duration_ms"

	// Errors
	FieldError = "error"

	// Counts and sizes
	FieldCount     = "count"
	FieldRows      = "rows"
	FieldColumns   = "columns"
	FieldSize      = "size"
	FieldBatchSize = "batch_size"
)

// ComponentLogger returns a named logger for a specific component.
// This is the preferred way to get a logger for dependency injection.
//
// Example:
//
//	type VersionStore struct {
//	    logger *zap.SugaredLogger
//	}
//
//	func NewVersionStore() *VersionStore {
//	    return &VersionStore{
//	        logger: logger.ComponentLogger("storage"),
//	    }
//	}
func ComponentLogger(name string) *zap.SugaredLogger {
	return Logger.Named(name)
}

// ChildLogger creates a child logger with additional context.
//
// Example:
//
//	dsLogger := logger.ChildLogger(baseLogger, logger.FieldDatasetID, id)
func ChildLogger(parent *zap.SugaredLogger, keysAndValues ...interface{}) *zap.SugaredLogger {
	return parent.With(keysAndValues...)
}
