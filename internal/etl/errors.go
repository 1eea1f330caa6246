package etl

import (
	"errors"
	"fmt"
)

// Stage names the pipeline step an Error was raised in.
type Stage string

const (
	StageExtract   Stage = "extract"
	StageTransform Stage = "transform"
	StageLoad      Stage = "load"
)

// Error is a failure attributable to one pipeline stage. Anything else that
// surfaces from a run is treated as unexpected.
type Error struct {
	Stage Stage
	Msg   string
	Err   error
}

func (e *Error) Error() string {
	return e.Msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(stage Stage, cause error, format string, args ...any) *Error {
	return &Error{Stage: stage, Msg: fmt.Sprintf(format, args...), Err: cause}
}

// ExtractionError reports a failure to read source data.
func ExtractionError(format string, args ...any) *Error {
	return newError(StageExtract, nil, format, args...)
}

// TransformationError reports a failure to normalize extracted data.
func TransformationError(format string, args ...any) *Error {
	return newError(StageTransform, nil, format, args...)
}

// LoadingError reports a failure to persist transformed data.
func LoadingError(format string, args ...any) *Error {
	return newError(StageLoad, nil, format, args...)
}

// Wrap turns err into a stage error with the given prefix. Errors that
// already belong to a stage are returned unchanged.
func Wrap(stage Stage, err error, prefix string) error {
	if err == nil {
		return nil
	}
	var etlErr *Error
	if errors.As(err, &etlErr) {
		return err
	}
	return newError(stage, err, "%s: %v", prefix, err)
}

// StageOf returns the stage of err when it is an ETL error.
func StageOf(err error) (Stage, bool) {
	var etlErr *Error
	if errors.As(err, &etlErr) {
		return etlErr.Stage, true
	}
	return "", false
}
