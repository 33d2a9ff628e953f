// Package errs defines the error taxonomy shared by the tiling, resampling,
// raster access and unwrapping packages.
//
// Leaf packages return these errors unhandled. Only the multiscale
// orchestrator applies policy to them (abort the run or degrade a tile).
package errs

import (
	"errors"
	"fmt"

	"phasetiler/internal/models"
)

// ConfigurationError reports invalid tiling, resampling or run parameters.
// It is raised before any raster access takes place.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("configuration error: %s", e.Reason)
	}
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Reason)
}

// Configf builds a ConfigurationError for field with a formatted reason.
func Configf(field, format string, args ...interface{}) *ConfigurationError {
	return &ConfigurationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// ShapeError reports a dimension mismatch in a resampling operation.
type ShapeError struct {
	Op   string
	Got  [2]int
	Want string
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("%s: shape error: got %dx%d, want %s", e.Op, e.Got[0], e.Got[1], e.Want)
}

// BoundsError reports an out-of-range raster access. Under correct tiling it
// never happens, so callers treat it as fatal.
type BoundsError struct {
	Op     string
	Extent models.Extent
	Rows   int
	Cols   int
	Detail string
}

func (e *BoundsError) Error() string {
	msg := fmt.Sprintf("%s: %s out of bounds for %dx%d raster", e.Op, e.Extent, e.Rows, e.Cols)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// UnwrapError reports that an unwrapping backend failed or did not converge.
type UnwrapError struct {
	Algorithm string
	Reason    string
	Err       error
}

func (e *UnwrapError) Error() string {
	msg := fmt.Sprintf("unwrap (%s): %s", e.Algorithm, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *UnwrapError) Unwrap() error {
	return e.Err
}

// TileError scopes a failure to one tile of a partition.
type TileError struct {
	Index  int
	Extent models.Extent
	Err    error
}

func (e *TileError) Error() string {
	return fmt.Sprintf("tile %d (%s): %s: %v", e.Index, e.Extent, Kind(e.Err), e.Err)
}

func (e *TileError) Unwrap() error {
	return e.Err
}

// Kind names the taxonomy class of err for user-facing messages.
func Kind(err error) string {
	var (
		cfgErr    *ConfigurationError
		shapeErr  *ShapeError
		boundsErr *BoundsError
		unwrapErr *UnwrapError
		tileErr   *TileError
	)
	switch {
	case err == nil:
		return "none"
	case errors.As(err, &cfgErr):
		return "ConfigurationError"
	case errors.As(err, &shapeErr):
		return "ShapeError"
	case errors.As(err, &boundsErr):
		return "BoundsError"
	case errors.As(err, &unwrapErr):
		return "UnwrapError"
	case errors.As(err, &tileErr):
		return Kind(tileErr.Err)
	default:
		return "error"
	}
}

// IsRecoverable reports whether a tile-level error may be handled by the
// degrade-to-reference policy. Only unwrapping failures qualify; shape and
// bounds errors indicate an orchestration defect.
func IsRecoverable(err error) bool {
	var unwrapErr *UnwrapError
	return errors.As(err, &unwrapErr)
}
