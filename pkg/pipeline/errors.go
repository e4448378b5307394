package pipeline

import (
	"errors"
	"fmt"

	"github.com/cyclopcam/geochange/pkg/geo"
	"github.com/cyclopcam/geochange/pkg/raster"
)

type ErrorKind string

const (
	KindRasterLoad     ErrorKind = "RasterLoadError" // An input raster is missing or undecodable
	KindInvalidAOI     ErrorKind = "InvalidAOI"      // AOI corners are not strictly ordered
	KindInvalidRequest ErrorKind = "InvalidRequest"  // The request itself is malformed
	KindTimeout        ErrorKind = "Timeout"         // The caller's deadline expired before the analysis finished
	KindInternal       ErrorKind = "Internal"
)

// Error is the only error shape that leaves the pipeline
type Error struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%v: %v", e.Kind, e.Message)
}

func NewError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
	}
}

// AsError converts any error into an *Error, classifying the typed errors of the
// analysis packages. Unknown errors become KindInternal.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var pe *Error
	var loadErr *raster.LoadError
	var aoiErr *geo.InvalidAOIError
	switch {
	case errors.As(err, &pe):
		return pe
	case errors.As(err, &loadErr):
		return &Error{Kind: KindRasterLoad, Message: loadErr.Error()}
	case errors.As(err, &aoiErr):
		return &Error{Kind: KindInvalidAOI, Message: aoiErr.Error()}
	}
	return &Error{Kind: KindInternal, Message: err.Error()}
}
