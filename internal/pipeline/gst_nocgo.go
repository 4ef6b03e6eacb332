//go:build !cgo

package pipeline

import (
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrCGORequired is returned when a GStreamer runner is requested without cgo.
var ErrCGORequired = errors.New("GStreamer support requires CGO")

// Init is a no-op when cgo is disabled.
func Init() {}

// GstFactory fails when cgo is disabled.
func GstFactory(Options) (Runner, error) {
	return nil, status.Error(codes.FailedPrecondition, ErrCGORequired.Error())
}
