package nakama

import (
	"context"
	"errors"

	"chinchon/internal/domain"
	"chinchon/internal/ports"

	"github.com/heroiclabs/nakama-common/runtime"
	"google.golang.org/grpc/codes"
)

var (
	errUnauthenticated = runtime.NewError("unauthenticated", int(codes.Unauthenticated))
	errBadPayload      = runtime.NewError("invalid request payload", int(codes.InvalidArgument))
	errServerOnly      = runtime.NewError("server to server call only", int(codes.PermissionDenied))
)

// errorCode maps engine errors onto gRPC status codes.
func errorCode(err error) codes.Code {
	var re *runtime.Error
	if errors.As(err, &re) {
		return codes.Code(re.Code)
	}
	switch {
	case errors.Is(err, domain.ErrMatchNotFound), errors.Is(err, domain.ErrAccountNotFound):
		return codes.NotFound
	case errors.Is(err, domain.ErrCardNotFound):
		return codes.InvalidArgument
	case errors.Is(err, domain.ErrDoubleSettlement):
		return codes.AlreadyExists
	case errors.Is(err, domain.ErrMatchFull):
		return codes.ResourceExhausted
	case errors.Is(err, domain.ErrIllegalAction),
		errors.Is(err, domain.ErrCannotClose),
		errors.Is(err, domain.ErrEmptyPile),
		errors.Is(err, domain.ErrInsufficientBalance),
		errors.Is(err, domain.ErrMatchFaulted):
		return codes.FailedPrecondition
	case errors.Is(err, ports.ErrConflict):
		return codes.Aborted
	case errors.Is(err, ports.ErrLockTimeout):
		return codes.Unavailable
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	default:
		return codes.Internal
	}
}

// toRuntimeError converts an engine error into the error returned to Nakama clients.
// Internal failures are not echoed back verbatim.
func toRuntimeError(err error) error {
	var re *runtime.Error
	if errors.As(err, &re) {
		return re
	}
	code := errorCode(err)
	if code == codes.Internal {
		return runtime.NewError("internal error", int(code))
	}
	return runtime.NewError(err.Error(), int(code))
}
