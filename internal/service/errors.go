package service

import (
	"errors"
	"fmt"

	"github.com/localhub/internal/logger"
	"github.com/localhub/internal/repository"
	"github.com/localhub/internal/room"
)

var (
	ErrInvalidArgument      = errors.New("invalid argument")
	ErrUnauthorized         = errors.New("unauthorized")
	ErrNotFound             = errors.New("not found")
	ErrStorageInconsistency = errors.New("storage inconsistency")
)

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

// roomErr wraps a resolver failure as InvalidArgument.
func roomErr(err error) error {
	if errors.Is(err, room.ErrInvalidParticipant) {
		return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	return err
}

// storeErr translates a repository failure: missing rows become NotFound, the rest is logged
// and returned as an opaque failure.
func storeErr(op string, err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	logger.Errorf("%s: %v", op, err)
	return fmt.Errorf("%s: %w", op, err)
}

// Code is the stable error code sent to transport clients.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrInvalidArgument):
		return "invalid_argument"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	default:
		return "internal"
	}
}

// PublicMessage hides internal failures from clients.
func PublicMessage(err error) string {
	if Code(err) == "internal" {
		return "internal error"
	}
	return err.Error()
}
