package relay

import (
	"errors"
	"fmt"
)

var (
	// ErrCapacityExceeded is returned by Table.Admit when every slot is taken.
	ErrCapacityExceeded = errors.New("connection table at capacity")
	// ErrInvalidSlot is returned for a slot outside 0..active-1.
	ErrInvalidSlot = errors.New("invalid connection slot")
)

// SetupError is a fatal failure while creating the listening socket.
type SetupError struct {
	Op   string // socket, setsockopt, bind, listen
	Addr string
	Err  error
}

func (e *SetupError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Addr, e.Err)
}

func (e *SetupError) Unwrap() error { return e.Err }

// PollError is an unrecoverable readiness-wait failure; the loop exits on it.
type PollError struct {
	Err error
}

func (e *PollError) Error() string { return "poll: " + e.Err.Error() }

func (e *PollError) Unwrap() error { return e.Err }
