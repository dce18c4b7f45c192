package domain

import "errors"

// ErrStreamInterrupted is the terminal error of an observer stream that was cut
// off (the observer or the shared feed fell behind). The observer must resubscribe.
var ErrStreamInterrupted = errors.New("update stream interrupted, resubscribe")

// ErrTracerClosed is returned when the multiplexer serving a stream shut down.
var ErrTracerClosed = errors.New("tracer closed")

// ErrThreadNotFound is returned when a thread ID cannot be found in the manager.
var ErrThreadNotFound = errors.New("thread not found")

// ErrThreadExists is returned when creating a thread whose ID is already in use.
var ErrThreadExists = errors.New("thread already exists")

// ErrInvalidStack is returned when a call stack cannot be decoded.
var ErrInvalidStack = errors.New("invalid call stack")

// ErrEmptyStack is the panic value (wrapped) of a pop with nothing pushed.
var ErrEmptyStack = errors.New("pop on empty call stack")

// ErrOutOfOrder is the panic value (wrapped) of a finalization that does not
// sort after the previous one.
var ErrOutOfOrder = errors.New("call stack finalized out of order")

// ErrUnknownFunction is returned when a program calls a function it does not define.
var ErrUnknownFunction = errors.New("unknown function")
