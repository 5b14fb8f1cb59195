package client

import "errors"

var (
	// ErrNotCancelable rejects every cancellation attempt: once a request is
	// sent the worker may already be executing it, and the protocol has no
	// cancellation message. The call's eventual resolution is unaffected.
	ErrNotCancelable = errors.New("client: pending calls cannot be canceled")

	// ErrClosed fails calls that were still pending when an orderly close
	// tore the worker down, and submissions attempted after close.
	ErrClosed = errors.New("client: worker closed")

	// ErrWorkerFault fails calls that were still pending when the worker
	// process terminated without an orderly close.
	ErrWorkerFault = errors.New("client: worker terminated without replying")

	// ErrUnknownOperation fails a dispatch of a name that is neither in the
	// proxied type's method set nor a plain attribute access.
	ErrUnknownOperation = errors.New("client: unknown operation")

	// ErrReservedName fails attempts to forward the protocol's reserved
	// names as application operations.
	ErrReservedName = errors.New("client: reserved name")
)
