// Package errors provides the classified error handling used across the broker.
//
// Errors fall into three classes: Transient (temporary, the caller may retry),
// Invalid (bad input, never retry) and Fatal (unrecoverable, stop processing).
// The Wrap family builds messages in the form
//
//	"Component.Method: action failed: cause"
//
// and keeps the original error reachable through errors.Is / errors.As:
//
//	if err := endpoint.Update(ctx, req); err != nil {
//	    return errors.WrapTransient(errors.ErrEndpointFailure, "Scheduler", "applyUpdate", err.Error())
//	}
//
// Broker-level conditions have sentinel values (ErrInvalidRequest,
// ErrEndpointFailure, ErrSubscriptionNotFound). Authorization failures are not
// represented here; they are RFC 6749 coded errors owned by the dependability
// package and never travel past the gate.
//
// Context errors (context.DeadlineExceeded, context.Canceled) classify as
// Transient, so an endpoint timeout is handled exactly like a refused
// connection.
package errors
