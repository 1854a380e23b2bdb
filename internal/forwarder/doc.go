// Package forwarder delivers a routing request to one selected instance over
// HTTP. A call is exactly one network attempt; retrying is left to the caller.
//
// Failures are returned as *Error and classified by Kind:
//
//   - ConnectionFailure: the instance could not be reached
//   - Timeout: the attempt exceeded its deadline
//   - ResponseError: the instance answered with a non-2xx status
//
// Cancellation of the caller's context is returned as the context error and is
// never classified, so it cannot be mistaken for a transient failure.
package forwarder
