// Package retry wraps a single-attempt forwarder in a bounded retry loop with
// exponential backoff.
//
// The Controller is an explicit state machine:
//
//	Attempting(n) --success--------------------------> Succeeded
//	Attempting(n) --transient failure, n < max--wait-> Attempting(n+1)
//	Attempting(n) --transient failure, n == max------> Exhausted
//	Attempting(n) --terminal failure or cancel-------> Aborted
//
// An instance is selected again before every attempt, so retries can route
// around a single bad instance. The wait after the n-th failed attempt is
// BaseDelay * 2^(n-1). Waits are timers raced against the request context and
// never block other requests.
//
// Only two things leave the controller: a response body, or an error. Terminal
// routing failures are *ServiceError values carrying the HTTP status to
// surface; a cancelled request yields the context error.
package retry
