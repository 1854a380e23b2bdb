// Package strategy defines the instance selection interface and its
// implementations:
//
//   - Round Robin: sequential distribution across the candidate set
//   - Random: uniform random choice
//
// Strategies are stateless with respect to the set itself. They are handed a
// fresh candidate set on every call, so a retried request can land on a
// different instance than the attempt that failed.
package strategy
