// Package loadbalancer combines an instance registry with a selection
// strategy. It is the instance selector consulted on every forwarding attempt.
package loadbalancer
