// Package instance defines ServiceInstance, the immutable identity of one
// backend process that can handle forwarded payment requests.
package instance
