// Package handler implements the HTTP surface of the router. RouteHandler
// bounds and validates the inbound body, hands it to the retry controller
// and maps the outcome to a status code and a JSON message. Home serves the
// liveness endpoint.
package handler
