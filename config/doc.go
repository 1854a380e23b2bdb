// Package config handles loading and parsing of configuration from YAML files
// and environment variables. It defines the router configuration: listen
// address, the downstream service and path, the retry policy, the instance
// registry backend and its static instance list, logging and metrics.
//
// The loaded Config is validated once and then passed by value into
// constructors; nothing reads configuration from global state afterwards.
package config
