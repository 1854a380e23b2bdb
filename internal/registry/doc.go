// Package registry supplies the candidate instances for a logical service name.
//
// Three implementations share the Registry interface:
//
//   - StaticRegistry: a fixed list loaded from configuration
//   - RedisRegistry: JSON records stored under <prefix>:<service>:<id>
//   - EtcdRegistry: JSON records stored under <service>/<id>
//
// Every ListInstances call returns a fresh slice in a deterministic order
// and has no side effects, so registries are safe for concurrent use.
package registry
