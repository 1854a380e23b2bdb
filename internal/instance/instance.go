package instance

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
)

// ServiceInstance identifies one backend of a logical service.
// It is immutable once constructed.
type ServiceInstance struct {
	id          string
	serviceName string
	host        string
	port        int
	secure      bool
	url         *url.URL
}

// New creates a ServiceInstance. The base URL is derived from host, port
// and the secure flag.
func New(id, serviceName, host string, port int, secure bool) *ServiceInstance {
	scheme := "http"
	if secure {
		scheme = "https"
	}

	return &ServiceInstance{
		id:          id,
		serviceName: serviceName,
		host:        host,
		port:        port,
		secure:      secure,
		url: &url.URL{
			Scheme: scheme,
			Host:   net.JoinHostPort(host, strconv.Itoa(port)),
		},
	}
}

// ID returns the unique instance identifier.
func (i *ServiceInstance) ID() string {
	return i.id
}

// ServiceName returns the logical service this instance belongs to.
func (i *ServiceInstance) ServiceName() string {
	return i.serviceName
}

// Host returns the instance host.
func (i *ServiceInstance) Host() string {
	return i.host
}

// Port returns the instance port.
func (i *ServiceInstance) Port() int {
	return i.port
}

// Secure reports whether the instance is reached over https.
func (i *ServiceInstance) Secure() bool {
	return i.secure
}

// URL returns a copy of the instance base URL, e.g. http://localhost:8081.
func (i *ServiceInstance) URL() *url.URL {
	u := *i.url
	return &u
}

// Endpoint resolves path against the instance base URL.
func (i *ServiceInstance) Endpoint(path string) string {
	return i.url.ResolveReference(&url.URL{Path: path}).String()
}

func (i *ServiceInstance) String() string {
	return fmt.Sprintf("%s(%s)", i.id, i.url.Host)
}
