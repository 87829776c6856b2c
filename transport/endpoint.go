package transport

import (
	"fmt"
	"net"
	"strconv"
)

// Endpoint identifies a single broker: host, port, and the resolved TCP
// address. Immutable after ResolveEndpoint; used as the identity in logs and
// events.
type Endpoint struct {
	Host string
	Port int
	Addr *net.TCPAddr
}

// ResolveEndpoint resolves host:port once, up front. Connect attempts reuse
// the resolved address.
func ResolveEndpoint(host string, port int) (Endpoint, error) {
	if host == "" {
		return Endpoint{}, fmt.Errorf("transport: endpoint host is required")
	}
	if port <= 0 || port > 65535 {
		return Endpoint{}, fmt.Errorf("transport: endpoint port %d out of range", port)
	}
	addr, err := net.ResolveTCPAddr("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return Endpoint{}, fmt.Errorf("transport: resolve %s:%d: %w", host, port, err)
	}
	return Endpoint{Host: host, Port: port, Addr: addr}, nil
}

func (e Endpoint) String() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}
