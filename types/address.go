package types

import (
	"net"
	"strconv"
)

// PeerAddress identifies a peer endpoint. It is the directory's registry key
// and the identity of a subscriber in a hosted topic.
type PeerAddress struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// String renders the address as host:port.
func (a PeerAddress) String() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}

// IsZero reports whether the address is unset.
func (a PeerAddress) IsZero() bool {
	return a.Host == "" && a.Port == 0
}

// HostOf returns the host part of a host:port string, or the input itself
// when it has no port.
func HostOf(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
