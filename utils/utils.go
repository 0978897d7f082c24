package utils

import (
	"fmt"
	"net"
	"os"
	"path/filepath"

	sockaddr "github.com/hashicorp/go-sockaddr"
)

// EnsurePath is used to make sure a path exists
func EnsurePath(path string, dir bool) error {
	if !dir {
		path = filepath.Dir(path)
	}
	return os.MkdirAll(path, 0755)
}

// AdvertiseHost returns the host other processes should use to reach a
// listener bound to host. Wildcard binds are replaced by the first private
// IP of the machine.
func AdvertiseHost(host string) (string, error) {
	if host != "" && host != "0.0.0.0" && host != "::" {
		return host, nil
	}
	ip, err := sockaddr.GetPrivateIP()
	if err != nil {
		return "", fmt.Errorf("failed to get private IP: %w", err)
	}
	if ip == "" {
		return "", fmt.Errorf("no private IP found, set an explicit host")
	}
	return ip, nil
}

// SplitHostPort is net.SplitHostPort with the port parsed as an int
func SplitHostPort(address string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(address)
	if err != nil {
		return "", 0, err
	}
	port, err := net.LookupPort("tcp", portStr)
	if err != nil {
		return "", 0, err
	}
	return host, port, nil
}
