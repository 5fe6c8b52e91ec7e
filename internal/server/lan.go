package server

import (
	"net"
	"strconv"

	"github.com/jackpal/gateway"
)

// lanAddress returns the address other hosts on the local network can use to
// reach a relay bound to all interfaces on port.
func lanAddress(port int) (string, error) {
	ip, err := gateway.DiscoverInterface()
	if err != nil {
		return "", err
	}
	return net.JoinHostPort(ip.String(), strconv.Itoa(port)), nil
}

func isUnspecifiedHost(host string) bool {
	if host == "" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsUnspecified()
}
