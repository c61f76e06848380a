package speedtest

import (
	"fmt"
	"net"
)

// interfaceIP returns the address speedtest-cli should bind to for iface,
// preferring IPv4.
func interfaceIP(iface string) (string, error) {
	ifi, err := net.InterfaceByName(iface)
	if err != nil {
		return "", err
	}
	addrs, err := ifi.Addrs()
	if err != nil {
		return "", fmt.Errorf("list addresses: %w", err)
	}

	var fallback string
	for _, addr := range addrs {
		ipnet, ok := addr.(*net.IPNet)
		if !ok || ipnet.IP.IsLinkLocalUnicast() {
			continue
		}
		if ipnet.IP.To4() != nil {
			return ipnet.IP.String(), nil
		}
		if fallback == "" {
			fallback = ipnet.IP.String()
		}
	}
	if fallback == "" {
		return "", fmt.Errorf("interface %s has no usable address", iface)
	}
	return fallback, nil
}
