package pairing

import (
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/xyproto/randomstring"
)

var localIP string

/*
 * Identity of the local board as carried in discovery datagrams.
 */
type Identity struct {
	Hostname string
	IP       string
	MAC      string
}

/*
 * Fetch the local IP address of the machine.
 * If the IP address has already been fetched, the function returns the cached value.
 * This code is adapted from: https://github.com/TTK4145/Network-go/blob/master/network/localip/localip.go
 */
func LocalIP() (string, error) {
	if localIP == "" {
		conn, err := net.DialTCP("tcp4", nil, &net.TCPAddr{IP: []byte{8, 8, 8, 8}, Port: 53})
		if err != nil {
			return "", err
		}
		defer conn.Close()
		localIP = strings.Split(conn.LocalAddr().String(), ":")[0]
	}
	return localIP, nil
}

/*
 * Resolve the board's identity. The hostname falls back to a
 * generated suffix when the OS reports nothing usable.
 */
func LocalIdentity() (Identity, error) {
	ip, err := LocalIP()

	if err != nil {
		return Identity{}, fmt.Errorf("pairing: resolving local ip: %w", err)
	}

	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "liftbank-" + randomstring.EnglishFrequencyString(6)
	}

	return Identity{
		Hostname: hostname,
		IP:       ip,
		MAC:      localMAC(),
	}, nil
}

func localMAC() string {
	interfaces, err := net.Interfaces()

	if err != nil {
		return ""
	}

	for _, iface := range interfaces {
		if iface.Flags&net.FlagLoopback != 0 || len(iface.HardwareAddr) == 0 {
			continue
		}

		var mac strings.Builder
		for _, b := range iface.HardwareAddr {
			fmt.Fprintf(&mac, "%02x", b)
		}

		return mac.String()
	}

	return ""
}
