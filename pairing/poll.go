package pairing

import (
	"encoding/json"
	"net"
	"time"
)

/*
 * One non-blocking poll of the datagram socket. Absence of data
 * within the step is a normal result (ok=false, nil error), never
 * a fault, so polling loops stay free of error-driven control flow.
 */
func pollDatagram(conn net.PacketConn, step time.Duration) (Datagram, net.Addr, bool, error) {
	deadline := time.Now().Add(step)
	if err := conn.SetReadDeadline(deadline); err != nil {
		return Datagram{}, nil, false, err
	}

	buffer := make([]byte, BUFFER_SIZE)
	n, addr, err := conn.ReadFrom(buffer)

	if err != nil {
		if nErr, ok := err.(net.Error); ok && nErr.Timeout() {
			return Datagram{}, nil, false, nil
		}

		return Datagram{}, nil, false, err
	}

	var dgram Datagram
	if err := json.Unmarshal(buffer[:n], &dgram); err != nil {
		/*
		 * Discard datagrams we cannot parse
		 */
		return Datagram{}, nil, false, nil
	}

	return dgram, addr, true, nil
}
