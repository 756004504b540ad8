package wsproto

import (
	"bufio"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
)

/*
 * Malformed or rejected upgrade. Aborts this connection attempt
 * only; the listener or reconnect loop carries on.
 */
var ErrHandshake = errors.New("wsproto: handshake failed")

const PROTOCOL_GUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

/*
 * The client side sends a fixed upgrade request; the key is
 * constant because the accept value is never verified back.
 */
const CLIENT_KEY = "dGhlIHNhbXBsZSBub25jZQ=="

const KEY_HEADER = "Sec-WebSocket-Key"
const SWITCHING_PROTOCOLS = "101 Switching Protocols"

const RESPONSE_BUF_SIZE = 1024

func AcceptValue(key string) string {
	digest := sha1.Sum([]byte(key + PROTOCOL_GUID))
	return base64.StdEncoding.EncodeToString(digest[:])
}

/*
 * Validate an upgrade request read from the stream and reply with
 * the switching-protocols response.
 */
func ServerHandshake(reader *bufio.Reader, writer io.Writer) error {
	if _, err := reader.ReadString('\n'); err != nil {
		return fmt.Errorf("%w: reading request line: %v", ErrHandshake, err)
	}

	headers := make(map[string]string)

	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("%w: reading headers: %v", ErrHandshake, err)
		}

		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}

		key, value, found := strings.Cut(line, ": ")
		if !found {
			continue
		}
		headers[key] = value
	}

	key, ok := headers[KEY_HEADER]
	if !ok {
		return fmt.Errorf("%w: missing %s header", ErrHandshake, KEY_HEADER)
	}

	response := "HTTP/1.1 101 Switching Protocols\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Accept: " + AcceptValue(key) + "\r\n\r\n"

	if _, err := io.WriteString(writer, response); err != nil {
		return fmt.Errorf("%w: writing response: %v", ErrHandshake, err)
	}

	return nil
}

/*
 * Send the fixed upgrade request and accept any response that
 * carries the switching-protocols status line.
 */
func ClientHandshake(stream io.ReadWriter, host string) error {
	request := "GET / HTTP/1.1\r\n" +
		"Host: " + host + "\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Key: " + CLIENT_KEY + "\r\n" +
		"Sec-WebSocket-Version: 13\r\n\r\n"

	if _, err := io.WriteString(stream, request); err != nil {
		return fmt.Errorf("%w: writing request: %v", ErrHandshake, err)
	}

	buf := make([]byte, RESPONSE_BUF_SIZE)
	n, err := stream.Read(buf)

	if err != nil {
		return fmt.Errorf("%w: reading response: %v", ErrHandshake, err)
	}

	if !strings.Contains(string(buf[:n]), SWITCHING_PROTOCOLS) {
		return fmt.Errorf("%w: server did not switch protocols", ErrHandshake)
	}

	return nil
}
