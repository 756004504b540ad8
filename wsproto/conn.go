package wsproto

import (
	"bufio"
	"crypto/rand"
	"net"
	"sync"
)

/*
 * A framed connection over an upgraded byte stream. Reads are
 * single-owner; writes are serialised so concurrent responders
 * can share the connection.
 */
type Conn struct {
	conn    net.Conn
	reader  *bufio.Reader
	writeMu sync.Mutex
	masked  bool
}

/*
 * Upgrade an accepted stream: validate the client's request and
 * wrap the stream. Server frames are sent unmasked.
 */
func Server(conn net.Conn) (*Conn, error) {
	reader := bufio.NewReader(conn)

	if err := ServerHandshake(reader, conn); err != nil {
		return nil, err
	}

	return &Conn{conn: conn, reader: reader}, nil
}

/*
 * Upgrade a dialed stream from the client side. Client frames are
 * masked with a fresh key per frame.
 */
func Client(conn net.Conn, host string) (*Conn, error) {
	if err := ClientHandshake(conn, host); err != nil {
		return nil, err
	}

	return &Conn{conn: conn, reader: bufio.NewReader(conn), masked: true}, nil
}

/*
 * Read the next text message, skipping frames of any other opcode.
 */
func (c *Conn) ReadMessage() (string, error) {
	for {
		payload, isText, err := ReadFrame(c.reader)

		if err != nil {
			return "", err
		}

		if !isText {
			continue
		}

		return payload, nil
	}
}

func (c *Conn) WriteMessage(payload string) error {
	var maskKey []byte

	if c.masked {
		maskKey = make([]byte, 4)
		if _, err := rand.Read(maskKey); err != nil {
			return err
		}
	}

	frame := EncodeFrame(payload, maskKey)

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_, err := c.conn.Write(frame)
	return err
}

func (c *Conn) Close() error {
	return c.conn.Close()
}
