package wsproto

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

/*
 * Peer dropped the byte stream. Ends the current session attempt
 * and hands control back to the reconnect loop.
 */
var ErrConnectionClosed = errors.New("wsproto: connection closed")

const OPCODE_TEXT = 0x1

const FIN_BIT = 0x80
const MASK_BIT = 0x80

const LEN_16_BIT = 126
const LEN_64_BIT = 127

const MAX_DIRECT_LEN = 125
const MAX_16_BIT_LEN = 65535

/*
 * Encode one complete text frame. A 4-byte key masks the payload
 * (client to server direction); nil key leaves it unmasked.
 */
func EncodeFrame(payload string, maskKey []byte) []byte {
	data := []byte(payload)
	frame := make([]byte, 0, len(data)+14)

	frame = append(frame, FIN_BIT|OPCODE_TEXT)

	maskFlag := byte(0)
	if maskKey != nil {
		maskFlag = MASK_BIT
	}

	switch {
	case len(data) <= MAX_DIRECT_LEN:
		frame = append(frame, maskFlag|byte(len(data)))

	case len(data) <= MAX_16_BIT_LEN:
		frame = append(frame, maskFlag|LEN_16_BIT)
		frame = binary.BigEndian.AppendUint16(frame, uint16(len(data)))

	default:
		frame = append(frame, maskFlag|LEN_64_BIT)
		frame = binary.BigEndian.AppendUint64(frame, uint64(len(data)))
	}

	if maskKey != nil {
		frame = append(frame, maskKey...)
		data = maskPayload(data, maskKey)
	}

	return append(frame, data...)
}

/*
 * XOR each payload byte with key[i mod 4]. Symmetric, so the same
 * call masks and unmasks.
 */
func maskPayload(data []byte, key []byte) []byte {
	masked := make([]byte, len(data))

	for i := range data {
		masked[i] = data[i] ^ key[i%4]
	}

	return masked
}

/*
 * Read one frame from the stream. Non-text opcodes yield
 * isText=false and no payload; the caller keeps reading.
 * A dead stream is reported as ErrConnectionClosed.
 */
func ReadFrame(reader io.Reader) (payload string, isText bool, err error) {
	header := make([]byte, 2)
	if _, err := io.ReadFull(reader, header); err != nil {
		return "", false, fmt.Errorf("%w: %v", ErrConnectionClosed, err)
	}

	opcode := header[0] & 0x0F
	masked := header[1]&MASK_BIT != 0
	length := uint64(header[1] & 0x7F)

	switch length {
	case LEN_16_BIT:
		ext := make([]byte, 2)
		if _, err := io.ReadFull(reader, ext); err != nil {
			return "", false, fmt.Errorf("%w: %v", ErrConnectionClosed, err)
		}
		length = uint64(binary.BigEndian.Uint16(ext))

	case LEN_64_BIT:
		ext := make([]byte, 8)
		if _, err := io.ReadFull(reader, ext); err != nil {
			return "", false, fmt.Errorf("%w: %v", ErrConnectionClosed, err)
		}
		length = binary.BigEndian.Uint64(ext)
	}

	var maskKey []byte
	if masked {
		maskKey = make([]byte, 4)
		if _, err := io.ReadFull(reader, maskKey); err != nil {
			return "", false, fmt.Errorf("%w: %v", ErrConnectionClosed, err)
		}
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(reader, data); err != nil {
		return "", false, fmt.Errorf("%w: %v", ErrConnectionClosed, err)
	}

	if masked {
		data = maskPayload(data, maskKey)
	}

	if opcode != OPCODE_TEXT {
		return "", false, nil
	}

	return string(data), true, nil
}
