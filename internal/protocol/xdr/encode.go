// Package xdr implements the XDR (RFC 4506) primitives for the wire
// protocol's fixed-layout messages: the call and reply headers that prefix
// every frame are hand-assembled from these helpers, while typed request
// and reply bodies go through github.com/rasky/go-xdr reflection.
package xdr

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// WriteString encodes a string: length + bytes + padding to a 4-byte
// boundary (RFC 4506 section 4.11).
//
// Example: "abc" (3 bytes) → [00 00 00 03][61 62 63][00]
func WriteString(buf *bytes.Buffer, s string) error {
	length := uint32(len(s))
	if err := binary.Write(buf, binary.BigEndian, length); err != nil {
		return fmt.Errorf("write string length: %w", err)
	}
	if _, err := buf.WriteString(s); err != nil {
		return fmt.Errorf("write string data: %w", err)
	}
	return WritePadding(buf, length)
}

// WritePadding writes the zero bytes needed to align dataLen to a 4-byte
// boundary: (4 - dataLen%4) % 4 bytes, so 0 to 3 of them.
func WritePadding(buf *bytes.Buffer, dataLen uint32) error {
	padding := (4 - (dataLen % 4)) % 4
	if padding > 0 {
		if _, err := buf.Write(make([]byte, padding)); err != nil {
			return fmt.Errorf("write padding: %w", err)
		}
	}
	return nil
}

// WriteUint32 encodes a 32-bit unsigned integer in big-endian byte order.
func WriteUint32(buf *bytes.Buffer, v uint32) error {
	if err := binary.Write(buf, binary.BigEndian, v); err != nil {
		return fmt.Errorf("write uint32: %w", err)
	}
	return nil
}

// WriteInt64 encodes a 64-bit signed integer (two's complement, big-endian).
func WriteInt64(buf *bytes.Buffer, v int64) error {
	if err := binary.Write(buf, binary.BigEndian, v); err != nil {
		return fmt.Errorf("write int64: %w", err)
	}
	return nil
}
