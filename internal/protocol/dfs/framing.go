package dfs

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	xdr "github.com/rasky/go-xdr/xdr2"

	internalxdr "github.com/mirrorfs/mirrorfs/internal/protocol/xdr"
)

// Record marking: every frame is preceded by a 4-byte big-endian marker.
// Bit 31 is the LAST flag; the low 31 bits are the payload length. Call and
// reply messages are single frames with LAST set. File content is a run of
// chunk frames whose final frame sets LAST.
const (
	lastFragmentBit = 0x80000000
	lengthMask      = 0x7FFFFFFF

	// maxFrameSize bounds a single frame. Listings of large directories are
	// the biggest messages on this wire; chunks are far below this.
	maxFrameSize = 1 << 20
)

// WriteFrame writes one record-marked frame.
func WriteFrame(w io.Writer, payload []byte, last bool) error {
	if len(payload) > maxFrameSize {
		return fmt.Errorf("frame payload %d exceeds maximum %d", len(payload), maxFrameSize)
	}

	marker := uint32(len(payload))
	if last {
		marker |= lastFragmentBit
	}

	var header [4]byte
	binary.BigEndian.PutUint32(header[:], marker)
	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("write frame header: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("write frame payload: %w", err)
	}
	return nil
}

// ReadFrame reads one record-marked frame, returning its payload and
// whether the LAST flag was set.
func ReadFrame(r io.Reader) ([]byte, bool, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if err == io.EOF {
			return nil, false, io.EOF
		}
		return nil, false, fmt.Errorf("read frame header: %w", err)
	}

	marker := binary.BigEndian.Uint32(header[:])
	last := marker&lastFragmentBit != 0
	length := marker & lengthMask

	if length > maxFrameSize {
		return nil, false, fmt.Errorf("frame length %d exceeds maximum %d", length, maxFrameSize)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, false, fmt.Errorf("read frame payload: %w", err)
	}
	return payload, last, nil
}

// WriteCall assembles a call header and request body into a single frame.
// The header has a fixed layout and is hand-encoded; the typed request body
// goes through reflection-based marshalling.
func WriteCall(w io.Writer, header *CallHeader, req any) error {
	var buf bytes.Buffer
	if err := writeCallHeader(&buf, header); err != nil {
		return err
	}
	if req != nil {
		if _, err := xdr.Marshal(&buf, req); err != nil {
			return fmt.Errorf("marshal %s request: %w", ProcName(header.Proc), err)
		}
	}
	return WriteFrame(w, buf.Bytes(), true)
}

func writeCallHeader(buf *bytes.Buffer, header *CallHeader) error {
	if err := internalxdr.WriteUint32(buf, header.XID); err != nil {
		return fmt.Errorf("encode call header: %w", err)
	}
	if err := internalxdr.WriteUint32(buf, header.Proc); err != nil {
		return fmt.Errorf("encode call header: %w", err)
	}
	if err := internalxdr.WriteInt64(buf, header.DeadlineUnixMilli); err != nil {
		return fmt.Errorf("encode call header: %w", err)
	}
	return nil
}

// ReadCall reads a call frame and decodes its header. The remainder of the
// frame (the request body) is returned for per-procedure decoding.
func ReadCall(r io.Reader) (*CallHeader, *bytes.Reader, error) {
	payload, _, err := ReadFrame(r)
	if err != nil {
		if err == io.EOF {
			return nil, nil, io.EOF
		}
		return nil, nil, fmt.Errorf("read call frame: %w", err)
	}

	body := bytes.NewReader(payload)
	header := &CallHeader{}
	if header.XID, err = internalxdr.DecodeUint32(body); err != nil {
		return nil, nil, fmt.Errorf("decode call header: %w", err)
	}
	if header.Proc, err = internalxdr.DecodeUint32(body); err != nil {
		return nil, nil, fmt.Errorf("decode call header: %w", err)
	}
	if header.DeadlineUnixMilli, err = internalxdr.DecodeInt64(body); err != nil {
		return nil, nil, fmt.Errorf("decode call header: %w", err)
	}
	return header, body, nil
}

// DecodeRequest unmarshals a procedure request body.
func DecodeRequest(body *bytes.Reader, req any) error {
	if _, err := xdr.Unmarshal(body, req); err != nil {
		return fmt.Errorf("unmarshal request body: %w", err)
	}
	return nil
}

// WriteReply assembles a reply header and body into a single frame. A nil
// body sends the header alone (error replies, empty replies).
func WriteReply(w io.Writer, xid uint32, status Status, message string, body any) error {
	var buf bytes.Buffer
	if err := internalxdr.WriteUint32(&buf, xid); err != nil {
		return fmt.Errorf("encode reply header: %w", err)
	}
	if err := internalxdr.WriteUint32(&buf, uint32(status)); err != nil {
		return fmt.Errorf("encode reply header: %w", err)
	}
	if err := internalxdr.WriteString(&buf, message); err != nil {
		return fmt.Errorf("encode reply header: %w", err)
	}
	if body != nil {
		if _, err := xdr.Marshal(&buf, body); err != nil {
			return fmt.Errorf("marshal reply body: %w", err)
		}
	}
	return WriteFrame(w, buf.Bytes(), true)
}

// ReadReply reads a reply frame and decodes the header. When the status is
// OK and into is non-nil, the body is decoded into it. Non-OK replies
// surface as StatusError.
func ReadReply(r io.Reader, into any) (*ReplyHeader, error) {
	payload, _, err := ReadFrame(r)
	if err != nil {
		return nil, fmt.Errorf("read reply frame: %w", err)
	}

	body := bytes.NewReader(payload)
	header := &ReplyHeader{}
	if header.XID, err = internalxdr.DecodeUint32(body); err != nil {
		return nil, fmt.Errorf("decode reply header: %w", err)
	}
	if header.Status, err = internalxdr.DecodeUint32(body); err != nil {
		return nil, fmt.Errorf("decode reply header: %w", err)
	}
	if header.Message, err = internalxdr.DecodeString(body); err != nil {
		return nil, fmt.Errorf("decode reply header: %w", err)
	}

	if Status(header.Status) != StatusOK {
		return header, &StatusError{Status: Status(header.Status), Message: header.Message}
	}

	if into != nil {
		if _, err := xdr.Unmarshal(body, into); err != nil {
			return nil, fmt.Errorf("unmarshal reply body: %w", err)
		}
	}
	return header, nil
}

// WriteChunk writes one chunk frame of file content. The final chunk of a
// stream must set last; an empty file is a single empty last frame.
func WriteChunk(w io.Writer, data []byte, last bool) error {
	return WriteFrame(w, data, last)
}

// ReadChunk reads one chunk frame.
func ReadChunk(r io.Reader) ([]byte, bool, error) {
	return ReadFrame(r)
}
