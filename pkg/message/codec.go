package message

import (
	"bytes"
	"compress/zlib"
	"encoding/gob"
	"fmt"
	"io"
)

// Serialize encodes the message with gob and compresses it with zlib, the
// format the file store writes to disk.
func (m *Message) Serialize() ([]byte, error) {
	var buf bytes.Buffer
	zw, err := zlib.NewWriterLevel(&buf, zlib.BestCompression)
	if err != nil {
		return nil, err
	}
	if err := gob.NewEncoder(zw).Encode(m); err != nil {
		return nil, fmt.Errorf("encoding message %q: %w", m.HexID(), err)
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Deserialize decodes a blob produced by Serialize.  Truncated or corrupt
// input yields an error, never a partial message.
func Deserialize(blob []byte) (*Message, error) {
	zr, err := zlib.NewReader(bytes.NewReader(blob))
	if err != nil {
		return nil, fmt.Errorf("decompressing message blob: %w", err)
	}
	m := &Message{}
	if err := gob.NewDecoder(zr).Decode(m); err != nil {
		return nil, fmt.Errorf("decoding message blob: %w", err)
	}
	// Drain so the zlib checksum is verified.
	if _, err := io.Copy(io.Discard, zr); err != nil {
		return nil, fmt.Errorf("verifying message blob: %w", err)
	}
	if err := zr.Close(); err != nil {
		return nil, err
	}
	return m, nil
}
