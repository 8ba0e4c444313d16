package codec

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
)

// Gzip compresses data for archive blobs.
func Gzip(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("codec: gzip write: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("codec: gzip close: %w", err)
	}
	return buf.Bytes(), nil
}

// Gunzip reverses Gzip.
func Gunzip(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("codec: gzip reader: %w", err)
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("codec: gzip read: %w", err)
	}
	return out, nil
}

// HexPair is one [key, hex(value)] entry of the wire representation
// of a bitmap log shard (an ordered list of such pairs), matching the JS
// implementation's serializeForCloud() output and the backup file's
// monthlyLogsSerialized field. Kept here (rather than in bitmap) since
// it is purely a transport concern — the Go side never needs a
// BigInt/Map tagging envelope, unlike the structured-clone boundary
// the original crosses (see DESIGN.md).
type HexPair [2]string
