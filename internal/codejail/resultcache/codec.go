package resultcache

import (
	"bytes"
	"encoding/json"
	"fmt"

	"capajail/internal/codejail/canon"

	"github.com/klauspost/compress/zstd"
)

// Stored values start with a one-byte tag naming their encoding.
const (
	tagJSON byte = 'j'
	tagZstd byte = 'z'
)

var (
	encoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	decoder, _ = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(64<<20))
)

// encodeEntry renders entry as the JSON pair [emsg, globals].
func encodeEntry(entry Entry, threshold int) ([]byte, error) {
	globals := canon.JSONSafe(entry.Globals)
	body, err := json.Marshal([]any{entry.Emsg, globals})
	if err != nil {
		return nil, err
	}
	if threshold >= 0 && len(body) > threshold {
		out := make([]byte, 1, len(body)/2)
		out[0] = tagZstd
		return encoder.EncodeAll(body, out), nil
	}
	out := make([]byte, 0, len(body)+1)
	out = append(out, tagJSON)
	return append(out, body...), nil
}

func decodeEntry(raw []byte) (Entry, error) {
	if len(raw) == 0 {
		return Entry{}, fmt.Errorf("empty value")
	}
	body := raw[1:]
	switch raw[0] {
	case tagJSON:
	case tagZstd:
		var err error
		body, err = decoder.DecodeAll(body, nil)
		if err != nil {
			return Entry{}, fmt.Errorf("zstd: %w", err)
		}
	default:
		return Entry{}, fmt.Errorf("unknown value tag %q", raw[0])
	}

	var pair []json.RawMessage
	if err := json.Unmarshal(body, &pair); err != nil {
		return Entry{}, err
	}
	if len(pair) != 2 {
		return Entry{}, fmt.Errorf("expected 2 elements, got %d", len(pair))
	}
	var emsg *string
	if err := json.Unmarshal(pair[0], &emsg); err != nil {
		return Entry{}, fmt.Errorf("emsg: %w", err)
	}
	globals := map[string]any{}
	if !bytes.Equal(bytes.TrimSpace(pair[1]), []byte("null")) {
		decoded, err := canon.Decode(pair[1])
		if err != nil {
			return Entry{}, fmt.Errorf("globals: %w", err)
		}
		globals = decoded
	}
	return Entry{Emsg: emsg, Globals: globals}, nil
}
