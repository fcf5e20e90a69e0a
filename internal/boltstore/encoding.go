package boltstore

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/roach88/livedb/internal/ir"
)

// storedItem is the value of one row in a bucket.
type storedItem struct {
	VersionKey string         `msgpack:"v"`
	Data       map[string]any `msgpack:"d"`
}

// EncodeKey renders a row key as a bucket key: "n:<int>" or "s:<string>".
func EncodeKey(k ir.Key) ([]byte, error) {
	switch v := k.(type) {
	case ir.IRInt:
		return []byte("n:" + strconv.FormatInt(int64(v), 10)), nil
	case ir.IRString:
		return []byte("s:" + string(v)), nil
	default:
		return nil, fmt.Errorf("boltstore: %w", ir.ValidateKey(k))
	}
}

// DecodeKey is the inverse of EncodeKey.
func DecodeKey(b []byte) (ir.Key, error) {
	s := string(b)
	switch {
	case strings.HasPrefix(s, "n:"):
		n, err := strconv.ParseInt(s[2:], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("boltstore: invalid numeric key %q: %w", s, err)
		}
		return ir.IRInt(n), nil
	case strings.HasPrefix(s, "s:"):
		return ir.IRString(s[2:]), nil
	default:
		return nil, fmt.Errorf("boltstore: invalid key %q", s)
	}
}

func encodeItem(versionKey string, row ir.IRObject) ([]byte, error) {
	item := storedItem{VersionKey: versionKey, Data: ir.ToAny(row).(map[string]any)}

	var buf bytes.Buffer
	enc := msgpack.GetEncoder()
	enc.Reset(&buf)
	enc.SetSortMapKeys(true)
	err := enc.Encode(&item)
	msgpack.PutEncoder(enc)
	if err != nil {
		return nil, fmt.Errorf("boltstore: encode: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeItem(b []byte) (string, ir.IRObject, error) {
	var item storedItem
	dec := msgpack.GetDecoder()
	dec.Reset(bytes.NewReader(b))
	err := dec.Decode(&item)
	msgpack.PutDecoder(dec)
	if err != nil {
		return "", nil, fmt.Errorf("boltstore: decode: %w", err)
	}
	if item.VersionKey == "" {
		return "", nil, fmt.Errorf("boltstore: decode: value has no version key")
	}

	row, err := ir.ObjectFromMap(item.Data)
	if err != nil {
		return "", nil, fmt.Errorf("boltstore: decode: %w", err)
	}
	return item.VersionKey, row, nil
}
