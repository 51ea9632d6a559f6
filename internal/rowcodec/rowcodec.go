// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

// Package rowcodec decodes the self-describing key-value records stored in
// RAW pages of a MindRecord shard. The streaming engine only sees the Codec
// interface, so the record encoding stays pluggable.
//
// Type behavior shared by both codecs:
//   - All integer widths decode to int64
//   - float32 decodes to float64
//   - Maps decode as map[string]any, recursively normalized
//   - string, bool, []byte, nil are preserved exactly
package rowcodec

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
	"github.com/vmihailenco/msgpack/v5"
)

// ErrDecode indicates a record payload could not be decoded.
var ErrDecode = errors.New("rowcodec: decode failed")

// Codec encodes and decodes one self-describing record. Encode exists for
// dataset construction in fixtures and tooling; the read path only decodes.
type Codec interface {
	Decode(data []byte) (map[string]any, error)
	Encode(record map[string]any) ([]byte, error)
}

// MsgPack returns the MessagePack codec. This is the encoding MindRecord
// writers use for RAW pages.
func MsgPack() Codec { return msgpackCodec{} }

type msgpackCodec struct{}

func (msgpackCodec) Decode(data []byte) (map[string]any, error) {
	var record map[string]any
	if err := msgpack.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("%w: msgpack: %w", ErrDecode, err)
	}
	return normalizeMap(record), nil
}

func (msgpackCodec) Encode(record map[string]any) ([]byte, error) {
	data, err := msgpack.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("rowcodec: msgpack encode: %w", err)
	}
	return data, nil
}

// CBOR returns a CBOR codec with encode and decode modes configured to
// preserve Row-style data.
func CBOR() (Codec, error) {
	encMode, err := cbor.EncOptions{
		Sort:          cbor.SortNone,
		ShortestFloat: cbor.ShortestFloatNone,
		BigIntConvert: cbor.BigIntConvertNone,
		TimeTag:       cbor.EncTagNone,
	}.EncMode()
	if err != nil {
		return nil, fmt.Errorf("rowcodec: cbor encoder: %w", err)
	}
	decMode, err := cbor.DecOptions{
		IntDec:         cbor.IntDecConvertSigned,
		DefaultMapType: reflect.TypeOf(map[string]any{}),
		UTF8:           cbor.UTF8DecodeInvalid,
	}.DecMode()
	if err != nil {
		return nil, fmt.Errorf("rowcodec: cbor decoder: %w", err)
	}
	return cborCodec{enc: encMode, dec: decMode}, nil
}

type cborCodec struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

func (c cborCodec) Decode(data []byte) (map[string]any, error) {
	var record map[string]any
	if err := c.dec.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("%w: cbor: %w", ErrDecode, err)
	}
	return normalizeMap(record), nil
}

func (c cborCodec) Encode(record map[string]any) ([]byte, error) {
	data, err := c.enc.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("rowcodec: cbor encode: %w", err)
	}
	return data, nil
}

// normalizeMap collapses integer and float widths so label maps compare
// equal regardless of which writer encoded them.
func normalizeMap(record map[string]any) map[string]any {
	for k, v := range record {
		record[k] = normalizeValue(v)
	}
	return record
}

func normalizeValue(v any) any {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int8:
		return int64(n)
	case int16:
		return int64(n)
	case int32:
		return int64(n)
	case uint:
		return int64(n)
	case uint8:
		return int64(n)
	case uint16:
		return int64(n)
	case uint32:
		return int64(n)
	case uint64:
		return int64(n)
	case float32:
		return float64(n)
	case map[string]any:
		return normalizeMap(n)
	case []any:
		for i := range n {
			n[i] = normalizeValue(n[i])
		}
		return n
	default:
		return v
	}
}
