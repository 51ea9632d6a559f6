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

package rowcodec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func codecs(t *testing.T) map[string]Codec {
	t.Helper()
	cborCodec, err := CBOR()
	require.NoError(t, err)
	return map[string]Codec{
		"msgpack": MsgPack(),
		"cbor":    cborCodec,
	}
}

func TestRoundTripNormalizesTypes(t *testing.T) {
	record := map[string]any{
		"label":  int32(7),
		"score":  float32(0.5),
		"name":   "sample",
		"flag":   true,
		"pixels": []byte{0x01, 0x02},
	}

	for name, c := range codecs(t) {
		t.Run(name, func(t *testing.T) {
			data, err := c.Encode(record)
			require.NoError(t, err)

			got, err := c.Decode(data)
			require.NoError(t, err)

			assert.Equal(t, int64(7), got["label"])
			assert.Equal(t, float64(0.5), got["score"])
			assert.Equal(t, "sample", got["name"])
			assert.Equal(t, true, got["flag"])
			assert.Equal(t, []byte{0x01, 0x02}, got["pixels"])
		})
	}
}

func TestNestedNormalization(t *testing.T) {
	record := map[string]any{
		"meta": map[string]any{"width": uint16(640)},
		"ids":  []any{int8(1), uint32(2)},
	}

	for name, c := range codecs(t) {
		t.Run(name, func(t *testing.T) {
			data, err := c.Encode(record)
			require.NoError(t, err)
			got, err := c.Decode(data)
			require.NoError(t, err)

			meta, ok := got["meta"].(map[string]any)
			require.True(t, ok)
			assert.Equal(t, int64(640), meta["width"])

			ids, ok := got["ids"].([]any)
			require.True(t, ok)
			assert.Equal(t, []any{int64(1), int64(2)}, ids)
		})
	}
}

func TestDecodeGarbage(t *testing.T) {
	for name, c := range codecs(t) {
		t.Run(name, func(t *testing.T) {
			_, err := c.Decode([]byte{0xc1, 0xff, 0x00})
			assert.ErrorIs(t, err, ErrDecode)
		})
	}
}
