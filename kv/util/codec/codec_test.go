package codec

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeItemKey(t *testing.T) {
	assert.Equal(t, []byte{0, 0, 0, 0, 0, 0, 0, 0, 247, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}, EncodeItemKey("", 0))
	assert.Equal(t, []byte{42, 0, 0, 0, 0, 0, 0, 0, 248, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xfe}, EncodeItemKey("*", 1))

	// Newer versions of the same id sort first.
	assert.True(t, bytes.Compare(EncodeItemKey("a", 4), EncodeItemKey("a", 3)) < 0)
	// Ids sort ascending regardless of version.
	assert.True(t, bytes.Compare(EncodeItemKey("a", 1), EncodeItemKey("b", 9)) < 0)
	assert.True(t, bytes.Compare(EncodeItemKey("a", 1), EncodeItemKey("a\x00", 9)) < 0)
	// SeekKey is before every version of its id and after every version of smaller ids.
	assert.True(t, bytes.Compare(SeekKey("a"), EncodeItemKey("a", 1<<40)) < 0)
	assert.True(t, bytes.Compare(EncodeItemKey("Z", 1), SeekKey("a")) < 0)
}

func TestDecodeBytes(t *testing.T) {
	for _, id := range []string{"", "x", "patient-123", "0123456789abcdef-long-identifier"} {
		key := EncodeItemKey(id, 77)
		left, gotID, err := DecodeBytes(key)
		require.NoError(t, err)
		assert.Equal(t, id, string(gotID))
		assert.Equal(t, AppendVersion(nil, 77), left)
	}

	_, _, err := DecodeBytes([]byte{1, 2, 3})
	assert.Error(t, err)
	_, _, err = DecodeBytes([]byte{1, 2, 3, 0, 0, 0, 0, 0, 200})
	assert.Error(t, err)
}
