package cipher

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTripEveryByte(t *testing.T) {
	for _, r := range []Rot{0, 1, Default, 128, 255} {
		seen := make(map[byte]bool, 256)
		for i := 0; i < 256; i++ {
			b := byte(i)
			enc := r.EncryptByte(b)
			require.Equal(t, b, r.DecryptByte(enc), "shift %d byte %d", r, b)
			require.False(t, seen[enc], "shift %d maps two bytes to %d", r, enc)
			seen[enc] = true
		}
		assert.Len(t, seen, 256)
	}
}

func TestDefaultShift(t *testing.T) {
	assert.Equal(t, byte(3), Default.EncryptByte(0))
	assert.Equal(t, byte(2), Default.EncryptByte(255))
	assert.Equal(t, byte(255), Default.DecryptByte(2))
	assert.Equal(t, byte(3), Default.Zero())
}

func TestSliceTransformInPlace(t *testing.T) {
	plain := []byte("HELLO WORLD\x00\xff")
	buf := append([]byte(nil), plain...)

	n := Default.Encrypt(buf, buf)
	require.Equal(t, len(plain), n)
	assert.False(t, bytes.Equal(plain, buf))

	n = Default.Decrypt(buf, buf)
	require.Equal(t, len(plain), n)
	assert.Equal(t, plain, buf)
}

func TestSliceTransformShortDestination(t *testing.T) {
	dst := make([]byte, 2)
	n := Default.Encrypt(dst, []byte("abc"))
	assert.Equal(t, 2, n)
	assert.Equal(t, []byte{'a' + 3, 'b' + 3}, dst)
}
