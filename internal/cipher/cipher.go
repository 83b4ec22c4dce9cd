// Package cipher implements the byte transform applied to file content at
// rest. The transform is a fixed additive shift over the full byte range.
// It hides plaintext from casual inspection of the backing directory and
// nothing more: there is no key and the inverse is public.
package cipher

// Rot shifts every byte by a fixed amount, wrapping modulo 256.
type Rot byte

// Default is the shift used for all content written by histfs.
const Default Rot = 3

// EncryptByte maps a plaintext byte to its stored form.
func (r Rot) EncryptByte(b byte) byte {
	return b + byte(r)
}

// DecryptByte maps a stored byte back to plaintext.
func (r Rot) DecryptByte(b byte) byte {
	return b - byte(r)
}

// Encrypt writes the stored form of src into dst and returns the number of
// bytes transformed. dst and src may be the same slice.
func (r Rot) Encrypt(dst, src []byte) int {
	n := min(len(dst), len(src))
	for i := 0; i < n; i++ {
		dst[i] = src[i] + byte(r)
	}
	return n
}

// Decrypt writes the plaintext of src into dst and returns the number of
// bytes transformed. dst and src may be the same slice.
func (r Rot) Decrypt(dst, src []byte) int {
	n := min(len(dst), len(src))
	for i := 0; i < n; i++ {
		dst[i] = src[i] - byte(r)
	}
	return n
}

// Zero is the stored form of a zero byte, used to fill extended regions.
func (r Rot) Zero() byte {
	return r.EncryptByte(0)
}
