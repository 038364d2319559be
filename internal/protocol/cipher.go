package protocol

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/md5" //nolint:gosec // Vendor-mandated key derivation.
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Slice bounds into the UUID and account key used by the key derivation.
// These offsets are fixed by firmware and shared with the vendor app.
const (
	uuidSliceEnd   = 22
	keySliceAEnd   = 9
	keySliceBStart = 10
	keySliceBEnd   = 28
)

// DeviceCipher encrypts and decrypts envelopes for one encryption-capable
// device. The zero IV and zero padding are firmware behavior, not a choice
// this library gets to make.
type DeviceCipher struct {
	block cipher.Block
}

// NewDeviceCipher derives the AES-256 key for a device from its UUID, the
// account key, and the device MAC address. Returns ErrCipherInputs until
// all three are known and long enough to slice.
func NewDeviceCipher(uuid, key, mac string) (*DeviceCipher, error) {
	if len(uuid) < uuidSliceEnd || len(key) < keySliceBEnd || mac == "" {
		return nil, ErrCipherInputs
	}

	seed := uuid[3:uuidSliceEnd] + key[1:keySliceAEnd] + mac + key[keySliceBStart:keySliceBEnd]
	sum := md5.Sum([]byte(seed)) //nolint:gosec // Vendor-mandated derivation.

	// The hex rendering of the digest is the key material: 32 ASCII bytes.
	block, err := aes.NewCipher([]byte(hex.EncodeToString(sum[:])))
	if err != nil {
		return nil, fmt.Errorf("building device cipher: %w", err)
	}
	return &DeviceCipher{block: block}, nil
}

// Encrypt zero-pads plain to the block size, encrypts with AES-CBC under a
// zero IV, and returns the ciphertext base64-encoded.
func (c *DeviceCipher) Encrypt(plain []byte) string {
	padded := plain
	if rem := len(plain) % aes.BlockSize; rem != 0 {
		padded = make([]byte, len(plain)+aes.BlockSize-rem)
		copy(padded, plain)
	}

	out := make([]byte, len(padded))
	iv := make([]byte, aes.BlockSize)
	cipher.NewCBCEncrypter(c.block, iv).CryptBlocks(out, padded)

	return base64.StdEncoding.EncodeToString(out)
}

// Decrypt accepts base64 text or raw ciphertext bytes, decrypts, and trims
// the trailing zero padding.
func (c *DeviceCipher) Decrypt(data []byte) ([]byte, error) {
	raw := data
	if decoded, err := base64.StdEncoding.DecodeString(string(data)); err == nil {
		raw = decoded
	}

	if len(raw) == 0 || len(raw)%aes.BlockSize != 0 {
		return nil, ErrCiphertext
	}

	out := make([]byte, len(raw))
	iv := make([]byte, aes.BlockSize)
	cipher.NewCBCDecrypter(c.block, iv).CryptBlocks(out, raw)

	return bytes.TrimRight(out, "\x00"), nil
}

// encryptedEnvelope wraps ciphertext on the wire.
type encryptedEnvelope struct {
	Data string `json:"data"`
}

// WrapEncrypted encrypts a rendered envelope and wraps it for transport.
func (c *DeviceCipher) WrapEncrypted(envelope []byte) ([]byte, error) {
	b, err := json.Marshal(encryptedEnvelope{Data: c.Encrypt(envelope)})
	if err != nil {
		return nil, fmt.Errorf("wrapping encrypted envelope: %w", err)
	}
	return b, nil
}

// UnwrapEncrypted detects the {"data": ...} wrapper and decrypts its
// contents with cipher. Unwrapped bodies and a nil cipher pass through
// unchanged, so plaintext devices share the receive path.
func UnwrapEncrypted(c *DeviceCipher, body []byte) ([]byte, error) {
	if c == nil {
		return body, nil
	}

	var wrapper encryptedEnvelope
	if err := json.Unmarshal(body, &wrapper); err != nil || wrapper.Data == "" {
		return body, nil
	}
	return c.Decrypt([]byte(wrapper.Data))
}
