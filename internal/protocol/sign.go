package protocol

import (
	"crypto/md5" //nolint:gosec // The vendor API mandates MD5 digests.
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
)

// cloudSecret is the fixed ecosystem constant mixed into every cloud API
// signature. It is baked into the vendor's own applications and is not a
// per-account secret.
const cloudSecret = "23x17ahWarFH6w29"

// MD5Hex returns the lowercase hex MD5 digest of s.
func MD5Hex(s string) string {
	sum := md5.Sum([]byte(s)) //nolint:gosec // Vendor-mandated digest.
	return hex.EncodeToString(sum[:])
}

// EncodeParams marshals params to JSON and base64-encodes the result, the
// form the cloud API expects in its request envelope.
func EncodeParams(params any) (string, error) {
	b, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("encoding request params: %w", err)
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

// SignParams computes the cloud request signature over the ecosystem
// secret, the millisecond timestamp, the request nonce, and the encoded
// params.
func SignParams(timestampMillis int64, nonce, encodedParams string) string {
	return signWith(cloudSecret, timestampMillis, nonce, encodedParams)
}

func signWith(secret string, timestampMillis int64, nonce, encodedParams string) string {
	return MD5Hex(secret + strconv.FormatInt(timestampMillis, 10) + nonce + encodedParams)
}
