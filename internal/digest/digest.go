// Package digest derives the short, deterministic identities used for paths,
// payload checksums and staged file names.
package digest

import (
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/ripemd160" //nolint:staticcheck // the run-log format is defined over RIPEMD-160
)

// Size is the byte length of a Digest.
const Size = ripemd160.Size

// Digest is a 20-byte one-way hash. It is never used for security.
type Digest [Size]byte

// Sum returns the digest of b.
func Sum(b []byte) Digest {
	h := ripemd160.New()
	h.Write(b)
	var d Digest
	copy(d[:], h.Sum(nil))
	return d
}

// Of returns the digest of a path or any other string.
func Of(s string) Digest {
	return Sum([]byte(s))
}

// Concat returns the digest of the given parts written one after another.
func Concat(parts ...[]byte) Digest {
	h := ripemd160.New()
	for _, p := range parts {
		h.Write(p)
	}
	var d Digest
	copy(d[:], h.Sum(nil))
	return d
}

// String renders the digest as unpadded base64url.
func (d Digest) String() string {
	return base64.RawURLEncoding.EncodeToString(d[:])
}

// Parse decodes a base64url digest. Padding is tolerated.
func Parse(s string) (Digest, error) {
	raw, err := base64.RawURLEncoding.DecodeString(trimPadding(s))
	if err != nil {
		return Digest{}, fmt.Errorf("decoding digest %q: %w", s, err)
	}
	return FromBytes(raw)
}

// FromBytes copies a raw 20-byte slice into a Digest.
func FromBytes(b []byte) (Digest, error) {
	if len(b) != Size {
		return Digest{}, fmt.Errorf("digest must be %d bytes, got %d", Size, len(b))
	}
	var d Digest
	copy(d[:], b)
	return d, nil
}

func trimPadding(s string) string {
	for len(s) > 0 && s[len(s)-1] == '=' {
		s = s[:len(s)-1]
	}
	return s
}
