package cache

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashBytes creates a short SHA-256 digest of raw bytes, suitable as a
// bounded-length cache key component.
func HashBytes(b []byte) string {
	h := sha256.New()
	h.Write(b)
	return hex.EncodeToString(h.Sum(nil))[:16] // First 16 chars for brevity
}

// HashText creates a short SHA-256 digest of the text.
func HashText(text string) string {
	return HashBytes([]byte(text))
}

// Key joins a namespace prefix with an identifier. Identifiers that are
// already stable (file paths, directory paths) are used verbatim so keys
// stay debuggable.
func Key(prefix, id string) string {
	return prefix + ":" + id
}
