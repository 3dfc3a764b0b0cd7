package crypto

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/Swixixle/CLINICAL-DOCUMENTATION-INTEGRITY-LAYER-sub000/internal/domain"
)

func SHA256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// PrefixedSHA256 returns "sha256:<hex>", the form used for exported content hashes.
func PrefixedSHA256(data []byte) string {
	return domain.DigestPrefix + SHA256Hex(data)
}

// HashCanonical canonicalizes v and returns the hex digest of the bytes.
func HashCanonical(v any) (string, error) {
	canonical, err := CanonicalizeAny(v)
	if err != nil {
		return "", err
	}
	return SHA256Hex(canonical), nil
}

// ConcatSHA256Hex hashes the plain concatenation of parts, with no separator
// and no structural encoding.
func ConcatSHA256Hex(parts ...string) string {
	var b strings.Builder
	for _, part := range parts {
		b.WriteString(part)
	}
	return SHA256Hex([]byte(b.String()))
}
