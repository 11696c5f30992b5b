package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// HashContent returns the hex-encoded SHA-256 digest of raw image bytes,
// the cache's content-identity key.
func HashContent(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// HashConfig returns the hex-encoded SHA-256 digest of the JSON-canonical
// form of a Config, the cache's parameter-identity key. Two configs that
// marshal identically hash identically regardless of field order, since
// encoding/json always emits struct fields in declaration order.
func HashConfig(cfg Config) string {
	data, err := json.Marshal(cfg)
	if err != nil {
		// Config is a flat struct of JSON-marshalable primitives; this
		// cannot fail in practice.
		panic("cache: config is not JSON-marshalable: " + err.Error())
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
