package tools

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// CacheKey derives a deterministic key from a tool name and its
// argument payload. Arguments are canonicalized by decoding and
// re-encoding, so key order and whitespace differences in the model's
// JSON do not fragment the cache. SHA-256 keeps keys collision-resistant
// and fixed-length.
func CacheKey(tool string, args json.RawMessage) string {
	canonical := canonicalizeJSON(args)
	h := sha256.New()
	h.Write([]byte(tool))
	h.Write([]byte{0})
	h.Write(canonical)
	return hex.EncodeToString(h.Sum(nil))
}

// canonicalizeJSON normalizes a JSON payload. encoding/json marshals
// map keys in sorted order, which is exactly the normalization needed.
// Payloads that fail to parse are used verbatim so a malformed payload
// still produces a stable key.
func canonicalizeJSON(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return []byte("null")
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return raw
	}
	canonical, err := json.Marshal(decoded)
	if err != nil {
		return raw
	}
	return canonical
}
