package ecommerce

import (
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"sort"
	"strings"
)

// ---------------------------------------------------------------------------
// Request signing
// ---------------------------------------------------------------------------

// sortedConcat returns key1value1key2value2... over the sorted keys, skipping "sign"
func sortedConcat(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		if k == "sign" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var builder strings.Builder
	for _, k := range keys {
		builder.WriteString(k)
		builder.WriteString(params[k])
	}
	return builder.String()
}

// signMD5 computes upper-case hex MD5(secret + sorted params + secret).
// Taobao's router still requires MD5 for this scheme.
func signMD5(secret string, params map[string]string) string {
	hash := md5.Sum([]byte(secret + sortedConcat(params) + secret))
	return strings.ToUpper(hex.EncodeToString(hash[:]))
}

// signHMACSHA256 computes upper-case hex HMAC-SHA256(secret, sorted params)
func signHMACSHA256(secret string, params map[string]string) string {
	return strings.ToUpper(hex.EncodeToString(hmacSHA256([]byte(secret), []byte(sortedConcat(params)))))
}

func hmacSHA256(key, data []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(data)
	return h.Sum(nil)
}

// ---------------------------------------------------------------------------
// Webhook signature verification
// ---------------------------------------------------------------------------

// constantTimeEqual compares two strings without leaking timing
func constantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// verifyBase64HMAC checks base64(HMAC-SHA256(secret, payload))
func verifyBase64HMAC(payload []byte, signature, secret string) bool {
	if signature == "" || secret == "" {
		return false
	}
	expected := base64.StdEncoding.EncodeToString(hmacSHA256([]byte(secret), payload))
	return constantTimeEqual(expected, strings.TrimSpace(signature))
}

// verifyHexHMAC checks hex(HMAC-SHA256(secret, prefix+payload)) in the given case
func verifyHexHMAC(payload []byte, signature, secret, prefix string, upper bool) bool {
	if signature == "" || secret == "" {
		return false
	}
	data := append([]byte(prefix), payload...)
	expected := hex.EncodeToString(hmacSHA256([]byte(secret), data))
	if upper {
		expected = strings.ToUpper(expected)
	}
	return constantTimeEqual(expected, strings.TrimSpace(signature))
}
