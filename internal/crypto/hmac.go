// Package crypto signs outbound webhook payloads so receivers can verify
// they came from this engine.
package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"time"
)

// Header names set by WebhookAuth.
const (
	HeaderTimestamp = "X-Arbengine-Timestamp"
	HeaderSignature = "X-Arbengine-Signature"
)

// WebhookAuth holds the shared secret used to sign webhook bodies.
//
// The signature is HMAC-SHA256(secret, timestamp + "." + body) encoded as
// standard base64.
type WebhookAuth struct {
	Secret string
}

// Headers signs body with the current Unix time.
func (h *WebhookAuth) Headers(body []byte) map[string]string {
	return h.HeadersAt(body, time.Now().Unix())
}

// HeadersAt is like Headers but with a caller supplied Unix timestamp.
func (h *WebhookAuth) HeadersAt(body []byte, unixTS int64) map[string]string {
	ts := strconv.FormatInt(unixTS, 10)
	return map[string]string{
		HeaderTimestamp: ts,
		HeaderSignature: sign([]byte(h.Secret), ts, body),
	}
}

// Verify reports whether sig is a valid signature of body at ts and ts is
// no older than maxAge relative to now.
func (h *WebhookAuth) Verify(body []byte, ts, sig string, maxAge time.Duration, now time.Time) bool {
	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return false
	}
	if age := now.Sub(time.Unix(unix, 0)); age > maxAge || age < -maxAge {
		return false
	}
	want := sign([]byte(h.Secret), ts, body)
	return hmac.Equal([]byte(want), []byte(sig))
}

// String returns a redacted representation suitable for logging.
func (h *WebhookAuth) String() string {
	if len(h.Secret) <= 4 {
		return "WebhookAuth{secret=****}"
	}
	return fmt.Sprintf("WebhookAuth{secret=%s****}", h.Secret[:4])
}

func sign(key []byte, ts string, body []byte) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(ts))
	mac.Write([]byte{'.'})
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
