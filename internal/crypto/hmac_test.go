package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHeadersAt(t *testing.T) {
	auth := &WebhookAuth{Secret: "s3cret"}
	body := []byte(`{"content":"hi"}`)

	h := auth.HeadersAt(body, 1700000000)

	mac := hmac.New(sha256.New, []byte("s3cret"))
	mac.Write([]byte("1700000000." + string(body)))
	assert.Equal(t, "1700000000", h[HeaderTimestamp])
	assert.Equal(t, base64.StdEncoding.EncodeToString(mac.Sum(nil)), h[HeaderSignature])
}

func TestVerify(t *testing.T) {
	auth := &WebhookAuth{Secret: "s3cret"}
	body := []byte("payload")
	now := time.Unix(1700000000, 0)
	h := auth.HeadersAt(body, now.Unix())
	ts, sig := h[HeaderTimestamp], h[HeaderSignature]

	assert.True(t, auth.Verify(body, ts, sig, time.Minute, now))
	assert.True(t, auth.Verify(body, ts, sig, time.Minute, now.Add(30*time.Second)))
	assert.False(t, auth.Verify(body, ts, sig, time.Minute, now.Add(2*time.Minute)), "expired")
	assert.False(t, auth.Verify([]byte("tampered"), ts, sig, time.Minute, now))
	assert.False(t, auth.Verify(body, "nope", sig, time.Minute, now))
	assert.False(t, (&WebhookAuth{Secret: "other"}).Verify(body, ts, sig, time.Minute, now))
}

func TestStringRedacts(t *testing.T) {
	assert.Equal(t, "WebhookAuth{secret=abcd****}", (&WebhookAuth{Secret: "abcdefgh"}).String())
	assert.Equal(t, "WebhookAuth{secret=****}", (&WebhookAuth{Secret: "ab"}).String())
}
