package postcall

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func sign(secret string, ts int64, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", ts)
	mac.Write(body)
	return fmt.Sprintf("t=%d,v0=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func TestVerifySignature_Valid(t *testing.T) {
	now := time.Now()
	body := []byte(`{"type":"post_call_transcription"}`)
	header := sign("secret", now.Add(-5*time.Minute).Unix(), body)

	assert.NoError(t, VerifySignature(header, body, "secret", now))
}

func TestVerifySignature_Expired(t *testing.T) {
	now := time.Now()
	body := []byte(`{}`)
	header := sign("secret", now.Add(-31*time.Minute).Unix(), body)

	assert.Error(t, VerifySignature(header, body, "secret", now))
}

func TestVerifySignature_WrongSecret(t *testing.T) {
	now := time.Now()
	body := []byte(`{}`)
	header := sign("other", now.Unix(), body)

	assert.Error(t, VerifySignature(header, body, "secret", now))
}

func TestVerifySignature_TamperedBody(t *testing.T) {
	now := time.Now()
	header := sign("secret", now.Unix(), []byte(`{"a":1}`))

	assert.Error(t, VerifySignature(header, []byte(`{"a":2}`), "secret", now))
}

func TestVerifySignature_Malformed(t *testing.T) {
	now := time.Now()
	assert.Error(t, VerifySignature("", []byte(`{}`), "secret", now))
	assert.Error(t, VerifySignature("v0=abc", []byte(`{}`), "secret", now))
	assert.Error(t, VerifySignature("t=notanumber,v0=abc", []byte(`{}`), "secret", now))
}
