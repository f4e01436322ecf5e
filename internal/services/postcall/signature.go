package postcall

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// maxSignatureAge rejects replayed webhooks older than half an hour.
const maxSignatureAge = 30 * time.Minute

// VerifySignature checks the ElevenLabs post-call webhook signature header,
// formatted "t=<unix_seconds>,v0=<hex hmac>". The hash covers "<t>.<body>".
func VerifySignature(header string, body []byte, secret string, now time.Time) error {
	if header == "" {
		return fmt.Errorf("missing signature header")
	}

	var tsPart, hashPart string
	for _, piece := range strings.Split(header, ",") {
		switch {
		case strings.HasPrefix(piece, "t="):
			tsPart = strings.TrimPrefix(piece, "t=")
		case strings.HasPrefix(piece, "v0="):
			hashPart = strings.TrimPrefix(piece, "v0=")
		}
	}
	if tsPart == "" || hashPart == "" {
		return fmt.Errorf("malformed signature header")
	}

	ts, err := strconv.ParseInt(tsPart, 10, 64)
	if err != nil {
		return fmt.Errorf("malformed signature timestamp")
	}
	if now.Sub(time.Unix(ts, 0)) > maxSignatureAge {
		return fmt.Errorf("signature timestamp too old")
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(tsPart))
	mac.Write([]byte("."))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(hashPart)) {
		return fmt.Errorf("signature mismatch")
	}
	return nil
}
