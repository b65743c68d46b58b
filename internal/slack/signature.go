package slack

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	// SignatureHeader and TimestampHeader are set by Slack on every
	// Events API delivery.
	SignatureHeader = "X-Slack-Signature"
	TimestampHeader = "X-Slack-Request-Timestamp"

	signatureVersion = "v0"

	// replayWindow bounds how far a request timestamp may drift from the
	// local clock before the delivery is rejected as a replay.
	replayWindow = 5 * time.Minute
)

// VerifySignature reports whether an Events API request was signed by Slack
// with the given signing secret. It is a pure function over the request
// headers, the raw body, and the supplied wall-clock time.
func VerifySignature(header http.Header, body []byte, signingSecret string, now time.Time) bool {
	signingSecret = strings.TrimSpace(signingSecret)
	if signingSecret == "" {
		return false
	}
	signature := strings.TrimSpace(header.Get(SignatureHeader))
	timestamp := strings.TrimSpace(header.Get(TimestampHeader))
	if signature == "" || timestamp == "" {
		return false
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return false
	}
	drift := now.Unix() - ts
	if drift < 0 {
		drift = -drift
	}
	if drift > int64(replayWindow/time.Second) {
		return false
	}

	mac := hmac.New(sha256.New, []byte(signingSecret))
	mac.Write([]byte(signatureVersion + ":" + timestamp + ":"))
	mac.Write(body)
	expected := signatureVersion + "=" + hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(signature))
}
