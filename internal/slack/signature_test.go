package slack

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strconv"
	"testing"
	"time"
)

func signBody(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte("v0:" + timestamp + ":"))
	mac.Write(body)
	return "v0=" + hex.EncodeToString(mac.Sum(nil))
}

func TestVerifySignatureValid(t *testing.T) {
	t.Parallel()

	now := time.Unix(1739667600, 0)
	secret := "8f742231b10e8888abcd99yyyzzz85a5"
	body := []byte(`{"type":"event_callback"}`)
	timestamp := strconv.FormatInt(now.Unix(), 10)

	header := http.Header{}
	header.Set(SignatureHeader, signBody(secret, timestamp, body))
	header.Set(TimestampHeader, timestamp)

	if !VerifySignature(header, body, secret, now) {
		t.Fatalf("VerifySignature() = false, want true")
	}
}

func TestVerifySignatureFlippedBit(t *testing.T) {
	t.Parallel()

	now := time.Unix(1739667600, 0)
	secret := "8f742231b10e8888abcd99yyyzzz85a5"
	body := []byte(`{"type":"event_callback"}`)
	timestamp := strconv.FormatInt(now.Unix(), 10)
	sig := signBody(secret, timestamp, body)

	// Flip the last hex nibble.
	last := sig[len(sig)-1]
	if last == 'a' {
		last = 'b'
	} else {
		last = 'a'
	}
	tampered := sig[:len(sig)-1] + string(last)

	header := http.Header{}
	header.Set(SignatureHeader, tampered)
	header.Set(TimestampHeader, timestamp)

	if VerifySignature(header, body, secret, now) {
		t.Fatalf("VerifySignature() = true for tampered signature, want false")
	}
}

func TestVerifySignatureStaleTimestamp(t *testing.T) {
	t.Parallel()

	now := time.Unix(1739667600, 0)
	secret := "8f742231b10e8888abcd99yyyzzz85a5"
	body := []byte(`{"type":"event_callback"}`)

	for _, delta := range []int64{301, -301, 3600} {
		timestamp := strconv.FormatInt(now.Unix()-delta, 10)
		header := http.Header{}
		header.Set(SignatureHeader, signBody(secret, timestamp, body))
		header.Set(TimestampHeader, timestamp)

		if VerifySignature(header, body, secret, now) {
			t.Fatalf("VerifySignature() = true for timestamp drift %ds, want false", delta)
		}
	}
}

func TestVerifySignatureEdgeOfWindow(t *testing.T) {
	t.Parallel()

	now := time.Unix(1739667600, 0)
	secret := "8f742231b10e8888abcd99yyyzzz85a5"
	body := []byte(`{}`)
	timestamp := strconv.FormatInt(now.Unix()-300, 10)

	header := http.Header{}
	header.Set(SignatureHeader, signBody(secret, timestamp, body))
	header.Set(TimestampHeader, timestamp)

	if !VerifySignature(header, body, secret, now) {
		t.Fatalf("VerifySignature() = false at window edge, want true")
	}
}

func TestVerifySignatureMissingHeaders(t *testing.T) {
	t.Parallel()

	now := time.Unix(1739667600, 0)
	body := []byte(`{}`)

	header := http.Header{}
	if VerifySignature(header, body, "secret", now) {
		t.Fatalf("VerifySignature() = true with no headers, want false")
	}

	header.Set(TimestampHeader, strconv.FormatInt(now.Unix(), 10))
	if VerifySignature(header, body, "secret", now) {
		t.Fatalf("VerifySignature() = true with missing signature, want false")
	}

	header = http.Header{}
	header.Set(SignatureHeader, "v0=deadbeef")
	if VerifySignature(header, body, "secret", now) {
		t.Fatalf("VerifySignature() = true with missing timestamp, want false")
	}
}
