package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"rental-payments-backend/internal/domain"
)

const (
	SignatureHeader          = "Omise-Signature"
	SignatureTimestampHeader = "Omise-Signature-Timestamp"
)

// SignatureVerifier checks processor webhook deliveries against a shared secret
type SignatureVerifier struct {
	secret    []byte
	tolerance time.Duration
	now       func() time.Time
}

// NewSignatureVerifier accepts the secret as issued by the dashboard (base64).
// A secret that does not decode is used as raw bytes.
func NewSignatureVerifier(secret string, tolerance time.Duration) *SignatureVerifier {
	key, err := base64.StdEncoding.DecodeString(secret)
	if err != nil {
		key = []byte(secret)
	}
	return &SignatureVerifier{secret: key, tolerance: tolerance, now: time.Now}
}

// Verify authenticates the raw request body. The signature header may carry several
// comma-separated signatures during secret rotation; any match is accepted.
func (v *SignatureVerifier) Verify(body []byte, signatureHeader, timestampHeader string) error {
	if signatureHeader == "" || timestampHeader == "" {
		return fmt.Errorf("%w: missing signature headers", domain.ErrSignatureInvalid)
	}

	ts, err := strconv.ParseInt(strings.TrimSpace(timestampHeader), 10, 64)
	if err != nil {
		return fmt.Errorf("%w: malformed timestamp", domain.ErrSignatureInvalid)
	}
	skew := v.now().Sub(time.Unix(ts, 0))
	if skew < 0 {
		skew = -skew
	}
	if v.tolerance > 0 && skew > v.tolerance {
		return fmt.Errorf("%w: timestamp outside tolerance (%s)", domain.ErrSignatureInvalid, skew.Round(time.Second))
	}

	expected := v.compute(timestampHeader, body)
	for _, candidate := range strings.Split(signatureHeader, ",") {
		got, err := hex.DecodeString(strings.TrimSpace(candidate))
		if err != nil {
			continue
		}
		if hmac.Equal(got, expected) {
			return nil
		}
	}
	return fmt.Errorf("%w: no matching signature", domain.ErrSignatureInvalid)
}

// Sign produces the header value for a body at a timestamp
func (v *SignatureVerifier) Sign(body []byte, timestamp string) string {
	return hex.EncodeToString(v.compute(timestamp, body))
}

func (v *SignatureVerifier) compute(timestamp string, body []byte) []byte {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return mac.Sum(nil)
}
