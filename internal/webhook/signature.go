package webhook

import (
	"bytes"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/saturnino-fabrica-de-software/hookrelay/internal/domain"
)

const (
	HeaderSignature  = "X-Webhook-Signature"
	HeaderEvent      = "X-Webhook-Event"
	HeaderDeliveryID = "X-Webhook-Delivery-ID"
)

// Sign returns the lowercase hex HMAC-SHA256 of payload keyed by secret.
func Sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify recomputes the signature and compares it in constant time.
// Malformed signatures verify as false.
func Verify(secret string, payload []byte, signature string) bool {
	provided, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hmac.Equal(mac.Sum(nil), provided)
}

// VerifyAny reports whether signature matches payload under any of secrets.
// Every secret is checked so timing does not reveal which one matched.
func VerifyAny(secrets []string, payload []byte, signature string) bool {
	ok := false
	for _, secret := range secrets {
		if secret == "" {
			continue
		}
		if Verify(secret, payload, signature) {
			ok = true
		}
	}
	return ok
}

// Canonicalize returns the JSON form that is both signed and sent.
// Raw JSON is compacted; anything else is marshaled (map keys sorted).
func Canonicalize(v any) ([]byte, error) {
	switch raw := v.(type) {
	case json.RawMessage:
		return compact(raw)
	case []byte:
		return compact(raw)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonicalize payload: %w", err)
	}
	return b, nil
}

// SignPayload canonicalizes payload and signs it. A missing secret is a
// configuration error.
func SignPayload(secret string, payload any) (string, error) {
	if secret == "" {
		return "", domain.ErrConfiguration
	}
	body, err := Canonicalize(payload)
	if err != nil {
		return "", err
	}
	return Sign(secret, body), nil
}

// GenerateSecret returns 32 random bytes, hex encoded.
func GenerateSecret() (string, error) {
	b := make([]byte, secretBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func compact(raw []byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return nil, fmt.Errorf("canonicalize payload: %w", err)
	}
	return buf.Bytes(), nil
}
