package webhook

import (
	"encoding/hex"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saturnino-fabrica-de-software/hookrelay/internal/domain"
)

func TestSign(t *testing.T) {
	tests := []struct {
		name    string
		secret  string
		payload []byte
	}{
		{
			name:    "simple payload",
			secret:  "my-secret-key",
			payload: []byte(`{"event":"invoice.paid","data":{"invoiceId":"X"}}`),
		},
		{
			name:    "empty payload",
			secret:  "my-secret-key",
			payload: []byte{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			signature := Sign(tt.secret, tt.payload)
			assert.Len(t, signature, 64)

			_, err := hex.DecodeString(signature)
			assert.NoError(t, err, "signature should be hex")

			assert.True(t, Verify(tt.secret, tt.payload, signature), "signature should be valid")
		})
	}
}

func TestSign_KnownVector(t *testing.T) {
	// RFC 4231 test case 2
	got := Sign("Jefe", []byte("what do ya want for nothing?"))
	assert.Equal(t, "5bdcc146bf60754e6a042426089575c75a003f089d2739839dec58b964ec3843", got)
}

func TestVerify(t *testing.T) {
	secret := "test-secret"
	payload := []byte(`{"test":"data"}`)
	validSignature := Sign(secret, payload)

	tests := []struct {
		name      string
		secret    string
		payload   []byte
		signature string
		expected  bool
	}{
		{
			name:      "valid signature",
			secret:    secret,
			payload:   payload,
			signature: validSignature,
			expected:  true,
		},
		{
			name:      "not hex",
			secret:    secret,
			payload:   payload,
			signature: "sha256=invalid",
			expected:  false,
		},
		{
			name:      "truncated signature",
			secret:    secret,
			payload:   payload,
			signature: validSignature[:10],
			expected:  false,
		},
		{
			name:      "empty signature",
			secret:    secret,
			payload:   payload,
			signature: "",
			expected:  false,
		},
		{
			name:      "wrong secret",
			secret:    "wrong-secret",
			payload:   payload,
			signature: validSignature,
			expected:  false,
		},
		{
			name:      "modified payload",
			secret:    secret,
			payload:   []byte(`{"test":"modified"}`),
			signature: validSignature,
			expected:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotPanics(t, func() {
				assert.Equal(t, tt.expected, Verify(tt.secret, tt.payload, tt.signature))
			})
		})
	}
}

func TestVerifyAny(t *testing.T) {
	payload := []byte(`{"a":1}`)
	oldSig := Sign("old", payload)

	assert.True(t, VerifyAny([]string{"new", "old"}, payload, oldSig))
	assert.False(t, VerifyAny([]string{"new"}, payload, oldSig))
	assert.False(t, VerifyAny([]string{"", "new"}, payload, oldSig))
	assert.False(t, VerifyAny(nil, payload, oldSig))
}

func TestCanonicalize(t *testing.T) {
	t.Run("map keys are sorted", func(t *testing.T) {
		a, err := Canonicalize(map[string]any{"b": 1, "a": 2})
		require.NoError(t, err)
		assert.Equal(t, `{"a":2,"b":1}`, string(a))
	})

	t.Run("raw json is compacted", func(t *testing.T) {
		got, err := Canonicalize(json.RawMessage("{ \"a\" : 1 }"))
		require.NoError(t, err)
		assert.Equal(t, `{"a":1}`, string(got))
	})

	t.Run("invalid raw json", func(t *testing.T) {
		_, err := Canonicalize([]byte("{not json"))
		assert.Error(t, err)
	})

	t.Run("unsupported value", func(t *testing.T) {
		_, err := Canonicalize(map[string]any{"ch": make(chan int)})
		assert.Error(t, err)
	})
}

func TestSignPayload(t *testing.T) {
	env := Envelope{
		Event:     EventInvoicePaid,
		Timestamp: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Data:      map[string]any{"invoiceId": "X"},
	}

	sig, err := SignPayload("s3cret", env)
	require.NoError(t, err)

	body, err := Canonicalize(env)
	require.NoError(t, err)
	assert.True(t, Verify("s3cret", body, sig))

	_, err = SignPayload("", env)
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}

func TestGenerateSecret(t *testing.T) {
	a, err := GenerateSecret()
	require.NoError(t, err)
	b, err := GenerateSecret()
	require.NoError(t, err)

	assert.Len(t, a, 64)
	assert.NotEqual(t, a, b)

	raw, err := hex.DecodeString(a)
	require.NoError(t, err)
	assert.Len(t, raw, 32)
}

func TestVerify_AfterRotation(t *testing.T) {
	payload := []byte(`{"event":"customer.created"}`)
	oldSecret, err := GenerateSecret()
	require.NoError(t, err)
	newSecret, err := GenerateSecret()
	require.NoError(t, err)

	sig := Sign(oldSecret, payload)
	assert.False(t, Verify(newSecret, payload, sig))

	rotated := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	w := &Webhook{Secret: newSecret, PreviousSecret: oldSecret, SecretRotatedAt: &rotated}

	inGrace := w.VerificationSecrets(rotated.Add(time.Hour), 24*time.Hour)
	assert.True(t, VerifyAny(inGrace, payload, sig))

	afterGrace := w.VerificationSecrets(rotated.Add(25*time.Hour), 24*time.Hour)
	assert.False(t, VerifyAny(afterGrace, payload, sig))
}
