package webhook

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSignerRoundTrip(t *testing.T) {
	signer := NewSigner("test-webhook-secret")
	payload := []byte(`{"event":"payment.paid","paymentRequest":{"amount":100000}}`)

	signature := signer.Sign(payload)
	assert.Len(t, signature, 64)
	assert.True(t, signer.Verify(payload, signature))
}

func TestSignerRejectsTamperedPayload(t *testing.T) {
	signer := NewSigner("test-webhook-secret")
	payload := []byte(`{"event":"payment.paid","amount":100000}`)
	signature := signer.Sign(payload)

	// flip every single byte in turn, each mutation must break verification
	for i := range payload {
		tampered := make([]byte, len(payload))
		copy(tampered, payload)
		tampered[i] ^= 0x01

		assert.False(t, signer.Verify(tampered, signature), "mutation at byte %d", i)
	}
}

func TestSignerRejectsWrongSecret(t *testing.T) {
	payload := []byte(`{"event":"payment.paid"}`)
	signature := NewSigner("secret-a").Sign(payload)

	assert.False(t, NewSigner("secret-b").Verify(payload, signature))
}

func TestSignerRejectsNonHexSignature(t *testing.T) {
	signer := NewSigner("test-webhook-secret")
	assert.False(t, signer.Verify([]byte("payload"), "not-a-hex-signature"))
}
