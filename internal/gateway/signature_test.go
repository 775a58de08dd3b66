package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"
)

func TestVerifier_SignMatchesHMACOfOrderAndPayment(t *testing.T) {
	v := NewVerifier("key_secret")

	mac := hmac.New(sha256.New, []byte("key_secret"))
	mac.Write([]byte("order_1|pay_1"))
	want := hex.EncodeToString(mac.Sum(nil))

	if got := v.Sign("order_1", "pay_1"); got != want {
		t.Fatalf("Sign = %s, want %s", got, want)
	}
	if !v.Verify("order_1", "pay_1", want) {
		t.Fatal("expected valid signature to verify")
	}
}

func TestVerifier_RejectsTampering(t *testing.T) {
	v := NewVerifier("key_secret")
	sig := v.Sign("order_1", "pay_1")

	tests := []struct {
		name, order, payment, sig string
	}{
		{"different payment", "order_1", "pay_2", sig},
		{"different order", "order_2", "pay_1", sig},
		{"swapped fields", "pay_1", "order_1", sig},
		{"flipped char", "order_1", "pay_1", "0" + sig[1:]},
		{"uppercase hex", "order_1", "pay_1", upper(sig)},
		{"empty", "order_1", "pay_1", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if v.Verify(tt.order, tt.payment, tt.sig) {
				t.Fatal("tampered signature verified")
			}
		})
	}

	if NewVerifier("other").Verify("order_1", "pay_1", sig) {
		t.Fatal("signature verified under a different secret")
	}
	if NewVerifier("").Verify("order_1", "pay_1", NewVerifier("").Sign("order_1", "pay_1")) {
		t.Fatal("empty secret must never verify")
	}
}

func upper(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'a' && c <= 'f' {
			b[i] = c - 32
		}
	}
	return string(b)
}
