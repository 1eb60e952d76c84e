package crypto

import (
	"errors"
	"testing"
)

func TestReveal(t *testing.T) {
	enc, err := NewEncryptor([]byte("a key that is not 32 bytes"))
	if err != nil {
		t.Fatalf("NewEncryptor() error = %v", err)
	}
	sealed, err := enc.Seal("1//refresh-token")
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}

	tests := []struct {
		name    string
		value   string
		key     string
		want    string
		wantErr error
	}{
		{name: "plain value passes through", value: "1//refresh-token", want: "1//refresh-token"},
		{name: "sealed value", value: sealed, key: "a key that is not 32 bytes", want: "1//refresh-token"},
		{name: "sealed without key", value: sealed, wantErr: ErrMissingKey},
		{name: "wrong key", value: sealed, key: "another key", wantErr: ErrDecryptionFailed},
		{name: "truncated", value: SealedPrefix + "AAAA", key: "k", wantErr: ErrInvalidCiphertext},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Reveal(tt.value, tt.key)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Reveal() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Errorf("Reveal() = %q, %v; want %q", got, err, tt.want)
			}
		})
	}
}

func TestSealUsesFreshNonce(t *testing.T) {
	enc, _ := NewEncryptor([]byte("0123456789abcdef0123456789abcdef"))
	a, _ := enc.Seal("same")
	b, _ := enc.Seal("same")
	if a == b {
		t.Error("two seals of the same plaintext must differ")
	}
}
