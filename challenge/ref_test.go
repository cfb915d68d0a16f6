package challenge

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/mnemosign/mnemosign/seal"
)

func TestNewRefShape(t *testing.T) {
	for i := 0; i < 50; i++ {
		ref, err := NewRef()
		if err != nil {
			t.Fatalf("NewRef: %v", err)
		}
		if len(ref.ID) != idLength {
			t.Fatalf("id length: got %d, want %d", len(ref.ID), idLength)
		}
		if ref.Code != ref.ID[:CodeLength] {
			t.Fatalf("code %q is not a prefix of id %q", ref.Code, ref.ID)
		}
		if !IsValidCode(ref.Code) {
			t.Fatalf("generated code %q is not a valid code", ref.Code)
		}
	}
}

func TestRefRoundTripsThroughID(t *testing.T) {
	ref, err := NewRef()
	if err != nil {
		t.Fatalf("NewRef: %v", err)
	}

	again, err := RefFromID(ref.ID)
	if err != nil {
		t.Fatalf("RefFromID: %v", err)
	}
	if again.ID != ref.ID || again.Code != ref.Code {
		t.Errorf("reconstructed ref differs: %+v vs %+v", again, ref)
	}
	if !bytes.Equal(again.raw, ref.raw) {
		t.Error("reconstructed raw bytes differ")
	}
}

func TestRefFromIDRejectsMalformed(t *testing.T) {
	for _, id := range []string{"", "short", strings.Repeat("A", idLength+1)} {
		if _, err := RefFromID(id); err == nil {
			t.Errorf("RefFromID(%q): expected error", id)
		}
	}
}

func TestMnemonicIsDeterministic(t *testing.T) {
	ref, err := NewRef()
	if err != nil {
		t.Fatalf("NewRef: %v", err)
	}

	first, err := ref.Mnemonic()
	if err != nil {
		t.Fatalf("Mnemonic: %v", err)
	}
	second, err := ref.Mnemonic()
	if err != nil {
		t.Fatalf("Mnemonic: %v", err)
	}
	if first != second {
		t.Errorf("mnemonic diverged: %q vs %q", first, second)
	}

	// 16 bytes of entropy render as a 12-word phrase.
	if words := strings.Fields(first); len(words) != 12 {
		t.Errorf("mnemonic word count: got %d, want 12 (%q)", len(words), first)
	}

	other, err := NewRef()
	if err != nil {
		t.Fatalf("NewRef: %v", err)
	}
	otherPhrase, err := other.Mnemonic()
	if err != nil {
		t.Fatalf("Mnemonic: %v", err)
	}
	if otherPhrase == first {
		t.Error("distinct refs produced identical mnemonics")
	}
}

func TestTokenRoundTrip(t *testing.T) {
	key := bytes.Repeat([]byte{0x42}, seal.KeySize)
	codec, err := seal.NewExpiring(key)
	if err != nil {
		t.Fatalf("NewExpiring: %v", err)
	}
	now := time.Unix(1_700_000_000, 0)

	ref, err := NewRef()
	if err != nil {
		t.Fatalf("NewRef: %v", err)
	}
	token, err := ref.Token(codec, now.Unix()+600)
	if err != nil {
		t.Fatalf("Token: %v", err)
	}

	got, err := RefFromToken(codec, token, now, 0)
	if err != nil {
		t.Fatalf("RefFromToken: %v", err)
	}
	if got.ID != ref.ID {
		t.Errorf("token round trip: got id %q, want %q", got.ID, ref.ID)
	}
}

func TestRefFromTokenRejectsForeignPayload(t *testing.T) {
	key := bytes.Repeat([]byte{0x42}, seal.KeySize)
	codec, err := seal.NewExpiring(key)
	if err != nil {
		t.Fatalf("NewExpiring: %v", err)
	}
	now := time.Unix(1_700_000_000, 0)

	// Authentic token, but its payload is not a challenge identifier.
	token, err := codec.Seal([]byte("nope"), seal.Expiration{At: now.Unix() + 60}, time.Time{})
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if _, err := RefFromToken(codec, token, now, 0); !errors.Is(err, seal.ErrInvalid) {
		t.Errorf("got %v, want seal.ErrInvalid", err)
	}
}

func TestIsValidCode(t *testing.T) {
	tests := []struct {
		code string
		want bool
	}{
		{"AB3F9K2L", true},
		{"abcd1234", true},
		{"00000000", true},
		{"AB3F9K2", false},
		{"AB3F9K2L1", false},
		{"AB3F-K2L", false},
		{"AB3F K2L", false},
		{"", false},
	}
	for _, tc := range tests {
		if got := IsValidCode(tc.code); got != tc.want {
			t.Errorf("IsValidCode(%q): got %v, want %v", tc.code, got, tc.want)
		}
	}
}
