package identity

import (
	"bytes"
	"errors"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/mnemosign/mnemosign/seal"
)

func newIDCodec(t *testing.T, fill byte) *seal.IDValue {
	t.Helper()
	codec, err := seal.NewID(bytes.Repeat([]byte{fill}, seal.KeySize))
	if err != nil {
		t.Fatalf("NewID: %v", err)
	}
	return codec
}

func TestPublicIDRoundTrip(t *testing.T) {
	codec := newIDCodec(t, 0x42)
	ref := NewRef(987654321)

	publicID := ref.PublicID(codec)
	got, err := FromPublicID(codec, publicID)
	if err != nil {
		t.Fatalf("FromPublicID: %v", err)
	}
	if got.AccountID() != ref.AccountID() {
		t.Errorf("round trip: got %d, want %d", got.AccountID(), ref.AccountID())
	}
}

func TestPublicIDIsStableButOpaque(t *testing.T) {
	codec := newIDCodec(t, 0x42)
	ref := NewRef(987654321)

	if ref.PublicID(codec) != ref.PublicID(codec) {
		t.Error("public id is not stable across calls")
	}
	if ref.PublicID(codec) == NewRef(987654322).PublicID(codec) {
		t.Error("distinct accounts share a public id")
	}

	other := newIDCodec(t, 0x07)
	if _, err := FromPublicID(other, ref.PublicID(codec)); !errors.Is(err, seal.ErrInvalid) {
		t.Errorf("cross-key public id: got %v, want seal.ErrInvalid", err)
	}
}

func TestDigestIsStable(t *testing.T) {
	ref := NewRef(42)
	if ref.Digest() != NewRef(42).Digest() {
		t.Error("digest is not stable")
	}
	if len(ref.Digest()) != 64 {
		t.Errorf("digest length: got %d, want 64 hex chars", len(ref.Digest()))
	}
	if ref.Digest() == NewRef(43).Digest() {
		t.Error("distinct accounts share a digest")
	}
}

func TestPickPhotoSize(t *testing.T) {
	sizes := []tgbotapi.PhotoSize{
		{FileID: "tiny", Width: 64},
		{FileID: "medium", Width: 320},
		{FileID: "large", Width: 640},
	}

	tests := []struct {
		name      string
		sizes     []tgbotapi.PhotoSize
		preferred int
		want      string
	}{
		{"smallest at or above preferred", sizes, 256, "medium"},
		{"exact match preferred", sizes, 320, "medium"},
		{"all too small falls back to last", sizes, 1024, "large"},
		{"prefers larger over smaller", sizes[:2], 100, "medium"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := pickPhotoSize(tc.sizes, tc.preferred); got.FileID != tc.want {
				t.Errorf("got %q, want %q", got.FileID, tc.want)
			}
		})
	}
}

func TestFileExt(t *testing.T) {
	if got := fileExt("https://example.com/file/photo.png"); got != ".png" {
		t.Errorf("got %q, want .png", got)
	}
	if got := fileExt("https://example.com/file/photo"); got != ".jpg" {
		t.Errorf("got %q, want .jpg fallback", got)
	}
}
