package challenge

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"math/big"
	"regexp"
	"strconv"
	"strings"
	"time"

	bip39 "github.com/tyler-smith/go-bip39"

	"github.com/mnemosign/mnemosign/seal"
)

const (
	// CodeLength is the number of identifier characters a human types.
	CodeLength = 8

	// idRandomLength is the number of extra identifier characters beyond the
	// code. The code alone is too short to resist birthday collisions across
	// concurrently live challenges; the tail widens the identifier so the
	// stored id check in the Lua scripts can disambiguate.
	idRandomLength = 16

	// idLength is the full identifier length in characters. 24 base64url
	// characters decode to exactly 18 bytes with no padding bits, so the
	// identifier round-trips between its text and byte forms.
	idLength = CodeLength + idRandomLength
)

const (
	codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	idAlphabet   = codeAlphabet + "-_"
)

var codePattern = regexp.MustCompile(`^[A-Za-z0-9]{` + strconv.Itoa(CodeLength) + `}$`)

// IsValidCode reports whether s is a well-formed challenge code. Callers
// classifying inbound text should trim surrounding whitespace first.
func IsValidCode(s string) bool {
	return codePattern.MatchString(s)
}

// Ref is an ephemeral handle on a challenge identifier. It is reconstructed
// either from a freshly generated identifier or from an unsealed token, and
// derives the public representations (code, mnemonic, token) on demand.
type Ref struct {
	// ID is the canonical text encoding of the identifier.
	ID string
	// Code is the human-typeable prefix of ID and the store lookup key.
	Code string

	raw []byte
}

// NewRef generates a fresh random ref. The first CodeLength characters are
// drawn from the alphanumeric alphabet so the code is always typeable; the
// tail uses the full base64url alphabet.
func NewRef() (*Ref, error) {
	code, err := randomString(codeAlphabet, CodeLength)
	if err != nil {
		return nil, err
	}
	tail, err := randomString(idAlphabet, idRandomLength)
	if err != nil {
		return nil, err
	}
	return RefFromID(code + tail)
}

// RefFromID reconstructs a ref from an identifier's canonical text encoding.
func RefFromID(id string) (*Ref, error) {
	if len(id) != idLength {
		return nil, fmt.Errorf("challenge: identifier must be %d characters", idLength)
	}
	raw, err := base64.RawURLEncoding.DecodeString(id)
	if err != nil {
		return nil, fmt.Errorf("challenge: identifier is not base64url: %w", err)
	}
	return &Ref{ID: id, Code: id[:CodeLength], raw: raw}, nil
}

// RefFromToken recovers the ref sealed inside a bearer token, propagating
// seal.ErrInvalid and seal.ErrExpired from the codec.
func RefFromToken(codec *seal.ExpiringValue, token string, now time.Time, tolerance time.Duration) (*Ref, error) {
	raw, err := codec.Unseal(token, now, tolerance)
	if err != nil {
		return nil, fmt.Errorf("challenge token: %w", err)
	}

	id := base64.RawURLEncoding.EncodeToString(raw)
	if len(id) != idLength {
		// Authentic under our key, but not a challenge identifier.
		return nil, fmt.Errorf("challenge token: %w", seal.ErrInvalid)
	}
	return &Ref{ID: id, Code: id[:CodeLength], raw: raw}, nil
}

// Token mints the bearer token for this ref: an expiring seal of the
// identifier's raw bytes with the given absolute expiry. Minting with the
// record's expiry keeps token lifetime and record lifetime identical by
// construction.
func (r *Ref) Token(codec *seal.ExpiringValue, exat int64) (string, error) {
	return codec.Seal(r.raw, seal.Expiration{At: exat}, time.Time{})
}

// Mnemonic renders the identifier as a deterministic word phrase for human
// verification. BIP39 entropy must be 32-bit aligned, so the phrase covers
// the longest aligned prefix of the identifier bytes.
func (r *Ref) Mnemonic() (string, error) {
	entropy := r.raw[:len(r.raw)/4*4]
	phrase, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return "", fmt.Errorf("challenge: mnemonic: %w", err)
	}
	return phrase, nil
}

func randomString(alphabet string, length int) (string, error) {
	var b strings.Builder
	b.Grow(length)

	max := big.NewInt(int64(len(alphabet)))
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("challenge: randomness unavailable: %w", err)
		}
		b.WriteByte(alphabet[n.Int64()])
	}
	return b.String(), nil
}
