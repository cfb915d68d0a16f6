package seal

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	siv "github.com/secure-io/siv-go"
)

const (
	// KeySize is the required length of the secret key in bytes.
	KeySize = 32
	// NonceSize is the AEAD nonce length in bytes.
	NonceSize = 12

	// expirySize is the number of leading nonce bytes carrying the
	// big-endian uint32 expiration timestamp in the expiring variant.
	expirySize = 4
)

var (
	// ErrKeySize is returned when the supplied key is not exactly KeySize bytes.
	ErrKeySize = errors.New("seal key must be exactly 32 bytes")
	// ErrInvalid is returned when a token is malformed or fails authentication.
	ErrInvalid = errors.New("sealed value is invalid")
	// ErrExpired is returned when an expiring token's embedded expiry has passed.
	ErrExpired = errors.New("sealed value has expired")
)

var encoding = base64.RawURLEncoding

func newAEAD(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, ErrKeySize
	}
	aead, err := siv.NewGCM(key)
	if err != nil {
		return nil, fmt.Errorf("seal: %w", err)
	}
	return aead, nil
}

// sealPrepended encrypts payload under nonce and returns
// base64url(nonce || ciphertext+tag).
func sealPrepended(aead cipher.AEAD, nonce, payload []byte) string {
	out := make([]byte, NonceSize, NonceSize+len(payload)+aead.Overhead())
	copy(out, nonce)
	out = aead.Seal(out, nonce, payload, nil)
	return encoding.EncodeToString(out)
}

// openPrepended decodes a token produced by sealPrepended and returns the
// nonce and plaintext. Malformed encoding and authentication failure both
// report ErrInvalid; the caller cannot distinguish them, which is the point.
func openPrepended(aead cipher.AEAD, token string) (nonce, payload []byte, err error) {
	raw, err := encoding.DecodeString(token)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: bad encoding", ErrInvalid)
	}
	if len(raw) < NonceSize+aead.Overhead() {
		return nil, nil, fmt.Errorf("%w: truncated", ErrInvalid)
	}
	nonce = raw[:NonceSize]
	payload, err = aead.Open(nil, nonce, raw[NonceSize:], nil)
	if err != nil {
		return nil, nil, ErrInvalid
	}
	return nonce, payload, nil
}

func randomNonce() ([]byte, error) {
	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("seal: nonce generation: %w", err)
	}
	return nonce, nil
}

// Value seals payloads with a fresh random nonce on every call.
type Value struct {
	aead cipher.AEAD
}

// NewValue returns a plain sealer for the given 32-byte key.
func NewValue(key []byte) (*Value, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}
	return &Value{aead: aead}, nil
}

// Seal encrypts payload into a token.
func (v *Value) Seal(payload []byte) (string, error) {
	nonce, err := randomNonce()
	if err != nil {
		return "", err
	}
	return sealPrepended(v.aead, nonce, payload), nil
}

// Unseal decrypts a token produced by Seal. It returns ErrInvalid when the
// token is malformed or fails authentication.
func (v *Value) Unseal(token string) ([]byte, error) {
	_, payload, err := openPrepended(v.aead, token)
	return payload, err
}

// Expiration selects the expiry of an expiring token: either At, an
// absolute unix-seconds timestamp, or (when At is zero) In, a duration
// relative to now.
type Expiration struct {
	In time.Duration
	At int64
}

// ExpiringValue seals payloads with an authenticated, plaintext-visible
// expiration timestamp.
type ExpiringValue struct {
	aead cipher.AEAD
}

// NewExpiring returns an expiring sealer for the given 32-byte key.
func NewExpiring(key []byte) (*ExpiringValue, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}
	return &ExpiringValue{aead: aead}, nil
}

// Seal encrypts payload into a token expiring per exp, resolved against now
// (wall clock when now is the zero time). The resolved timestamp must fit an
// unsigned 32-bit integer. The timestamp overwrites the first four bytes of
// the random nonce before encryption, so it is covered by the
// authentication tag.
func (v *ExpiringValue) Seal(payload []byte, exp Expiration, now time.Time) (string, error) {
	exat := exp.At
	if exat == 0 {
		if now.IsZero() {
			now = time.Now()
		}
		exat = now.Unix() + int64(exp.In/time.Second)
	}
	if exat < 0 || exat > math.MaxUint32 {
		return "", fmt.Errorf("seal: expiration timestamp %d outside unsigned 32-bit range", exat)
	}

	nonce, err := randomNonce()
	if err != nil {
		return "", err
	}
	binary.BigEndian.PutUint32(nonce[:expirySize], uint32(exat))
	return sealPrepended(v.aead, nonce, payload), nil
}

// Unseal decrypts a token produced by Seal and enforces its expiry against
// now (wall clock when zero) with the given clock tolerance. Authentication
// is verified before the timestamp is trusted; failures are reported with
// priority malformed > authentication > expired. A token is expired when
// expiry + tolerance < now, so a token sealed at exactly now is still valid.
func (v *ExpiringValue) Unseal(token string, now time.Time, tolerance time.Duration) ([]byte, error) {
	nonce, payload, err := openPrepended(v.aead, token)
	if err != nil {
		return nil, err
	}

	exat := int64(binary.BigEndian.Uint32(nonce[:expirySize]))
	if now.IsZero() {
		now = time.Now()
	}
	if exat+int64(tolerance/time.Second) < now.Unix() {
		return nil, ErrExpired
	}
	return payload, nil
}

// Expiry reports the expiration timestamp an expiring token declares,
// without needing the key. The value is attacker-controlled until the token
// is successfully unsealed and must not be trusted for anything beyond
// display or scheduling hints.
func Expiry(token string) (int64, error) {
	raw, err := encoding.DecodeString(token)
	if err != nil || len(raw) < expirySize {
		return 0, ErrInvalid
	}
	return int64(binary.BigEndian.Uint32(raw[:expirySize])), nil
}

// IDValue seals payloads deterministically: equal payloads produce
// byte-identical tokens under the same key. The all-zero nonce is never
// encoded into the token, keeping it as short as possible.
type IDValue struct {
	aead cipher.AEAD
}

// NewID returns a deterministic sealer for the given 32-byte key.
func NewID(key []byte) (*IDValue, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}
	return &IDValue{aead: aead}, nil
}

var zeroNonce [NonceSize]byte

// Seal encrypts payload into a deterministic token.
func (v *IDValue) Seal(payload []byte) string {
	return encoding.EncodeToString(v.aead.Seal(nil, zeroNonce[:], payload, nil))
}

// Unseal decrypts a token produced by Seal. It returns ErrInvalid when the
// token is malformed or fails authentication.
func (v *IDValue) Unseal(token string) ([]byte, error) {
	raw, err := encoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("%w: bad encoding", ErrInvalid)
	}
	if len(raw) < v.aead.Overhead() {
		return nil, fmt.Errorf("%w: truncated", ErrInvalid)
	}
	payload, err := v.aead.Open(nil, zeroNonce[:], raw, nil)
	if err != nil {
		return nil, ErrInvalid
	}
	return payload, nil
}
