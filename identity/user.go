package identity

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/mnemosign/mnemosign/seal"
)

// User is the identity payload attached to a challenge at the pass
// transition. ID is the obfuscated public form of the approver's account;
// Image is best-effort and may be empty.
type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Lang  string `json:"lang"`
	Image string `json:"image,omitempty"`
}

const refSize = 8

// Ref identifies a messenger account by its numeric ID.
type Ref struct {
	accountID int64
}

// NewRef wraps a numeric account ID.
func NewRef(accountID int64) Ref {
	return Ref{accountID: accountID}
}

// FromPublicID inverts PublicID. It returns an error wrapping
// seal.ErrInvalid when the public ID was not produced under the same key.
func FromPublicID(codec *seal.IDValue, publicID string) (Ref, error) {
	raw, err := codec.Unseal(publicID)
	if err != nil {
		return Ref{}, fmt.Errorf("identity: public id: %w", err)
	}
	if len(raw) != refSize {
		return Ref{}, fmt.Errorf("identity: public id: %w", seal.ErrInvalid)
	}
	return Ref{accountID: int64(binary.BigEndian.Uint64(raw))}, nil
}

// AccountID returns the wrapped numeric account ID.
func (r Ref) AccountID() int64 {
	return r.accountID
}

// PublicID returns the deterministic sealed form of the account ID. Equal
// accounts always produce the same public ID under the same key.
func (r Ref) PublicID(codec *seal.IDValue) string {
	return codec.Seal(r.bytes())
}

// Digest returns a stable hex digest of the account ID, used as an opaque
// object name for re-hosted profile photos.
func (r Ref) Digest() string {
	sum := sha256.Sum256(r.bytes())
	return hex.EncodeToString(sum[:])
}

func (r Ref) bytes() []byte {
	b := make([]byte, refSize)
	binary.BigEndian.PutUint64(b, uint64(r.accountID))
	return b
}
