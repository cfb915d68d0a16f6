package challenge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mnemosign/mnemosign/identity"
	"github.com/mnemosign/mnemosign/seal"
)

// Status is the lifecycle state of a stored challenge record. Consumption
// is not a status: a consumed record is deleted, indistinguishable from one
// that expired or never existed.
type Status string

const (
	// StatusPending marks a record awaiting approval.
	StatusPending Status = "pending"
	// StatusPassed marks a record approved and carrying an identity payload.
	StatusPassed Status = "passed"
)

const (
	// DefaultTTL is the lifetime of a challenge record and its bearer token.
	DefaultTTL = 10 * time.Minute

	defaultPrefix = "challenge"
)

var (
	// ErrNotFound is returned when a record is absent from the store or its
	// stored identifier does not match the token's. The two cases are
	// deliberately indistinguishable: a caller never learns whether a code
	// ever existed.
	ErrNotFound = errors.New("challenge not found")
	// ErrConflict is returned when Create hits a code already in use, or
	// when Pass targets a record that is no longer pending.
	ErrConflict = errors.New("challenge conflict")
)

// Error signal values the Lua scripts reply with. Redis prefixes a script
// error_reply that carries no error code of its own with "ERR ", so the
// signals arrive as "ERR NOT_FOUND" and "ERR CONFLICT". Matched by exact
// value through the typed redis.Error surface, never by substring search.
const (
	replyNotFound = "NOT_FOUND"
	replyConflict = "CONFLICT"

	replyErrPrefix = "ERR "
)

// passScript transitions a pending record to passed and attaches the
// identity payload, preserving the record's original TTL.
// KEYS[1] = record key, ARGV[1] = expected identifier, ARGV[2] = payload JSON.
var passScript = redis.NewScript(`
local data = redis.call('GET', KEYS[1])
if not data then
  return redis.error_reply('NOT_FOUND')
end

local challenge = cjson.decode(data)
if challenge.id ~= ARGV[1] then
  return redis.error_reply('NOT_FOUND')
end

if challenge.status ~= 'pending' then
  return redis.error_reply('CONFLICT')
end

challenge.status = 'passed'
challenge.user = cjson.decode(ARGV[2])

redis.call('SET', KEYS[1], cjson.encode(challenge), 'KEEPTTL')
return redis.status_reply('OK')
`)

// consumeScript deletes a passed record and returns its identity payload,
// or returns nil without mutating when the record is still pending.
// KEYS[1] = record key, ARGV[1] = expected identifier.
var consumeScript = redis.NewScript(`
local data = redis.call('GET', KEYS[1])
if not data then
  return redis.error_reply('NOT_FOUND')
end

local challenge = cjson.decode(data)
if challenge.id ~= ARGV[1] then
  return redis.error_reply('NOT_FOUND')
end

if challenge.status ~= 'passed' then
  return false
end

redis.call('DEL', KEYS[1])
return cjson.encode(challenge.user)
`)

// cancelScript deletes a record regardless of status.
// KEYS[1] = record key, ARGV[1] = expected identifier.
var cancelScript = redis.NewScript(`
local data = redis.call('GET', KEYS[1])
if not data then
  return redis.error_reply('NOT_FOUND')
end

local challenge = cjson.decode(data)
if challenge.id ~= ARGV[1] then
  return redis.error_reply('NOT_FOUND')
end

redis.call('DEL', KEYS[1])
return redis.status_reply('OK')
`)

// record is the JSON document persisted under challenge:<code>. ExpiresAt
// duplicates the store-enforced TTL so a code-keyed lookup can re-mint the
// bearer token with the record's original expiry.
type record struct {
	ID          string         `json:"id"`
	ClientHints string         `json:"clientHints,omitempty"`
	Status      Status         `json:"status"`
	ExpiresAt   int64          `json:"exat"`
	User        *identity.User `json:"user,omitempty"`
}

// Options configures a Store. The zero value selects the defaults.
type Options struct {
	// Prefix namespaces record keys; defaults to "challenge".
	Prefix string
	// TTL is the record and token lifetime; defaults to DefaultTTL.
	TTL time.Duration
	// ClockTolerance is the leeway applied when checking token expiry.
	ClockTolerance time.Duration
	// Now overrides the wall clock, for tests.
	Now func() time.Time
}

// Store is the challenge state machine over a shared Redis instance. It is
// safe for concurrent use; all cross-request coordination happens in Redis.
type Store struct {
	rdb       redis.UniversalClient
	codec     *seal.ExpiringValue
	prefix    string
	ttl       time.Duration
	tolerance time.Duration
	now       func() time.Time
}

// NewStore builds a Store around an injected Redis client and the 32-byte
// seal key used for bearer tokens.
func NewStore(rdb redis.UniversalClient, sealKey []byte, opts Options) (*Store, error) {
	codec, err := seal.NewExpiring(sealKey)
	if err != nil {
		return nil, err
	}
	if opts.Prefix == "" {
		opts.Prefix = defaultPrefix
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Store{
		rdb:       rdb,
		codec:     codec,
		prefix:    opts.Prefix,
		ttl:       opts.TTL,
		tolerance: opts.ClockTolerance,
		now:       opts.Now,
	}, nil
}

// CreateResult is what a requester needs to start the handshake: the code
// for the side channel, the mnemonic for on-screen display, and the bearer
// token for polling.
type CreateResult struct {
	Code     string
	Token    string
	Mnemonic string
}

// ReadResult describes a pending challenge for display to the approver.
type ReadResult struct {
	Token       string
	Mnemonic    string
	ClientHints string
}

// PassResult acknowledges a pass transition.
type PassResult struct {
	Token  string
	Status Status
}

// ConsumeResult reports the outcome of a consume attempt. User is set iff
// Status is StatusPassed.
type ConsumeResult struct {
	Token  string
	Status Status
	User   *identity.User
}

// Create generates a fresh ref and inserts its pending record with an
// atomic insert-if-absent and a TTL of the configured lifetime. It returns
// ErrConflict when the code is already in use; the caller should retry with
// a fresh ref, never reuse one.
func (s *Store) Create(ctx context.Context, clientHints string) (*CreateResult, error) {
	ref, err := NewRef()
	if err != nil {
		return nil, err
	}
	exat := s.now().Unix() + int64(s.ttl/time.Second)

	data, err := json.Marshal(record{
		ID:          ref.ID,
		ClientHints: clientHints,
		Status:      StatusPending,
		ExpiresAt:   exat,
	})
	if err != nil {
		return nil, fmt.Errorf("challenge store: encode record: %w", err)
	}

	err = s.rdb.SetArgs(ctx, s.key(ref.Code), data, redis.SetArgs{
		Mode:     "NX",
		ExpireAt: time.Unix(exat, 0),
	}).Err()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: code already in use", ErrConflict)
	}
	if err != nil {
		return nil, fmt.Errorf("challenge store: %w", err)
	}

	token, err := ref.Token(s.codec, exat)
	if err != nil {
		return nil, err
	}
	mnemonic, err := ref.Mnemonic()
	if err != nil {
		return nil, err
	}
	return &CreateResult{Code: ref.Code, Token: token, Mnemonic: mnemonic}, nil
}

// Read looks up the pending challenge a bearer token refers to. It does not
// mutate state; a record read here may be passed, cancelled, or consumed a
// moment later, and the mutating calls re-validate on their own.
func (s *Store) Read(ctx context.Context, token string) (*ReadResult, error) {
	ref, err := s.refFromToken(token)
	if err != nil {
		return nil, err
	}
	rec, err := s.get(ctx, ref.Code)
	if err != nil {
		return nil, err
	}
	if rec.ID != ref.ID || rec.Status != StatusPending {
		return nil, ErrNotFound
	}

	mnemonic, err := ref.Mnemonic()
	if err != nil {
		return nil, err
	}
	return &ReadResult{Token: token, Mnemonic: mnemonic, ClientHints: rec.ClientHints}, nil
}

// ReadCode looks up a pending challenge by its human-typed code and mints
// the bearer token from the record's stored expiry, so the token handed to
// the approver dies exactly when the record does.
func (s *Store) ReadCode(ctx context.Context, code string) (*ReadResult, error) {
	if !IsValidCode(code) {
		return nil, ErrNotFound
	}
	rec, err := s.get(ctx, code)
	if err != nil {
		return nil, err
	}
	if rec.Status != StatusPending {
		return nil, ErrNotFound
	}

	ref, err := RefFromID(rec.ID)
	if err != nil {
		return nil, fmt.Errorf("challenge store: corrupt record identifier: %w", err)
	}
	token, err := ref.Token(s.codec, rec.ExpiresAt)
	if err != nil {
		return nil, err
	}
	mnemonic, err := ref.Mnemonic()
	if err != nil {
		return nil, err
	}
	return &ReadResult{Token: token, Mnemonic: mnemonic, ClientHints: rec.ClientHints}, nil
}

// Pass atomically transitions the challenge to passed and attaches the
// identity payload, preserving the record's remaining TTL. It returns
// ErrConflict when the record is no longer pending; after a transport
// failure that may or may not have applied, a retry seeing ErrConflict
// usually means the first attempt succeeded.
func (s *Store) Pass(ctx context.Context, token string, user *identity.User) (*PassResult, error) {
	ref, err := s.refFromToken(token)
	if err != nil {
		return nil, err
	}
	encoded, err := json.Marshal(user)
	if err != nil {
		return nil, fmt.Errorf("challenge store: encode identity payload: %w", err)
	}

	if err := scriptErr(passScript.Run(ctx, s.rdb, []string{s.key(ref.Code)}, ref.ID, string(encoded)).Err()); err != nil {
		return nil, err
	}
	return &PassResult{Token: token, Status: StatusPassed}, nil
}

// TryConsume redeems a passed challenge exactly once: the record is deleted
// in the same atomic step that returns its identity payload, so a second
// consume sees ErrNotFound. A still-pending record is left untouched and
// reported as pending. Pollers that saw pending earlier must treat a later
// ErrNotFound as ambiguous between "another consumer won" and "expired".
func (s *Store) TryConsume(ctx context.Context, token string) (*ConsumeResult, error) {
	ref, err := s.refFromToken(token)
	if err != nil {
		return nil, err
	}

	res, err := consumeScript.Run(ctx, s.rdb, []string{s.key(ref.Code)}, ref.ID).Text()
	if errors.Is(err, redis.Nil) {
		return &ConsumeResult{Token: token, Status: StatusPending}, nil
	}
	if err != nil {
		return nil, scriptErr(err)
	}

	user := &identity.User{}
	if err := json.Unmarshal([]byte(res), user); err != nil {
		return nil, fmt.Errorf("challenge store: decode identity payload: %w", err)
	}
	return &ConsumeResult{Token: token, Status: StatusPassed, User: user}, nil
}

// Cancel atomically deletes the challenge regardless of status. Used for
// explicit rejection.
func (s *Store) Cancel(ctx context.Context, token string) error {
	ref, err := s.refFromToken(token)
	if err != nil {
		return err
	}
	return scriptErr(cancelScript.Run(ctx, s.rdb, []string{s.key(ref.Code)}, ref.ID).Err())
}

func (s *Store) key(code string) string {
	return s.prefix + ":" + code
}

func (s *Store) refFromToken(token string) (*Ref, error) {
	return RefFromToken(s.codec, token, s.now(), s.tolerance)
}

func (s *Store) get(ctx context.Context, code string) (*record, error) {
	data, err := s.rdb.Get(ctx, s.key(code)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("challenge store: %w", err)
	}

	rec := &record{}
	if err := json.Unmarshal(data, rec); err != nil {
		return nil, fmt.Errorf("challenge store: decode record: %w", err)
	}
	return rec, nil
}

// scriptErr translates the tagged error replies of the atomic scripts into
// the package's sentinel errors. Script replies arrive as typed
// redis.Error values under the server's "ERR " code and are matched by
// exact content after that code is stripped.
func scriptErr(err error) error {
	if err == nil {
		return nil
	}
	var reply redis.Error
	if errors.As(err, &reply) && !errors.Is(err, redis.Nil) {
		switch strings.TrimPrefix(reply.Error(), replyErrPrefix) {
		case replyNotFound:
			return ErrNotFound
		case replyConflict:
			return ErrConflict
		}
	}
	return fmt.Errorf("challenge store: %w", err)
}
