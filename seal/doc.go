// Package seal encodes arbitrary payloads into compact, URL-safe,
// authenticated tokens.
//
// All three variants share one AEAD primitive (AES-256-GCM-SIV, 96-bit
// nonce) and one construction: base64url(nonce || ciphertext+tag), with
// the nonce omitted from the token in the deterministic variant.
//
//   - Value seals with a fresh random nonce on every call.
//   - ExpiringValue stamps an absolute unix-seconds expiry into the first
//     four nonce bytes before encryption, so the expiry is readable without
//     the key but cannot be forged without it.
//   - IDValue always uses the all-zero nonce, making sealing a deterministic
//     function of (key, payload). The nonce-misuse resistance of GCM-SIV is
//     what keeps the fixed nonce sound; even so, equal payloads produce
//     equal tokens, so IDValue is only for obfuscating stable identifiers
//     where linkability is acceptable. Never use it for bearer tokens.
//
// The package holds no state beyond the key. Keys must be exactly 32 bytes
// and are validated at the point of use, since they usually arrive from
// late-bound configuration.
package seal
