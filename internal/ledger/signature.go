package ledger

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"

	"github.com/dativo-io/verity/internal/cryptoutil"
)

const sealPrefix = "hmac-sha256:"

// Signer seals ledger records with HMAC-SHA256.
type Signer struct {
	key []byte
}

// NewSigner creates an HMAC-SHA256 signer. Key must be at least 32 raw bytes
// or 64+ hex characters (decoded ≥32 bytes).
func NewSigner(key string) (*Signer, error) {
	keyBytes, err := resolveSigningKey(key)
	if err != nil {
		return nil, err
	}
	return &Signer{key: keyBytes}, nil
}

func resolveSigningKey(key string) ([]byte, error) {
	if len(key) >= 64 && len(key)%2 == 0 && cryptoutil.IsHexString(key) {
		decoded, err := hex.DecodeString(key)
		if err != nil {
			return nil, fmt.Errorf("signing key hex decode: %w", err)
		}
		if len(decoded) < 32 {
			return nil, fmt.Errorf("signing key hex must decode to at least 32 bytes (got %d)", len(decoded))
		}
		return decoded, nil
	}
	if len(key) < 32 {
		return nil, fmt.Errorf("signing key must be at least 32 bytes (got %d)", len(key))
	}
	return []byte(key), nil
}

// Sign returns "hmac-sha256:<hex>" over data.
func (s *Signer) Sign(data []byte) string {
	h := hmac.New(sha256.New, s.key)
	h.Write(data)
	return sealPrefix + hex.EncodeToString(h.Sum(nil))
}

// Verify checks seal against data in constant time.
func (s *Signer) Verify(data []byte, seal string) bool {
	return hmac.Equal([]byte(s.Sign(data)), []byte(seal))
}

// sealBytes is the canonical form a seal covers: the record with Seal cleared.
func sealBytes(rec CallRecord) ([]byte, error) {
	rec.Seal = ""
	raw, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("marshaling record %s: %w", rec.CallID, err)
	}
	return jcs.Transform(raw)
}
