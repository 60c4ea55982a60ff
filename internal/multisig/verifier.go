package multisig

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidThreshold = errors.New("threshold must be between 1 and the number of signers")
	ErrInvalidPublicKey = errors.New("signer public key is not a valid hex-encoded Ed25519 key")
	ErrDuplicateSigner  = errors.New("signer roster contains duplicate IDs")
	ErrInvalidTimeout   = errors.New("signature timeout must be at least 1 minute")
)

// Verifier validates M-of-N threshold signatures against an immutable roster.
// It holds no mutable state and is safe for concurrent use.
type Verifier struct {
	config *MultiSigConfig
	keys   map[string]ed25519.PublicKey
}

// NewVerifier builds a Verifier, decoding and validating every roster key up
// front so Verify never has to deal with a malformed roster.
func NewVerifier(config *MultiSigConfig) (*Verifier, error) {
	if config.Threshold < 1 || config.Threshold > len(config.Signers) {
		return nil, fmt.Errorf("%w: threshold %d with %d signers", ErrInvalidThreshold, config.Threshold, len(config.Signers))
	}
	// A zero timeout would verify arbitrarily old signatures, so it is a
	// roster error rather than an "expiry disabled" mode.
	if config.SignatureTimeoutMinutes < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidTimeout, config.SignatureTimeoutMinutes)
	}

	keys := make(map[string]ed25519.PublicKey, len(config.Signers))
	for _, signer := range config.Signers {
		if _, ok := keys[signer.ID]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateSigner, signer.ID)
		}
		raw, err := hex.DecodeString(signer.PublicKey)
		if err != nil {
			return nil, fmt.Errorf("%w: signer %s: %v", ErrInvalidPublicKey, signer.ID, err)
		}
		if len(raw) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("%w: signer %s: got %d bytes, want %d", ErrInvalidPublicKey, signer.ID, len(raw), ed25519.PublicKeySize)
		}
		keys[signer.ID] = ed25519.PublicKey(raw)
	}

	return &Verifier{config: config, keys: keys}, nil
}

// Threshold returns the number of valid signatures required.
func (v *Verifier) Threshold() int {
	return v.config.Threshold
}

// Verify checks every submitted signature against the roster and reports how
// many count toward the threshold. An insufficient set is a normal outcome,
// not an error: the result is returned either way. Duplicate signer IDs are
// deduplicated first-occurrence-wins; unknown signers, expired signatures and
// bad encodings count against that signer only.
func (v *Verifier) Verify(sig *MultiSignature) (*VerificationResult, error) {
	result := &VerificationResult{
		RequiredThreshold: v.config.Threshold,
	}

	payload := []byte(sig.Message + sig.Nonce)
	timeout := time.Duration(v.config.SignatureTimeoutMinutes) * time.Minute

	seen := make(map[string]bool, len(sig.Signatures))
	for _, s := range sig.Signatures {
		if seen[s.SignerID] {
			continue
		}
		seen[s.SignerID] = true

		key, ok := v.keys[s.SignerID]
		if !ok {
			result.InvalidSigners = append(result.InvalidSigners, s.SignerID)
			result.Errors = append(result.Errors, fmt.Sprintf("unknown signer: %s", s.SignerID))
			continue
		}

		if time.Since(s.Timestamp) > timeout {
			result.InvalidSigners = append(result.InvalidSigners, s.SignerID)
			result.Errors = append(result.Errors, fmt.Sprintf("signature expired for signer: %s", s.SignerID))
			continue
		}

		raw, err := base64.StdEncoding.DecodeString(s.Signature)
		if err != nil {
			result.InvalidSigners = append(result.InvalidSigners, s.SignerID)
			result.Errors = append(result.Errors, fmt.Sprintf("malformed signature from signer %s: %v", s.SignerID, err))
			continue
		}

		if !ed25519.Verify(key, payload, raw) {
			result.InvalidSigners = append(result.InvalidSigners, s.SignerID)
			result.Errors = append(result.Errors, fmt.Sprintf("signature verification failed for signer: %s", s.SignerID))
			continue
		}

		result.ValidSignatures++
	}

	result.Valid = result.ValidSignatures >= v.config.Threshold
	return result, nil
}

// Sign produces a deterministic Ed25519 signature over message||nonce,
// base64-encoded. The nonce binds the signature to one operation so it cannot
// be replayed against another operation with the same message text.
func Sign(privateKey ed25519.PrivateKey, message, nonce string) (string, error) {
	if len(privateKey) != ed25519.PrivateKeySize {
		return "", fmt.Errorf("invalid private key size: got %d, want %d", len(privateKey), ed25519.PrivateKeySize)
	}

	sig := ed25519.Sign(privateKey, []byte(message+nonce))
	return base64.StdEncoding.EncodeToString(sig), nil
}

// GenerateKeyPair produces a fresh Ed25519 key pair with the public key
// hex-encoded for roster files.
func GenerateKeyPair() (string, ed25519.PrivateKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return "", nil, fmt.Errorf("generate key pair: %w", err)
	}

	return hex.EncodeToString(pub), priv, nil
}

// DefaultConfig returns a 2-of-3 bootstrap roster with freshly generated
// throwaway keys. It exists for development and tests only; operators must
// provide a real roster file before anything signed with it matters.
func DefaultConfig() *MultiSigConfig {
	signers := make([]SignerInfo, 0, 3)
	for i := 1; i <= 3; i++ {
		pub, _, err := GenerateKeyPair()
		if err != nil {
			continue
		}
		signers = append(signers, SignerInfo{
			ID:        fmt.Sprintf("admin-%d", i),
			PublicKey: pub,
			Role:      "admin",
		})
	}

	return &MultiSigConfig{
		Threshold:               2,
		Signers:                 signers,
		SignatureTimeoutMinutes: 60,
	}
}
