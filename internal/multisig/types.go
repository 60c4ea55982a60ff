package multisig

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// SignerInfo identifies one member of the signing roster. Immutable once
// loaded into a MultiSigConfig.
type SignerInfo struct {
	ID        string `json:"id"`
	PublicKey string `json:"public_key"` // hex-encoded 32-byte Ed25519 key
	Role      string `json:"role"`
}

// MultiSigConfig is the static M-of-N roster a Verifier is built from.
type MultiSigConfig struct {
	Threshold               int          `json:"threshold"`
	Signers                 []SignerInfo `json:"signers"`
	SignatureTimeoutMinutes int          `json:"signature_timeout_minutes"`
}

// Signature is one signer's detached signature over a canonical message.
type Signature struct {
	SignerID  string    `json:"signer_id"`
	Signature string    `json:"signature"` // base64
	Timestamp time.Time `json:"timestamp"`
}

// MultiSignature bundles the message, the anti-replay nonce and the collected
// signatures. This is the unit submitted for verification.
type MultiSignature struct {
	Message    string      `json:"message"`
	Nonce      string      `json:"nonce"`
	Signatures []Signature `json:"signatures"`
}

// VerificationResult reports the outcome of verifying a MultiSignature.
// It is derived per call and never persisted.
type VerificationResult struct {
	Valid             bool     `json:"valid"`
	ValidSignatures   int      `json:"valid_signatures"`
	RequiredThreshold int      `json:"required_threshold"`
	InvalidSigners    []string `json:"invalid_signers,omitempty"`
	Errors            []string `json:"errors,omitempty"`
}

// DefaultSignatureTimeoutMinutes is applied when a roster file omits the
// signature_timeout_minutes field.
const DefaultSignatureTimeoutMinutes = 60

// LoadConfig reads a multisig roster from a JSON file. A roster that omits
// the signature timeout gets the default; it never loads with expiry off.
func LoadConfig(path string) (*MultiSigConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read signers file: %w", err)
	}

	var cfg MultiSigConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse signers file: %w", err)
	}

	if cfg.SignatureTimeoutMinutes == 0 {
		cfg.SignatureTimeoutMinutes = DefaultSignatureTimeoutMinutes
	}

	return &cfg, nil
}
