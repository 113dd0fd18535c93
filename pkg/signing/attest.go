package signing

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AttestationClaims binds an evidence bundle to the trail state it was cut
// from.
type AttestationClaims struct {
	jwt.RegisteredClaims
	BundleID   string `json:"bundle_id"`
	BundleHash string `json:"bundle_hash"`
	MerkleRoot string `json:"merkle_root,omitempty"`
	EntryCount int    `json:"entry_count"`
	ChainHead  string `json:"chain_head"`
}

// Attestor mints EdDSA JWTs over bundle digests. Verification only needs the
// public key, so auditors can check bundles offline.
type Attestor struct {
	keys   KeyProvider
	issuer string
}

func NewAttestor(keys KeyProvider, issuer string) *Attestor {
	if issuer == "" {
		issuer = "loom"
	}
	return &Attestor{keys: keys, issuer: issuer}
}

// Attest signs the bundle identity and digests. The Merkle root rides in
// the claims so single-entry inclusion proofs can be checked against the
// token alone. The token is minted through the KeyProvider so HSM-backed
// keys never leave their backend.
func (a *Attestor) Attest(bundleID, bundleHash, merkleRoot, chainHead string, entryCount int) (string, error) {
	if a.keys == nil {
		return "", fmt.Errorf("attestor: no key provider configured")
	}

	claims := AttestationClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   a.issuer,
			Subject:  bundleID,
			IssuedAt: jwt.NewNumericDate(time.Now().UTC()),
		},
		BundleID:   bundleID,
		BundleHash: bundleHash,
		MerkleRoot: merkleRoot,
		EntryCount: entryCount,
		ChainHead:  chainHead,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	signingString, err := token.SigningString()
	if err != nil {
		return "", fmt.Errorf("attestor: signing string: %w", err)
	}
	sig, err := a.keys.Sign([]byte(signingString))
	if err != nil {
		return "", fmt.Errorf("attestor: sign: %w", err)
	}
	return signingString + "." + base64.RawURLEncoding.EncodeToString(sig), nil
}

// PublicKey returns the verification key so it can be published.
func (a *Attestor) PublicKey() ed25519.PublicKey {
	if a.keys == nil {
		return nil
	}
	return a.keys.PublicKey()
}

// Verify parses and checks an attestation token against the attestor's
// public key.
func (a *Attestor) Verify(tokenString string) (*AttestationClaims, error) {
	return VerifyAttestation(a.keys.PublicKey(), tokenString)
}

// VerifyAttestation checks an attestation token against a bare public key,
// for auditors who only hold the published verification key.
func VerifyAttestation(pub ed25519.PublicKey, tokenString string) (*AttestationClaims, error) {
	claims := &AttestationClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return pub, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, fmt.Errorf("attestor: invalid token")
	}
	return claims, nil
}
