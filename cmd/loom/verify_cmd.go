package main

import (
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/Mindburn-Labs/loom/pkg/audit"
	"github.com/Mindburn-Labs/loom/pkg/merkle"
	"github.com/Mindburn-Labs/loom/pkg/signing"
)

// runVerifyCmd implements `loom verify`.
//
// Validates an evidence pack offline: structure, per-entry hashes, the hash
// chain, the manifest checksum, and the Merkle root. With --key it also
// checks the Ed25519 attestation, so an auditor needs nothing but the pack
// and the published verification key. --prove additionally cuts the
// Merkle inclusion proof for one entry; combined with --key the proof is
// checked against the root bound into the attestation.
//
// Exit codes:
//
//	0 = verification passed
//	1 = verification failed
//	2 = runtime error
func runVerifyCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("verify", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		packPath   string
		keyHex     string
		proveRef   string
		jsonOutput bool
	)

	cmd.StringVar(&packPath, "pack", "", "Path to the evidence pack zip (REQUIRED)")
	cmd.StringVar(&keyHex, "key", "", "Hex Ed25519 verification key, or a path to one")
	cmd.StringVar(&proveRef, "prove", "", "Entry ID or sequence to cut an inclusion proof for")
	cmd.BoolVar(&jsonOutput, "json", false, "Output result as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}

	if packPath == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --pack is required")
		return 2
	}

	zipBytes, err := os.ReadFile(packPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: read pack: %v\n", err)
		return 2
	}

	result := map[string]any{"pack": packPath, "valid": false}

	if err := audit.VerifyPack(zipBytes); err != nil {
		result["error"] = err.Error()
		return printVerifyResult(stdout, stderr, result, jsonOutput)
	}

	var claims *signing.AttestationClaims
	if keyHex != "" {
		pub, err := resolveVerificationKey(keyHex)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
		token, err := audit.PackAttestation(zipBytes)
		if err != nil {
			result["error"] = fmt.Sprintf("read attestation: %v", err)
			return printVerifyResult(stdout, stderr, result, jsonOutput)
		}
		if token == "" {
			result["error"] = "pack is not attested"
			return printVerifyResult(stdout, stderr, result, jsonOutput)
		}
		claims, err = signing.VerifyAttestation(pub, token)
		if err != nil {
			result["error"] = fmt.Sprintf("attestation: %v", err)
			return printVerifyResult(stdout, stderr, result, jsonOutput)
		}
		result["bundle_id"] = claims.BundleID
		result["entries"] = claims.EntryCount
		result["chain_head"] = claims.ChainHead
		result["merkle_root"] = claims.MerkleRoot
		result["attested"] = true
	}

	var proof *merkle.Proof
	if proveRef != "" {
		proof, err = audit.PackInclusionProof(zipBytes, proveRef)
		if err != nil {
			result["error"] = fmt.Sprintf("inclusion proof: %v", err)
			return printVerifyResult(stdout, stderr, result, jsonOutput)
		}
		// VerifyPack pinned the pack root already; an attestation upgrades
		// the check to the signed root.
		root := proof.Root
		if claims != nil {
			root = claims.MerkleRoot
		}
		if !merkle.VerifyProof(proof, root) {
			result["error"] = fmt.Sprintf("inclusion proof for %q does not match root %s", proveRef, root)
			return printVerifyResult(stdout, stderr, result, jsonOutput)
		}
		result["proof"] = proof
	}

	result["valid"] = true
	if jsonOutput {
		data, _ := json.MarshalIndent(result, "", "  ")
		_, _ = fmt.Fprintln(stdout, string(data))
		return 0
	}

	_, _ = fmt.Fprintf(stdout, "%sPack verification PASSED%s\n", ColorBold+ColorGreen, ColorReset)
	_, _ = fmt.Fprintf(stdout, "Pack: %s\n", packPath)
	if claims != nil {
		_, _ = fmt.Fprintf(stdout, "Bundle:     %s\n", claims.BundleID)
		_, _ = fmt.Fprintf(stdout, "Entries:    %d\n", claims.EntryCount)
		_, _ = fmt.Fprintf(stdout, "Chain head: %s\n", claims.ChainHead)
		_, _ = fmt.Fprintf(stdout, "Merkle root: %s\n", claims.MerkleRoot)
		_, _ = fmt.Fprintln(stdout, "Attested:   yes")
	}
	if proof != nil {
		_, _ = fmt.Fprintf(stdout, "%sInclusion proof VERIFIED%s for entry %s\n", ColorBold+ColorGreen, ColorReset, proof.Ref)
		data, _ := json.MarshalIndent(proof, "", "  ")
		_, _ = fmt.Fprintln(stdout, string(data))
	}
	return 0
}

func printVerifyResult(stdout, stderr io.Writer, result map[string]any, jsonOutput bool) int {
	if jsonOutput {
		data, _ := json.MarshalIndent(result, "", "  ")
		_, _ = fmt.Fprintln(stdout, string(data))
		return 1
	}
	_, _ = fmt.Fprintf(stdout, "%sPack verification FAILED%s\n", ColorBold+ColorRed, ColorReset)
	_, _ = fmt.Fprintf(stdout, "Pack: %s\n", result["pack"])
	_, _ = fmt.Fprintf(stderr, "  - %s\n", result["error"])
	return 1
}

// resolveVerificationKey accepts either a hex key directly or a path to a
// file holding one, such as data/attest.pub.
func resolveVerificationKey(keyHex string) (ed25519.PublicKey, error) {
	if data, err := os.ReadFile(keyHex); err == nil {
		keyHex = string(data)
	}
	raw, err := hex.DecodeString(strings.TrimSpace(keyHex))
	if err != nil {
		return nil, fmt.Errorf("verification key must be hex: %w", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("verification key must be %d bytes, got %d", ed25519.PublicKeySize, len(raw))
	}
	return ed25519.PublicKey(raw), nil
}
