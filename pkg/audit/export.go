package audit

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/Mindburn-Labs/loom/pkg/archive"
	"github.com/Mindburn-Labs/loom/pkg/canonicalize"
	"github.com/Mindburn-Labs/loom/pkg/merkle"
	"github.com/Mindburn-Labs/loom/pkg/signing"
)

var (
	// ErrInvalidTimeRange is returned when the start of a range is after its end.
	ErrInvalidTimeRange = errors.New("audit: since must be before until")
	// ErrTrailNotConfigured is returned when export is invoked without a trail.
	ErrTrailNotConfigured = errors.New("audit: trail not configured")
	// ErrNoEntries is returned when nothing matches the export filter.
	ErrNoEntries = errors.New("audit: no entries match filter")
)

// ExportRequest defines which slice of the trail to export.
type ExportRequest struct {
	ClassName string     `json:"class_name,omitempty"`
	Since     *time.Time `json:"since,omitempty"`
	Until     *time.Time `json:"until,omitempty"`
}

// Bundle describes one exported evidence pack.
type Bundle struct {
	BundleID    string    `json:"bundle_id"`
	GeneratedAt time.Time `json:"generated_at"`
	EntryCount  int       `json:"entry_count"`
	ChainHead   string    `json:"chain_head"`
	EntriesHash string    `json:"entries_hash"`
	MerkleRoot  string    `json:"merkle_root"`
	Checksum    string    `json:"checksum"`
	ArchiveRef  string    `json:"archive_ref,omitempty"`
	Attestation string    `json:"attestation,omitempty"`
}

// Exporter cuts verifiable evidence packs from a trail. Attestor and archive
// are optional; without them packs are unsigned and stay local.
type Exporter struct {
	trail    *Trail
	attestor *signing.Attestor
	archive  archive.Store
}

func NewExporter(t *Trail) *Exporter {
	return &Exporter{trail: t}
}

// WithAttestor makes the exporter sign each pack.
func (e *Exporter) WithAttestor(a *signing.Attestor) *Exporter {
	e.attestor = a
	return e
}

// WithArchive makes the exporter upload each pack.
func (e *Exporter) WithArchive(s archive.Store) *Exporter {
	e.archive = s
	return e
}

// GeneratePack creates a zip with the matching entries, a manifest, and an
// optional attestation, then uploads it when an archive is configured.
func (e *Exporter) GeneratePack(ctx context.Context, req ExportRequest) ([]byte, *Bundle, error) {
	if e.trail == nil {
		return nil, nil, ErrTrailNotConfigured
	}
	if req.Since != nil && req.Until != nil && req.Since.After(*req.Until) {
		return nil, nil, ErrInvalidTimeRange
	}

	filter := Filter{ClassName: req.ClassName, Since: req.Since, Until: req.Until}
	entries := e.trail.Query(filter)
	if len(entries) == 0 {
		return nil, nil, ErrNoEntries
	}

	entriesJSON, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return nil, nil, fmt.Errorf("audit: failed to marshal entries: %w", err)
	}

	bundle := &Bundle{
		BundleID:    uuid.New().String(),
		GeneratedAt: time.Now().UTC(),
		EntryCount:  len(entries),
		ChainHead:   entries[len(entries)-1].EntryHash,
		EntriesHash: "sha256:" + canonicalize.HashBytes(entriesJSON),
		MerkleRoot:  merkle.Build(entryLeaves(entries)).Root(),
	}

	if e.attestor != nil {
		token, err := e.attestor.Attest(bundle.BundleID, bundle.EntriesHash, bundle.MerkleRoot, bundle.ChainHead, bundle.EntryCount)
		if err != nil {
			return nil, nil, fmt.Errorf("audit: attestation failed: %w", err)
		}
		bundle.Attestation = token
	}

	manifest := map[string]interface{}{
		"bundle_id":    bundle.BundleID,
		"generated_at": bundle.GeneratedAt,
		"entry_count":  bundle.EntryCount,
		"chain_head":   bundle.ChainHead,
		"entries_hash": bundle.EntriesHash,
		"merkle_root":  bundle.MerkleRoot,
		"request":      req,
	}
	manifestJSON, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, nil, fmt.Errorf("audit: failed to marshal manifest: %w", err)
	}

	buf := new(bytes.Buffer)
	w := zip.NewWriter(buf)

	f, err := w.Create("entries.json")
	if err != nil {
		return nil, nil, err
	}
	_, _ = f.Write(entriesJSON)

	f, err = w.Create("manifest.json")
	if err != nil {
		return nil, nil, err
	}
	_, _ = f.Write(manifestJSON)

	if bundle.Attestation != "" {
		f, err = w.Create("attestation.jwt")
		if err != nil {
			return nil, nil, err
		}
		_, _ = f.Write([]byte(bundle.Attestation))
	}

	f, err = w.Create("README.txt")
	if err != nil {
		return nil, nil, err
	}
	_, _ = fmt.Fprintf(f, "Transformation evidence pack %s\nGenerated at %s\nEntries: %d\n",
		bundle.BundleID, bundle.GeneratedAt.Format(time.RFC3339), bundle.EntryCount)

	if err := w.Close(); err != nil {
		return nil, nil, err
	}

	zipBytes := buf.Bytes()
	bundle.Checksum = "sha256:" + canonicalize.HashBytes(zipBytes)

	if e.archive != nil {
		ref, err := e.archive.Store(ctx, zipBytes)
		if err != nil {
			return nil, nil, fmt.Errorf("audit: archive upload failed: %w", err)
		}
		bundle.ArchiveRef = ref
	}

	return zipBytes, bundle, nil
}

// PackAttestation pulls the attestation token out of a pack, empty when the
// pack was cut unsigned.
func PackAttestation(zipBytes []byte) (string, error) {
	r, err := zip.NewReader(bytes.NewReader(zipBytes), int64(len(zipBytes)))
	if err != nil {
		return "", fmt.Errorf("audit: not a zip: %w", err)
	}
	for _, f := range r.File {
		if f.Name != "attestation.jwt" {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return "", err
		}
		data := new(bytes.Buffer)
		_, _ = data.ReadFrom(rc)
		_ = rc.Close()
		return data.String(), nil
	}
	return "", nil
}

// VerifyPack checks a pack's internal consistency: the entries hash recorded
// in the manifest, the chain linkage of the contained entries, and the
// Merkle root committed over them.
func VerifyPack(zipBytes []byte) error {
	r, err := zip.NewReader(bytes.NewReader(zipBytes), int64(len(zipBytes)))
	if err != nil {
		return fmt.Errorf("audit: not a zip: %w", err)
	}

	var entriesJSON, manifestJSON []byte
	for _, f := range r.File {
		rc, err := f.Open()
		if err != nil {
			return err
		}
		data := new(bytes.Buffer)
		_, _ = data.ReadFrom(rc)
		_ = rc.Close()

		switch f.Name {
		case "entries.json":
			entriesJSON = data.Bytes()
		case "manifest.json":
			manifestJSON = data.Bytes()
		}
	}
	if entriesJSON == nil || manifestJSON == nil {
		return errors.New("audit: pack is missing entries.json or manifest.json")
	}

	var manifest struct {
		EntriesHash string `json:"entries_hash"`
		MerkleRoot  string `json:"merkle_root"`
	}
	if err := json.Unmarshal(manifestJSON, &manifest); err != nil {
		return fmt.Errorf("audit: bad manifest: %w", err)
	}
	if got := "sha256:" + canonicalize.HashBytes(entriesJSON); got != manifest.EntriesHash {
		return fmt.Errorf("audit: entries hash mismatch (manifest %s, computed %s)", manifest.EntriesHash, got)
	}

	var entries []*Entry
	if err := json.Unmarshal(entriesJSON, &entries); err != nil {
		return fmt.Errorf("audit: bad entries: %w", err)
	}
	for i := 1; i < len(entries); i++ {
		if entries[i].PreviousHash != entries[i-1].EntryHash {
			return fmt.Errorf("%w: pack chain broken at entry %d", ErrChainBroken, i)
		}
	}
	if got := merkle.Build(entryLeaves(entries)).Root(); got != manifest.MerkleRoot {
		return fmt.Errorf("audit: merkle root mismatch (manifest %s, computed %s)", manifest.MerkleRoot, got)
	}
	return nil
}

// entryLeaves maps trail entries to Merkle leaves in sequence order. The
// leaf commits to the entry hash, which already covers the entry body.
func entryLeaves(entries []*Entry) []merkle.Item {
	items := make([]merkle.Item, len(entries))
	for i, e := range entries {
		items[i] = merkle.Item{Ref: e.EntryID, Data: []byte(e.EntryHash)}
	}
	return items
}

// PackInclusionProof cuts the inclusion proof for one entry of a pack. Ref
// is the entry ID or its sequence number.
func PackInclusionProof(zipBytes []byte, ref string) (*merkle.Proof, error) {
	r, err := zip.NewReader(bytes.NewReader(zipBytes), int64(len(zipBytes)))
	if err != nil {
		return nil, fmt.Errorf("audit: not a zip: %w", err)
	}

	var entriesJSON []byte
	for _, f := range r.File {
		if f.Name != "entries.json" {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, err
		}
		data := new(bytes.Buffer)
		_, _ = data.ReadFrom(rc)
		_ = rc.Close()
		entriesJSON = data.Bytes()
	}
	if entriesJSON == nil {
		return nil, errors.New("audit: pack is missing entries.json")
	}

	var entries []*Entry
	if err := json.Unmarshal(entriesJSON, &entries); err != nil {
		return nil, fmt.Errorf("audit: bad entries: %w", err)
	}

	entryID := ref
	for _, e := range entries {
		if strconv.FormatUint(e.Sequence, 10) == ref {
			entryID = e.EntryID
			break
		}
	}
	return merkle.Build(entryLeaves(entries)).Prove(entryID)
}
