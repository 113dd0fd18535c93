// Package merkle builds Merkle trees over trail entries so one entry's
// membership in an evidence pack can be proven without shipping the whole
// pack.
package merkle

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
)

// Domain separation tags. Leaf and node inputs must never collide, or an
// inner node could be presented as a leaf.
const (
	leafTag = "loom:trail:leaf:v1"
	nodeTag = "loom:trail:node:v1"
)

// ErrLeafNotFound is returned when proving a ref the tree does not contain.
var ErrLeafNotFound = errors.New("merkle: leaf not found")

// Item is one leaf input: a stable reference and the bytes it commits to.
type Item struct {
	Ref  string
	Data []byte
}

// Tree is an immutable Merkle tree. Odd levels are balanced by duplicating
// the last node.
type Tree struct {
	refs   map[string]int
	levels [][]string
}

// Build constructs the tree over items in the given order. Order is part of
// the commitment, so callers must feed a deterministic sequence.
func Build(items []Item) *Tree {
	t := &Tree{refs: make(map[string]int, len(items))}
	if len(items) == 0 {
		return t
	}

	level := make([]string, len(items))
	for i, item := range items {
		t.refs[item.Ref] = i
		level[i] = leafHash(item)
	}

	t.levels = append(t.levels, level)
	for len(level) > 1 {
		level = nextLevel(level)
		t.levels = append(t.levels, level)
	}
	return t
}

// Root returns the hex root hash, empty for an empty tree.
func (t *Tree) Root() string {
	if len(t.levels) == 0 {
		return ""
	}
	return t.levels[len(t.levels)-1][0]
}

// Len returns the number of leaves.
func (t *Tree) Len() int {
	return len(t.refs)
}

// Prove returns the inclusion proof for ref.
func (t *Tree) Prove(ref string) (*Proof, error) {
	idx, ok := t.refs[ref]
	if !ok {
		return nil, fmt.Errorf("prove %q: %w", ref, ErrLeafNotFound)
	}

	proof := &Proof{
		Ref:      ref,
		LeafHash: t.levels[0][idx],
		Root:     t.Root(),
	}
	for _, level := range t.levels[:len(t.levels)-1] {
		sibling := idx ^ 1
		if sibling >= len(level) {
			// Odd level, the node is its own duplicated sibling.
			sibling = idx
		}
		side := "R"
		if sibling < idx {
			side = "L"
		}
		proof.Path = append(proof.Path, Step{Side: side, Sibling: level[sibling]})
		idx /= 2
	}
	return proof, nil
}

func leafHash(item Item) string {
	var buf bytes.Buffer
	buf.WriteString(leafTag)
	buf.WriteByte(0)
	buf.WriteString(item.Ref)
	buf.WriteByte(0)
	buf.Write(item.Data)
	return sha256Hex(buf.Bytes())
}

func nodeHash(left, right string) string {
	var buf bytes.Buffer
	buf.WriteString(nodeTag)
	buf.WriteByte(0)
	buf.Write(hexBytes(left))
	buf.Write(hexBytes(right))
	return sha256Hex(buf.Bytes())
}

func nextLevel(hashes []string) []string {
	if len(hashes)%2 != 0 {
		hashes = append(hashes, hashes[len(hashes)-1])
	}
	next := make([]string, len(hashes)/2)
	for i := 0; i < len(hashes); i += 2 {
		next[i/2] = nodeHash(hashes[i], hashes[i+1])
	}
	return next
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func hexBytes(s string) []byte {
	b, _ := hex.DecodeString(s)
	return b
}
