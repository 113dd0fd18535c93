package merkle

// Proof shows that one leaf is part of the tree with the given root. It is
// self-contained and JSON-serializable, so it can travel without the pack
// it was cut from.
type Proof struct {
	Ref      string `json:"ref"`
	LeafHash string `json:"leaf_hash"`
	Root     string `json:"root"`
	Path     []Step `json:"path"`
}

// Step is one hop towards the root. Side names the side the sibling hash
// sits on.
type Step struct {
	Side    string `json:"side"`
	Sibling string `json:"sibling"`
}

// VerifyProof replays the proof path and checks the result against root.
// The root must come from a trusted source, usually a verified attestation.
func VerifyProof(p *Proof, root string) bool {
	if p == nil || root == "" || p.Root != root {
		return false
	}

	current := p.LeafHash
	for _, step := range p.Path {
		switch step.Side {
		case "R":
			current = nodeHash(current, step.Sibling)
		case "L":
			current = nodeHash(step.Sibling, current)
		default:
			return false
		}
	}
	return current == root
}
