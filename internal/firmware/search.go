package firmware

import (
	"fmt"
	"strings"

	"github.com/containerd/errdefs"
	"github.com/google/uuid"
)

// MatchResult maps each requested GUID to the executable image payloads
// found under its matching File nodes, in tree order.
type MatchResult map[string][][]byte

// NormalizeGUIDs validates the caller-supplied GUIDs and converts them to
// the canonical lowercase textual form used for matching. Normalization
// happens once per run; searches assume already-normalized input.
func NormalizeGUIDs(raw []string) ([]string, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("no GUIDs given: %w", errdefs.ErrInvalidArgument)
	}

	normalized := make([]string, 0, len(raw))

	for _, s := range raw {
		id, err := uuid.Parse(strings.TrimSpace(s))
		if err != nil {
			return nil, fmt.Errorf("malformed GUID %q: %w", s, errdefs.ErrInvalidArgument)
		}

		normalized = append(normalized, id.String())
	}

	return normalized, nil
}

// Search parses the capsule bytes and finds the executable images nested
// under File nodes tagged with any of the normalized GUIDs.
func Search(data []byte, guids []string) (MatchResult, error) {
	root, err := Parse(data)
	if err != nil {
		return nil, err
	}

	return SearchTree(root, guids)
}

// SearchTree runs the two-phase search over an already-built tree:
// first a pre-order walk collecting File nodes whose GUID is in the
// target set, then one pre-order walk per match collecting Image
// payloads in tree order. Zero File matches across the whole tree fail
// with errdefs.ErrNotFound.
func SearchTree(root *Object, guids []string) (MatchResult, error) {
	targets := make(map[string]struct{}, len(guids))
	for _, g := range guids {
		targets[g] = struct{}{}
	}

	type match struct {
		guid string
		node *Object
	}

	var matches []match

	Walk(root, func(node *Object) {
		if node.Kind != KindFile {
			return
		}

		if _, ok := targets[node.GUID]; ok {
			matches = append(matches, match{guid: node.GUID, node: node})
		}
	})

	if len(matches) == 0 {
		return nil, fmt.Errorf("no file with GUID %s in tree: %w",
			strings.Join(guids, ", "), errdefs.ErrNotFound)
	}

	result := make(MatchResult, len(matches))

	for _, m := range matches {
		// A match with no image descendants still registers its GUID,
		// contributing an empty list rather than an error.
		if _, ok := result[m.guid]; !ok {
			result[m.guid] = [][]byte{}
		}

		Walk(m.node, func(node *Object) {
			if node.Kind == KindImage {
				result[m.guid] = append(result[m.guid], node.Payload)
			}
		})
	}

	return result, nil
}
