package firmware

// Kind is the closed set of node types appearing in a firmware object tree.
type Kind int

const (
	// KindVolume is a firmware volume.
	KindVolume Kind = iota
	// KindFileSystemElement is any structural node that is neither a
	// volume, a file, a section nor an image (flash regions, stores).
	KindFileSystemElement
	// KindFile is a GUID-tagged firmware file.
	KindFile
	// KindSection is a file section.
	KindSection
	// KindImage is an executable image payload nested in a section tree.
	KindImage
)

// String returns a human-readable node type name.
func (k Kind) String() string {
	switch k {
	case KindVolume:
		return "volume"
	case KindFileSystemElement:
		return "element"
	case KindFile:
		return "file"
	case KindSection:
		return "section"
	case KindImage:
		return "image"
	default:
		return "unknown"
	}
}

// Object is one node of a firmware object tree: finite, acyclic and
// bounded by the capsule size it was parsed from.
type Object struct {
	// Kind is the node type.
	Kind Kind
	// GUID is the lowercase identifier of File nodes, empty otherwise.
	GUID string
	// Payload carries the raw bytes of Image nodes, nil otherwise.
	Payload []byte
	// Children are the node's ordered child objects.
	Children []*Object
}

// Walk visits the subtree rooted at node in pre-order, children in their
// original order. It is the single traversal primitive shared by the
// GUID search and the image search.
func Walk(node *Object, visit func(*Object)) {
	if node == nil {
		return
	}

	visit(node)

	for _, child := range node.Children {
		Walk(child, visit)
	}
}
