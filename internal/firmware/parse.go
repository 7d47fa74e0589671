package firmware

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/containerd/errdefs"
	"github.com/linuxboot/fiano/pkg/uefi"
)

// fvSignature is the "_FVH" magic at offset 40 of a firmware volume header.
var fvSignature = []byte("_FVH")

// ifdSignature is the Intel flash descriptor magic at offset 16.
const ifdSignature = 0x0FF0A55A

// detectFormat reports whether the bytes carry any firmware container
// signature the parser understands. The parser itself is lenient with
// unknown data, so the check runs up front.
func detectFormat(data []byte) bool {
	if len(data) >= 20 && binary.LittleEndian.Uint32(data[16:20]) == ifdSignature {
		return true
	}

	return bytes.Contains(data, fvSignature)
}

// Parse decodes raw capsule bytes into an Object tree. Bytes in no known
// firmware container format fail with errdefs.ErrNotImplemented, which
// callers treat as a per-capsule skip.
func Parse(data []byte) (*Object, error) {
	if !detectFormat(data) {
		return nil, fmt.Errorf("undetectable firmware format: %w", errdefs.ErrNotImplemented)
	}

	parsed, err := uefi.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("undetectable firmware format (%v): %w", err, errdefs.ErrNotImplemented)
	}

	// Anchor node so the builder always has a parent to attach to.
	anchor := &Object{Kind: KindFileSystemElement}

	builder := &treeBuilder{stack: []*Object{anchor}}
	if err := parsed.Apply(builder); err != nil {
		return nil, fmt.Errorf("walk firmware tree: %w", err)
	}

	if len(anchor.Children) == 1 {
		return anchor.Children[0], nil
	}

	return anchor, nil
}

// treeBuilder converts the parser's node hierarchy into Objects while the
// visitor descends through it. The stack tracks the current parent.
type treeBuilder struct {
	stack []*Object
}

// Run applies the builder to the root of a parsed firmware image.
func (b *treeBuilder) Run(f uefi.Firmware) error {
	return f.Apply(b)
}

// Visit attaches an Object for the visited node and recurses into its
// children with the new node as parent.
func (b *treeBuilder) Visit(f uefi.Firmware) error {
	node := newObject(f)

	parent := b.stack[len(b.stack)-1]
	parent.Children = append(parent.Children, node)

	b.stack = append(b.stack, node)
	defer func() {
		b.stack = b.stack[:len(b.stack)-1]
	}()

	return f.ApplyChildren(b)
}

// newObject maps one parser node to an Object. PE32 sections grow an
// extra Image child carrying the section body, so that executable
// payloads are addressable nodes of their own.
func newObject(f uefi.Firmware) *Object {
	switch f := f.(type) {
	case *uefi.FirmwareVolume:
		return &Object{Kind: KindVolume}
	case *uefi.File:
		return &Object{Kind: KindFile, GUID: strings.ToLower(f.Header.GUID.String())}
	case *uefi.Section:
		node := &Object{Kind: KindSection}
		if f.Header.Type == uefi.SectionTypePE32 {
			node.Children = append(node.Children, &Object{
				Kind:    KindImage,
				Payload: sectionBody(f),
			})
		}

		return node
	default:
		return &Object{Kind: KindFileSystemElement}
	}
}

// sectionBody strips the section header from the section's raw bytes.
// A size field of 0xFFFFFF marks the 8-byte extended header form.
func sectionBody(s *uefi.Section) []byte {
	buf := s.Buf()

	headerLen := 4
	if len(buf) >= 4 && buf[0] == 0xFF && buf[1] == 0xFF && buf[2] == 0xFF {
		headerLen = 8
	}

	if len(buf) <= headerLen {
		return nil
	}

	return buf[headerLen:]
}
