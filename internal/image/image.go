// Package image emits a compilation into in-memory buffers. The binary
// image is a gob-encoded bundle of canonicalized code units and embedded
// resources; the optional debug buffer carries the original sources so
// loaded modules can report positions against what the author wrote.
package image

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"io"
	"path"

	"mvdan.cc/sh/v3/syntax"

	"github.com/kilnproject/kiln/internal/compile"
	"github.com/kilnproject/kiln/internal/resource"
)

// Image is the decoded form of a binary image buffer.
type Image struct {
	Name   string
	Dir    string
	Target string
	Units  []Unit
	Blobs  []Blob
}

// Unit is one emitted code unit: the canonical printing of a parsed
// source file.
type Unit struct {
	Path string
	Code []byte
}

// Blob is an embedded resource.
type Blob struct {
	Name   string
	Public bool
	Data   []byte
}

// DebugInfo is the decoded form of a debug-symbol buffer.
type DebugInfo struct {
	Name  string
	Units []DebugUnit
}

// DebugUnit pairs a unit path with its original source text.
type DebugUnit struct {
	Path   string
	Source []byte
}

// Emit writes cc into a binary image buffer and, unless omitDebug is set,
// a debug-symbol buffer. The extra descriptors are merged with the
// context's own resources and with the public resources of its dependency
// closure. Emission problems are reported as error diagnostics; a non-nil
// diagnostic slice containing errors means no buffers are produced.
func Emit(cc *compile.Context, extra []resource.Descriptor, omitDebug bool) (img, dbg *bytes.Buffer, diags []compile.Diagnostic, err error) {
	out := Image{
		Name:   cc.Project.Name,
		Dir:    cc.Project.Dir,
		Target: cc.Target,
	}

	printer := syntax.NewPrinter()
	for _, unit := range cc.Units {
		if unit.Prog == nil {
			diags = append(diags, compile.Diagnostic{
				Severity: compile.SeverityError,
				File:     unit.Path,
				Message:  "unit has no compiled program to emit",
			})
			continue
		}
		var code bytes.Buffer
		if err := printer.Print(&code, unit.Prog); err != nil {
			diags = append(diags, compile.Diagnostic{
				Severity: compile.SeverityError,
				File:     unit.Path,
				Message:  fmt.Sprintf("emit unit: %v", err),
			})
			continue
		}
		out.Units = append(out.Units, Unit{Path: unit.Path, Code: code.Bytes()})
	}

	for _, d := range mergeResources(cc, extra) {
		data, rerr := readAll(d)
		if rerr != nil {
			diags = append(diags, compile.Diagnostic{
				Severity: compile.SeverityError,
				Message:  fmt.Sprintf("embed resource %q: %v", d.Name, rerr),
			})
			continue
		}
		out.Blobs = append(out.Blobs, Blob{Name: d.Name, Public: d.Public, Data: data})
	}

	if compile.HasErrors(diags, false) {
		return nil, nil, diags, nil
	}

	img = &bytes.Buffer{}
	if err := gob.NewEncoder(img).Encode(out); err != nil {
		return nil, nil, diags, fmt.Errorf("encode image for %q: %w", cc.Project.Name, err)
	}

	if !omitDebug {
		info := DebugInfo{Name: cc.Project.Name}
		for _, unit := range cc.Units {
			info.Units = append(info.Units, DebugUnit{Path: unit.Path, Source: unit.Source})
		}
		dbg = &bytes.Buffer{}
		if err := gob.NewEncoder(dbg).Encode(info); err != nil {
			return nil, nil, diags, fmt.Errorf("encode debug info for %q: %w", cc.Project.Name, err)
		}
	}

	return img, dbg, diags, nil
}

// Decode reads a binary image buffer back into an Image.
func Decode(r io.Reader) (*Image, error) {
	var img Image
	if err := gob.NewDecoder(r).Decode(&img); err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return &img, nil
}

// DecodeDebug reads a debug-symbol buffer.
func DecodeDebug(r io.Reader) (*DebugInfo, error) {
	var info DebugInfo
	if err := gob.NewDecoder(r).Decode(&info); err != nil {
		return nil, fmt.Errorf("decode debug info: %w", err)
	}
	return &info, nil
}

// mergeResources combines the context's own resources, the caller's extra
// descriptors, and the public resources of the dependency closure. Closure
// resources are namespaced under ref/<project>/ so sibling dependencies
// cannot collide.
func mergeResources(cc *compile.Context, extra []resource.Descriptor) []resource.Descriptor {
	merged := make([]resource.Descriptor, 0, len(cc.Resources)+len(extra))
	merged = append(merged, cc.Resources...)
	merged = append(merged, extra...)

	seen := map[string]bool{cc.Project.Name: true}
	var walk func(c *compile.Context)
	walk = func(c *compile.Context) {
		for _, ref := range c.ProjectReferences() {
			depCtx := ref.Context
			if seen[depCtx.Project.Name] {
				continue
			}
			seen[depCtx.Project.Name] = true
			for _, d := range depCtx.Resources {
				if !d.Public {
					continue
				}
				merged = append(merged, resource.Descriptor{
					Name:   path.Join("ref", depCtx.Project.Name, d.Name),
					Public: d.Public,
					Open:   d.Open,
				})
			}
			walk(depCtx)
		}
	}
	walk(cc)

	return merged
}

func readAll(d resource.Descriptor) ([]byte, error) {
	rc, err := d.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
