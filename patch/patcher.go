// Package patch applies structural XML data patches to baseline documents.
//
// A patch document looks like:
//
//	<DataPatches>
//	  <Patch forfile="Libs/Game/items.xml">
//	    <Match><Items version="1"/></Match>
//	    <Replace><Items version="2"/></Replace>
//	    <Patch>
//	      <Match><Item name="sword"/></Match>
//	      <Replace replaceChildren="1"><Item name="sword" damage="12"><Tier>3</Tier></Item></Replace>
//	    </Patch>
//	    <Insert><Item name="shield"/></Insert>
//	    <Delete><Item name="broken"/></Delete>
//	  </Patch>
//	</DataPatches>
//
// A top-level Patch applies to the root of the file named by forfile; its
// optional Match must be satisfied by the root itself. A nested Patch must
// have a Match, which selects the first child of the enclosing target that
// satisfies it. Directives are then applied to the selected node in order:
//
//   - Replace sets the attributes of its single child element on the
//     target. With replaceChildren="1" the target's text and children are
//     replaced as well.
//   - Insert appends copies of its child elements to the target.
//   - Delete with no children removes the target from its parent. With
//     children, it removes every child of the target satisfying each of them.
//   - Patch recurses into the target's children.
//
// Failures are isolated: a Match that finds nothing, or a malformed
// directive, is reported and skipped while the remaining directives still
// apply. The baseline is never modified; patched output shares every
// untouched subtree with it.
package patch

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"strings"
	"sync"
	"sync/atomic"
)

// Element and attribute names of the patch document format.
const (
	TagDataPatches = "DataPatches"
	TagPatch       = "Patch"
	TagMatch       = "Match"
	TagReplace     = "Replace"
	TagInsert      = "Insert"
	TagDelete      = "Delete"

	AttrForFile         = "forfile"
	AttrReplaceChildren = "replaceChildren"
)

// ErrInvalidDocument is returned when a patch document has the wrong shape.
var ErrInvalidDocument = errors.New("patch: invalid patch document")

// Failure describes one patch fragment that could not be applied.
type Failure struct {
	File   string
	Reason string
}

// DumpFunc receives the baseline and patched trees of a file after a patch
// has been applied. Neither tree may be modified.
type DumpFunc func(file string, before, after *Node)

// Patcher holds a patch document and applies it to baseline documents.
// It is safe for concurrent use.
type Patcher struct {
	mu      sync.RWMutex
	patches []*Node
	enabled bool

	logger      *slog.Logger
	dumpHook    DumpFunc
	failureHook func(Failure)
	failures    atomic.Int64
}

// Option configures a Patcher.
type Option func(*Patcher)

// WithLogger sets the logger used to report patch failures.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Patcher) {
		p.logger = logger
	}
}

// WithDumpHook installs a hook called with before and after trees each time
// a patch is applied.
func WithDumpHook(fn DumpFunc) Option {
	return func(p *Patcher) {
		p.dumpHook = fn
	}
}

// WithFailureHook installs a hook called for every failed patch fragment.
func WithFailureHook(fn func(Failure)) Option {
	return func(p *Patcher) {
		p.failureHook = fn
	}
}

// WithEnabled sets whether patching starts enabled. The default is true.
func WithEnabled(enabled bool) Option {
	return func(p *Patcher) {
		p.enabled = enabled
	}
}

// New creates a Patcher with no patch document loaded.
func New(opts ...Option) *Patcher {
	p := &Patcher{enabled: true}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Patcher) log() *slog.Logger {
	if p.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return p.logger
}

// LoadDocument replaces the patch document. doc is either a DataPatches
// element holding Patch children or a single Patch element. Passing nil
// unloads the current document. The Patcher keeps references into doc,
// which must not be modified afterwards.
func (p *Patcher) LoadDocument(doc *Node) error {
	var patches []*Node
	switch {
	case doc == nil:
	case doc.Tag == TagPatch:
		patches = []*Node{doc}
	case doc.Tag == TagDataPatches:
		for _, c := range doc.Children {
			if c.Tag != TagPatch {
				return fmt.Errorf("%w: unexpected <%s> in <%s>", ErrInvalidDocument, c.Tag, TagDataPatches)
			}
			patches = append(patches, c)
		}
	default:
		return fmt.Errorf("%w: root element <%s>", ErrInvalidDocument, doc.Tag)
	}
	for _, pe := range patches {
		if f, _ := pe.Attr(AttrForFile); f == "" {
			return fmt.Errorf("%w: <%s> without %s attribute", ErrInvalidDocument, TagPatch, AttrForFile)
		}
	}

	p.mu.Lock()
	p.patches = patches
	p.mu.Unlock()
	p.log().Debug("patch document loaded", "patches", len(patches))
	return nil
}

// LoadXML parses data and loads it as the patch document.
func (p *Patcher) LoadXML(data []byte) error {
	doc, err := ParseXML(data)
	if err != nil {
		return err
	}
	return p.LoadDocument(doc)
}

// LoadFile reads and loads a patch document from disk.
func (p *Patcher) LoadFile(name string) error {
	data, err := os.ReadFile(name)
	if err != nil {
		return fmt.Errorf("load patch file: %w", err)
	}
	if err := p.LoadXML(data); err != nil {
		return fmt.Errorf("load patch file %s: %w", name, err)
	}
	return nil
}

// SetEnabled turns patching on or off.
func (p *Patcher) SetEnabled(enabled bool) {
	p.mu.Lock()
	p.enabled = enabled
	p.mu.Unlock()
}

// Enabled reports whether patching is on.
func (p *Patcher) Enabled() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.enabled
}

// Failures returns the number of patch fragments that have failed since
// the Patcher was created.
func (p *Patcher) Failures() int64 {
	return p.failures.Load()
}

// FindPatchForFile returns the first Patch element whose forfile attribute
// names file, or nil if there is none or patching is disabled. Names are
// compared case-insensitively with either slash direction.
func (p *Patcher) FindPatchForFile(file string) *Node {
	want := normalizeName(file)
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.enabled {
		return nil
	}
	for _, pe := range p.patches {
		if f, _ := pe.Attr(AttrForFile); normalizeName(f) == want {
			return pe
		}
	}
	return nil
}

// ApplyXMLDataPatch returns baseline with the patch for file applied.
// When no patch applies, baseline itself is returned. Otherwise the result
// is a new tree and baseline is left unmodified.
func (p *Patcher) ApplyXMLDataPatch(baseline *Node, file string) *Node {
	if baseline == nil {
		return nil
	}
	pe := p.FindPatchForFile(file)
	if pe == nil {
		return baseline
	}

	a := &applier{p: p, file: file}
	out := DuplicateForPatching(baseline)
	a.applyTop(out, pe)
	p.log().Debug("data patch applied", "file", file, "failures", a.failed)

	if p.dumpHook != nil {
		p.dumpHook(file, baseline, out)
	}
	return out
}

// fail reports a patch fragment that could not be applied.
func (p *Patcher) fail(file, format string, args ...any) {
	reason := fmt.Sprintf(format, args...)
	p.failures.Add(1)
	p.log().Warn("data patch failed", "file", file, "reason", reason)
	if p.failureHook != nil {
		p.failureHook(Failure{File: file, Reason: reason})
	}
}

func normalizeName(name string) string {
	name = strings.ToLower(strings.ReplaceAll(name, "\\", "/"))
	name = path.Clean("/" + name)
	return strings.TrimPrefix(name, "/")
}
