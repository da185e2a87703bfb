package latencyz

import (
	"crypto/sha256"
	"encoding/base64"
	"sync"

	"github.com/rs/zerolog/log"
)

// CallsitePath is a non-empty ordered sequence of CallsiteIDs from the
// outermost runtime ancestor to a span's own callsite (spec.md §3).
type CallsitePath []CallsiteID

// groupKey is the stable, fixed-length ASCII key spec.md §3 describes:
// a base64 encoding of a cryptographic hash of the canonical encoding of
// (path, props), computed recursively from the parent's key exactly as
// grow_sgt_to_sg does in the original core_internals.rs.
type groupKey string

// SpanGroup is the equivalence class of span instances that share both a
// runtime callsite path and a set of runtime-derived Props (spec.md §3).
// SpanGroups form a forest: Parent is nil for roots, and a SpanGroup's
// Path is always its parent's Path plus exactly one callsite.
type SpanGroup struct {
	key      groupKey
	Path     CallsitePath
	Props    Props
	Callsite Callsite
	Parent   *SpanGroup
}

// Key returns the SpanGroup's stable, hashable identity. Two SpanGroups
// are the same group if and only if their Keys are equal.
func (g *SpanGroup) Key() string {
	return string(g.key)
}

// Name is the callsite's human-readable span name.
func (g *SpanGroup) Name() string {
	return g.Callsite.Name
}

// CodeLine is the callsite's file:line, for display.
func (g *SpanGroup) CodeLine() string {
	return g.Callsite.CodeLine()
}

// Depth is the number of ancestor SpanGroups this group has: 0 for a root.
func (g *SpanGroup) Depth() int {
	return len(g.Path) - 1
}

// groupIdentity is the pair spec.md §3 defines SpanGroup identity as:
// (CallsitePath, Props). It is also the interning map's lookup key, so it
// must itself be comparable — CallsitePath and Props are both slices, so
// we precompute a string form of each for use as a Go map key.
type groupIdentity struct {
	pathKey  string
	propsKey string
}

func identityOf(path CallsitePath, props Props) groupIdentity {
	pb := make([]byte, 0, len(path)*8)
	for _, c := range path {
		pb = appendUintptr(pb, uintptr(c))
	}
	ppb := make([]byte, 0, 32)
	for _, p := range props {
		ppb = append(ppb, 0)
		ppb = append(ppb, p.Key...)
		ppb = append(ppb, 0)
		ppb = append(ppb, p.Value...)
	}
	return groupIdentity{pathKey: string(pb), propsKey: string(ppb)}
}

func appendUintptr(b []byte, v uintptr) []byte {
	for i := 0; i < 8; i++ {
		b = append(b, byte(v))
		v >>= 8
	}
	return b
}

// groupRegistry is the SpanGroup interning map spec.md §4.1 requires. Each
// Tracer owns one, shared by every goroutine that starts spans through it:
// consulted once per span creation, guarded by a reader-preferring
// lock so repeat lookups of an already-interned group are effectively
// wait-free after warm-up.
type groupRegistry struct {
	mu     sync.RWMutex
	groups map[groupIdentity]*SpanGroup
}

func newGroupRegistry() *groupRegistry {
	return &groupRegistry{groups: make(map[groupIdentity]*SpanGroup)}
}

// resolve returns the interned SpanGroup for (path, props, parent),
// creating and publishing it if this is the first time this identity has
// been seen. parent may be nil for a root group.
func (r *groupRegistry) resolve(callsite Callsite, path CallsitePath, props Props, parent *SpanGroup) *SpanGroup {
	id := identityOf(path, props)

	r.mu.RLock()
	g, ok := r.groups[id]
	r.mu.RUnlock()
	if ok {
		return g
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if g, ok := r.groups[id]; ok {
		return g
	}

	g = &SpanGroup{
		Path:     path,
		Props:    props.clone(),
		Callsite: callsite,
		Parent:   parent,
		key:      computeGroupKey(parent, callsite, props),
	}
	r.groups[id] = g

	log.Debug().
		Str("span_group", string(g.key)).
		Str("name", callsite.Name).
		Int("depth", g.Depth()).
		Msg("interned new span group")

	return g
}

// computeGroupKey derives the SpanGroup's stable key recursively from its
// parent's key, exactly as grow_sgt_to_sg computes `id` in the original
// core_internals.rs: sha256(parentKey || name || 0x00 || codeLine ||
// (0x00 || propKey || 0x00 || propValue)*), base64-encoded.
func computeGroupKey(parent *SpanGroup, callsite Callsite, props Props) groupKey {
	h := sha256.New()
	if parent != nil {
		_, _ = h.Write([]byte(parent.key))
	}
	_, _ = h.Write([]byte(callsite.Name))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(callsite.CodeLine()))
	for _, p := range props {
		_, _ = h.Write([]byte{0})
		_, _ = h.Write([]byte(p.Key))
		_, _ = h.Write([]byte{0})
		_, _ = h.Write([]byte(p.Value))
	}
	digest := h.Sum(nil)
	return groupKey(base64.RawURLEncoding.EncodeToString(digest[:12]))
}
