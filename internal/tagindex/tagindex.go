// Package tagindex maintains the derived tag → reference-ID mapping
// used to filter listings and exports. The index is never persisted
// and never the source of truth: it is rebuilt from the store lazily
// once per invocation, or from a full scan during reconcile.
package tagindex

import (
	"slices"
	"sort"
)

// Index maps each tag to the set of reference IDs carrying it.
type Index struct {
	byTag map[string]map[string]struct{}
}

// New returns an empty index.
func New() *Index {
	return &Index{byTag: make(map[string]map[string]struct{})}
}

// Rebuild replaces the index contents from (id, tags) pairs.
func Rebuild(refs map[string][]string) *Index {
	idx := New()
	for id, tags := range refs {
		idx.Apply(id, nil, tags)
	}
	return idx
}

// Apply incrementally updates one reference's membership given the
// before and after tag sets. The store calls this after a successful
// CAS write so the common path avoids a full rescan.
func (x *Index) Apply(id string, before, after []string) {
	for _, tag := range before {
		if !slices.Contains(after, tag) {
			x.remove(tag, id)
		}
	}
	for _, tag := range after {
		x.add(tag, id)
	}
}

// Remove drops every membership of id, used after delete.
func (x *Index) Remove(id string) {
	for tag := range x.byTag {
		x.remove(tag, id)
	}
}

// IDs returns the sorted reference IDs carrying tag.
func (x *Index) IDs(tag string) []string {
	members := x.byTag[tag]
	out := make([]string, 0, len(members))
	for id := range members {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Tags returns all tags in the index, sorted.
func (x *Index) Tags() []string {
	out := make([]string, 0, len(x.byTag))
	for tag := range x.byTag {
		out = append(out, tag)
	}
	sort.Strings(out)
	return out
}

// Has reports whether id carries tag.
func (x *Index) Has(tag, id string) bool {
	_, ok := x.byTag[tag][id]
	return ok
}

func (x *Index) add(tag, id string) {
	members, ok := x.byTag[tag]
	if !ok {
		members = make(map[string]struct{})
		x.byTag[tag] = members
	}
	members[id] = struct{}{}
}

func (x *Index) remove(tag, id string) {
	members := x.byTag[tag]
	delete(members, id)
	if len(members) == 0 {
		delete(x.byTag, tag)
	}
}
