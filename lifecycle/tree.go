package lifecycle

import (
	"sort"

	"github.com/teranos/tessera/errors"
)

// VersionTree indexes a dataset's versions by id. Every parent chain ends at
// the single root.
type VersionTree struct {
	versions map[string]DatasetVersion
	rootID   string
}

// NewVersionTree starts a tree at root.
func NewVersionTree(root DatasetVersion) *VersionTree {
	return &VersionTree{
		versions: map[string]DatasetVersion{root.ID: root},
		rootID:   root.ID,
	}
}

// Insert adds v. A version whose parent is not in the tree is rejected with
// ErrInvalidTransition and the tree is left as it was.
func (t *VersionTree) Insert(v DatasetVersion) error {
	if _, exists := t.versions[v.ID]; exists {
		return errors.NewInvalidTransitionError("version %s already in tree", v.ID)
	}
	if v.ParentID == nil {
		return errors.NewInvalidTransitionError("version %s has no parent but %s is already the root", v.ID, t.rootID)
	}
	if _, ok := t.versions[*v.ParentID]; !ok {
		return errors.NewInvalidTransitionError("parent version %s of %s not found in tree", *v.ParentID, v.ID)
	}
	t.versions[v.ID] = v
	return nil
}

// Get looks up a version.
func (t *VersionTree) Get(id string) (DatasetVersion, bool) {
	v, ok := t.versions[id]
	return v, ok
}

// Root returns the raw root version.
func (t *VersionTree) Root() DatasetVersion {
	return t.versions[t.rootID]
}

// RootID returns the id of the root version.
func (t *VersionTree) RootID() string { return t.rootID }

// Len returns the number of versions.
func (t *VersionTree) Len() int { return len(t.versions) }

// List returns every version ordered by creation time, then id.
func (t *VersionTree) List() []DatasetVersion {
	out := make([]DatasetVersion, 0, len(t.versions))
	for _, v := range t.versions {
		out = append(out, v)
	}
	sortVersions(out)
	return out
}

func sortVersions(vs []DatasetVersion) {
	sort.Slice(vs, func(i, j int) bool {
		if !vs[i].CreatedAt.Equal(vs[j].CreatedAt) {
			return vs[i].CreatedAt.Before(vs[j].CreatedAt)
		}
		return vs[i].ID < vs[j].ID
	})
}

// Lineage returns the chain from the root down to id. It is empty for an
// unknown id.
func (t *VersionTree) Lineage(id string) []DatasetVersion {
	var chain []DatasetVersion
	for cur, ok := t.versions[id]; ok; {
		chain = append(chain, cur)
		if cur.ParentID == nil {
			break
		}
		cur, ok = t.versions[*cur.ParentID]
	}
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain
}

// Children returns the direct descendants of id.
func (t *VersionTree) Children(id string) []DatasetVersion {
	var out []DatasetVersion
	for _, v := range t.versions {
		if v.ParentID != nil && *v.ParentID == id {
			out = append(out, v)
		}
	}
	sortVersions(out)
	return out
}

// remove drops ids from the tree. The root is never removed.
func (t *VersionTree) remove(ids ...string) {
	for _, id := range ids {
		if id != t.rootID {
			delete(t.versions, id)
		}
	}
}

func (t *VersionTree) clone() *VersionTree {
	versions := make(map[string]DatasetVersion, len(t.versions))
	for id, v := range t.versions {
		versions[id] = v
	}
	return &VersionTree{versions: versions, rootID: t.rootID}
}
