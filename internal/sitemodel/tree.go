// File: internal/sitemodel/tree.go

// Package sitemodel holds the hierarchical site tree the bridge correlates
// alerts against. Nodes live in an arena and are addressed by stable index;
// each node keeps a parent index and child indices, so traversal and
// ancestor climbing are plain index operations with no reference cycles.
//
// The tree is owned and mutated by the scanning subsystem while the bridge
// reads it, so every accessor takes the read lock and tolerates nodes
// disappearing between calls: a removed or out-of-range id simply behaves
// as "not found".
package sitemodel

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
)

// NodeID addresses a node in the arena. The zero value is the tree root.
type NodeID int

// RootID is the synthetic root above the top-level site nodes.
const RootID NodeID = 0

type node struct {
	// name is the path segment, including a canonicalised query suffix
	// for leaves, so "login?a=1" and "login?a=2" are distinct siblings.
	name string
	// hierarchic is the full URL down to this node with the query
	// stripped: the "same logical page" key.
	hierarchic string
	parent     NodeID
	children   []NodeID
	alerts     []*Alert
	removed    bool
}

// Tree is the arena-backed site tree.
type Tree struct {
	mu    sync.RWMutex
	nodes []node
}

// NewTree returns a tree containing only the root.
func NewTree() *Tree {
	return &Tree{nodes: []node{{name: "Sites", parent: -1}}}
}

// ErrMalformedURL is returned for input that cannot be reduced to a site
// tree path. The caller maps it to an illegal-parameter condition.
var ErrMalformedURL = fmt.Errorf("malformed url")

// splitURL reduces a URL to its tree path: the site key ("https://host[:port]"),
// the path segments, and the canonicalised query ("" when absent).
func splitURL(raw string) (site string, segments []string, query string, err error) {
	u, perr := url.ParseRequestURI(raw)
	if perr != nil || u.Scheme == "" || u.Host == "" {
		return "", nil, "", ErrMalformedURL
	}
	site = u.Scheme + "://" + u.Host
	for _, seg := range strings.Split(u.EscapedPath(), "/") {
		if seg != "" {
			segments = append(segments, seg)
		}
	}
	return site, segments, canonicalQuery(u.RawQuery), nil
}

// canonicalQuery sorts the raw query pairs so two URLs with the same
// parameters in a different order map to the same node.
func canonicalQuery(rawQuery string) string {
	if rawQuery == "" {
		return ""
	}
	pairs := strings.Split(rawQuery, "&")
	sort.Strings(pairs)
	return strings.Join(pairs, "&")
}

// ValidURL reports whether raw can be reduced to a site tree path.
func ValidURL(raw string) bool {
	_, _, _, err := splitURL(raw)
	return err == nil
}

// AddURL inserts the node chain for a URL, returning the leaf id. Existing
// nodes are reused. Called by the scanning subsystem as pages are visited.
func (t *Tree) AddURL(raw string) (NodeID, error) {
	site, segments, query, err := splitURL(raw)
	if err != nil {
		return 0, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	cur := t.ensureChild(RootID, site, site)
	hierarchic := site
	for i, seg := range segments {
		hierarchic += "/" + seg
		name := seg
		if i == len(segments)-1 && query != "" {
			name = seg + "?" + query
		}
		cur = t.ensureChild(cur, name, hierarchic)
	}
	if len(segments) == 0 && query != "" {
		cur = t.ensureChild(cur, "?"+query, hierarchic)
	}
	return cur, nil
}

// ensureChild finds or appends a child of parent with the given name.
// Caller holds the write lock.
func (t *Tree) ensureChild(parent NodeID, name, hierarchic string) NodeID {
	for _, c := range t.nodes[parent].children {
		if !t.nodes[c].removed && t.nodes[c].name == name {
			return c
		}
	}
	id := NodeID(len(t.nodes))
	t.nodes = append(t.nodes, node{name: name, hierarchic: hierarchic, parent: parent})
	t.nodes[parent].children = append(t.nodes[parent].children, id)
	return id
}

// FindNode locates the exact node for a URL, including its query form.
func (t *Tree) FindNode(raw string) (NodeID, bool) {
	site, segments, query, err := splitURL(raw)
	if err != nil {
		return 0, false
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	cur, ok := t.childNamed(RootID, site)
	if !ok {
		return 0, false
	}
	for i, seg := range segments {
		name := seg
		if i == len(segments)-1 && query != "" {
			name = seg + "?" + query
		}
		if cur, ok = t.childNamed(cur, name); !ok {
			return 0, false
		}
	}
	if len(segments) == 0 && query != "" {
		if cur, ok = t.childNamed(cur, "?"+query); !ok {
			return 0, false
		}
	}
	return cur, true
}

// FindClosestParent locates the nearest existing ancestor node for a URL,
// walking up the path when no exact match exists.
func (t *Tree) FindClosestParent(raw string) (NodeID, bool) {
	site, segments, _, err := splitURL(raw)
	if err != nil {
		return 0, false
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	cur, ok := t.childNamed(RootID, site)
	if !ok {
		return 0, false
	}
	best := cur
	for _, seg := range segments {
		if cur, ok = t.childNamed(cur, seg); !ok {
			break
		}
		best = cur
	}
	return best, true
}

// childNamed matches a child by name, preferring an exact match but
// accepting a query-form leaf for a plain segment so path walking can
// descend through leaves. Caller holds a lock.
func (t *Tree) childNamed(parent NodeID, name string) (NodeID, bool) {
	queryForm := NodeID(-1)
	for _, c := range t.nodes[parent].children {
		if t.nodes[c].removed {
			continue
		}
		n := t.nodes[c].name
		if n == name {
			return c, true
		}
		if queryForm < 0 {
			if i := strings.IndexByte(n, '?'); i >= 0 && n[:i] == name {
				queryForm = c
			}
		}
	}
	if queryForm >= 0 {
		return queryForm, true
	}
	return 0, false
}

// valid reports whether id addresses a live node. Caller holds a lock.
func (t *Tree) valid(id NodeID) bool {
	return id >= 0 && int(id) < len(t.nodes) && !t.nodes[id].removed
}

// HierarchicName returns the node's logical-page key: its URL with the
// query stripped. Empty for the root or a vanished node.
func (t *Tree) HierarchicName(id NodeID) string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if !t.valid(id) {
		return ""
	}
	return t.nodes[id].hierarchic
}

// Parent returns the parent id. ok is false for the root or a vanished node.
func (t *Tree) Parent(id NodeID) (NodeID, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if !t.valid(id) || id == RootID {
		return 0, false
	}
	return t.nodes[id].parent, true
}

// Children returns the live child ids of a node.
func (t *Tree) Children(id NodeID) []NodeID {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if !t.valid(id) {
		return nil
	}
	out := make([]NodeID, 0, len(t.nodes[id].children))
	for _, c := range t.nodes[id].children {
		if !t.nodes[c].removed {
			out = append(out, c)
		}
	}
	return out
}

// TopLevelAncestor climbs to the node just below the root: the site as a
// whole. A top-level node returns itself.
func (t *Tree) TopLevelAncestor(id NodeID) (NodeID, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if !t.valid(id) || id == RootID {
		return 0, false
	}
	for t.nodes[id].parent != RootID {
		id = t.nodes[id].parent
		if !t.valid(id) {
			return 0, false
		}
	}
	return id, true
}

// AddAlert attaches an alert reference to a node. The tree never owns the
// alert. Called by the scanning subsystem.
func (t *Tree) AddAlert(id NodeID, a *Alert) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.valid(id) {
		return fmt.Errorf("no such node %d", id)
	}
	t.nodes[id].alerts = append(t.nodes[id].alerts, a)
	return nil
}

// Alerts returns the alerts attached directly to a node.
func (t *Tree) Alerts(id NodeID) []*Alert {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if !t.valid(id) {
		return nil
	}
	out := make([]*Alert, len(t.nodes[id].alerts))
	copy(out, t.nodes[id].alerts)
	return out
}

// SubtreeAlerts returns every alert attached anywhere under a node,
// including the node itself.
func (t *Tree) SubtreeAlerts(id NodeID) []*Alert {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if !t.valid(id) {
		return nil
	}
	var out []*Alert
	stack := []NodeID{id}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if !t.valid(cur) {
			continue
		}
		out = append(out, t.nodes[cur].alerts...)
		stack = append(stack, t.nodes[cur].children...)
	}
	return out
}

// Remove marks a node and its subtree as gone. Readers holding its id see
// "not found" from then on.
func (t *Tree) Remove(id NodeID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.valid(id) || id == RootID {
		return
	}
	stack := []NodeID{id}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		t.nodes[cur].removed = true
		stack = append(stack, t.nodes[cur].children...)
	}
}
