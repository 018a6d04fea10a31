package sim

import (
	"fmt"
	"sort"
	"strings"
)

// MarketNode is a node of the market class tree: either a *ParentNode
// (a non-responsive category) or a *LeafNode (a responsive market class).
type MarketNode interface {
	NodeID() string
	marketNode()
}

// ParentNode is a category whose children are all parents or all leaves.
type ParentNode struct {
	ID       string // "" for the root
	Children []MarketNode
}

// LeafNode is a market class over which shares and prices are defined.
type LeafNode struct {
	ID           string
	FuelingClass FuelingClass
}

func (p *ParentNode) NodeID() string { return p.ID }
func (p *ParentNode) marketNode()    {}
func (l *LeafNode) NodeID() string   { return l.ID }
func (l *LeafNode) marketNode()      {}

// Responsive reports whether every child is a leaf.
func (p *ParentNode) Responsive() bool {
	for _, c := range p.Children {
		if _, ok := c.(*LeafNode); !ok {
			return false
		}
	}
	return len(p.Children) > 0
}

// LeafIDs returns the IDs of the direct leaf children in tree order.
func (p *ParentNode) LeafIDs() []string {
	var out []string
	for _, c := range p.Children {
		if l, ok := c.(*LeafNode); ok {
			out = append(out, l.ID)
		}
	}
	return out
}

// MarketClassDef declares one market class.
type MarketClassDef struct {
	ID             string
	FuelingClass   FuelingClass
	OwnershipClass string
}

// MarketTree is the immutable market class hierarchy. Dotted IDs are split
// only here; everything downstream walks nodes.
type MarketTree struct {
	Root     *ParentNode
	leaves   map[string]*LeafNode
	parents  map[string]*ParentNode
	parentOf map[string]*ParentNode
}

// NewMarketTree builds the tree from dotted market class IDs such as
// "hauling.ICE". Children are ordered lexicographically.
func NewMarketTree(defs []MarketClassDef) (*MarketTree, error) {
	t := &MarketTree{
		Root:     &ParentNode{},
		leaves:   make(map[string]*LeafNode),
		parents:  make(map[string]*ParentNode),
		parentOf: make(map[string]*ParentNode),
	}
	t.parents[""] = t.Root
	sorted := append([]MarketClassDef(nil), defs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })
	for _, d := range sorted {
		if d.ID == "" {
			return nil, fmt.Errorf("empty market class id")
		}
		if _, dup := t.leaves[d.ID]; dup {
			return nil, fmt.Errorf("duplicate market class %q", d.ID)
		}
		parts := strings.Split(d.ID, ".")
		parent := t.Root
		path := ""
		for _, part := range parts[:len(parts)-1] {
			if path == "" {
				path = part
			} else {
				path += "." + part
			}
			if _, isLeaf := t.leaves[path]; isLeaf {
				return nil, fmt.Errorf("market class %q is both a leaf and a parent", path)
			}
			next, ok := t.parents[path]
			if !ok {
				next = &ParentNode{ID: path}
				t.parents[path] = next
				t.parentOf[path] = parent
				parent.Children = append(parent.Children, next)
			}
			parent = next
		}
		if _, isParent := t.parents[d.ID]; isParent {
			return nil, fmt.Errorf("market class %q is both a leaf and a parent", d.ID)
		}
		leaf := &LeafNode{ID: d.ID, FuelingClass: d.FuelingClass}
		t.leaves[d.ID] = leaf
		t.parentOf[d.ID] = parent
		parent.Children = append(parent.Children, leaf)
	}
	for id, p := range t.parents {
		leafCount := len(p.LeafIDs())
		if leafCount > 0 && leafCount != len(p.Children) {
			return nil, fmt.Errorf("market category %q mixes market classes and sub-categories", id)
		}
	}
	return t, nil
}

// Leaf returns the leaf with id.
func (t *MarketTree) Leaf(id string) (*LeafNode, bool) {
	l, ok := t.leaves[id]
	return l, ok
}

// Parent returns the parent node with id ("" is the root).
func (t *MarketTree) Parent(id string) (*ParentNode, bool) {
	p, ok := t.parents[id]
	return p, ok
}

// ParentOf returns the parent of the node with id.
func (t *MarketTree) ParentOf(id string) (*ParentNode, bool) {
	p, ok := t.parentOf[id]
	return p, ok
}

// Leaves returns every leaf sorted by ID.
func (t *MarketTree) Leaves() []*LeafNode {
	out := make([]*LeafNode, 0, len(t.leaves))
	for _, l := range t.leaves {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// LeafIDs returns every leaf ID in sorted order.
func (t *MarketTree) LeafIDs() []string {
	out := make([]string, 0, len(t.leaves))
	for id := range t.leaves {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// ResponsiveParents returns the parents whose children are market classes,
// sorted by ID.
func (t *MarketTree) ResponsiveParents() []*ParentNode {
	var out []*ParentNode
	var walk func(*ParentNode)
	walk = func(p *ParentNode) {
		if p.Responsive() {
			out = append(out, p)
			return
		}
		for _, c := range p.Children {
			if cp, ok := c.(*ParentNode); ok {
				walk(cp)
			}
		}
	}
	walk(t.Root)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// LeavesUnder returns the IDs of every leaf below node id, sorted.
func (t *MarketTree) LeavesUnder(id string) []string {
	var out []string
	var walk func(MarketNode)
	walk = func(n MarketNode) {
		switch node := n.(type) {
		case *LeafNode:
			out = append(out, node.ID)
		case *ParentNode:
			for _, c := range node.Children {
				walk(c)
			}
		}
	}
	if l, ok := t.leaves[id]; ok {
		walk(l)
	} else if p, ok := t.parents[id]; ok {
		walk(p)
	}
	sort.Strings(out)
	return out
}
