// Package thread turns a flat set of comment events into an ordered reply forest.
package thread

import (
	"sort"

	"github.com/nbd-wtf/go-nostr"
)

// Node is one comment and its direct replies
type Node struct {
	Event    *nostr.Event
	Children []*Node
}

// Forest is the ordered list of top-level comments produced by one Nest run
type Forest []*Node

// Nest builds a forest from events in any order.
//
// A comment whose reply reference names a known event becomes that event's
// child; everything else, including comments whose parent has not arrived
// yet, is a root. Children and roots are ordered by created_at with ties kept
// in input order. Duplicate ids keep their first occurrence. A reply link that
// would close a cycle is ignored, which makes the comment that closed it a root.
func Nest(events []*nostr.Event) Forest {
	nodes := make([]Node, 0, len(events))
	index := make(map[string]int, len(events))

	for _, evt := range events {
		if evt == nil {
			continue
		}
		if _, dup := index[evt.ID]; dup {
			continue
		}
		index[evt.ID] = len(nodes)
		nodes = append(nodes, Node{Event: evt})
	}

	parent := make([]int, len(nodes))
	for i := range parent {
		parent[i] = -1
	}

	for i := range nodes {
		reply := ParseRefs(nodes[i].Event).Reply
		if reply == "" {
			continue
		}
		p, ok := index[reply]
		if !ok || createsCycle(parent, i, p) {
			continue
		}
		parent[i] = p
	}

	roots := make(Forest, 0)
	for i := range nodes {
		if p := parent[i]; p >= 0 {
			nodes[p].Children = append(nodes[p].Children, &nodes[i])
		} else {
			roots = append(roots, &nodes[i])
		}
	}

	for i := range nodes {
		sortByCreatedAt(nodes[i].Children)
	}
	sortByCreatedAt(roots)

	return roots
}

// createsCycle reports whether linking child under p would make child its own ancestor
func createsCycle(parent []int, child, p int) bool {
	for cur := p; cur >= 0; cur = parent[cur] {
		if cur == child {
			return true
		}
	}
	return false
}

func sortByCreatedAt(nodes []*Node) {
	sort.SliceStable(nodes, func(i, j int) bool {
		return nodes[i].Event.CreatedAt < nodes[j].Event.CreatedAt
	})
}

// Len returns the number of comments in the forest at every depth
func (f Forest) Len() int {
	n := 0
	f.Walk(func(*Node, int) bool {
		n++
		return true
	})
	return n
}

// Walk visits nodes depth-first in display order. Returning false from fn
// skips the node's replies.
func (f Forest) Walk(fn func(node *Node, depth int) bool) {
	var visit func(nodes []*Node, depth int)
	visit = func(nodes []*Node, depth int) {
		for _, n := range nodes {
			if fn(n, depth) {
				visit(n.Children, depth+1)
			}
		}
	}
	visit(f, 0)
}

// Find returns the node for an event id
func (f Forest) Find(id string) *Node {
	var found *Node
	f.Walk(func(n *Node, _ int) bool {
		if n.Event.ID == id {
			found = n
		}
		return found == nil
	})
	return found
}
