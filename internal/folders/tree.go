// Package folders holds an organization's knowledge folders as an arena of
// nodes indexed by id. Every traversal is iterative and tracks visited nodes,
// so corrupt parent links surface as ErrCycle instead of looping.
package folders

import (
	"errors"
	"fmt"

	"github.com/RichardoC/mentorfy/internal/models"
)

var (
	ErrCycle    = errors.New("folder cycle")
	ErrNotFound = errors.New("folder not found")
)

const noParent = -1

type node struct {
	folder   models.Folder
	parent   int
	children []int
}

type Tree struct {
	nodes []node
	index map[string]int
	roots []int
}

// Node is the nested view of a folder.
type Node struct {
	models.Folder
	Children []*Node `json:"children"`
}

// Build indexes folders in the given order. A folder whose parent is
// unknown is treated as a root. Stored parent links that loop fail with
// ErrCycle.
func Build(folders []models.Folder) (*Tree, error) {
	t := &Tree{
		nodes: make([]node, len(folders)),
		index: make(map[string]int, len(folders)),
	}
	for i, f := range folders {
		t.nodes[i] = node{folder: f, parent: noParent}
		t.index[f.ID] = i
	}
	for i := range t.nodes {
		p, ok := t.index[t.nodes[i].folder.ParentID]
		if !ok || t.nodes[i].folder.ParentID == "" {
			t.roots = append(t.roots, i)
			continue
		}
		t.nodes[i].parent = p
		t.nodes[p].children = append(t.nodes[p].children, i)
	}
	for i := range t.nodes {
		if _, err := t.ancestors(i); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func (t *Tree) Len() int { return len(t.nodes) }

func (t *Tree) Get(id string) (models.Folder, bool) {
	i, ok := t.index[id]
	if !ok {
		return models.Folder{}, false
	}
	return t.nodes[i].folder, true
}

// Path returns the folders from the root down to id.
func (t *Tree) Path(id string) ([]models.Folder, error) {
	i, ok := t.index[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	up, err := t.ancestors(i)
	if err != nil {
		return nil, err
	}
	path := make([]models.Folder, 0, len(up)+1)
	for j := len(up) - 1; j >= 0; j-- {
		path = append(path, t.nodes[up[j]].folder)
	}
	return append(path, t.nodes[i].folder), nil
}

// Descendants returns id and every folder below it, deepest first, which is
// a safe deletion order.
func (t *Tree) Descendants(id string) ([]string, error) {
	i, ok := t.index[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	visited := make(map[int]bool)
	var order []int
	stack := []int{i}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited[n] {
			return nil, fmt.Errorf("%w: at %s", ErrCycle, t.nodes[n].folder.ID)
		}
		visited[n] = true
		order = append(order, n)
		stack = append(stack, t.nodes[n].children...)
	}

	ids := make([]string, len(order))
	for j, n := range order {
		ids[len(order)-1-j] = t.nodes[n].folder.ID
	}
	return ids, nil
}

// CheckMove reports ErrCycle when moving id under newParent would make the
// folder its own ancestor. An empty newParent moves it to the root.
func (t *Tree) CheckMove(id, newParent string) error {
	i, ok := t.index[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if newParent == "" {
		return nil
	}
	p, ok := t.index[newParent]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, newParent)
	}
	if p == i {
		return fmt.Errorf("%w: %s cannot contain itself", ErrCycle, id)
	}
	up, err := t.ancestors(p)
	if err != nil {
		return err
	}
	for _, a := range up {
		if a == i {
			return fmt.Errorf("%w: %s is below %s", ErrCycle, newParent, id)
		}
	}
	return nil
}

// Nested returns the forest with children in insertion order.
func (t *Tree) Nested() []*Node {
	views := make([]*Node, len(t.nodes))
	for i := range t.nodes {
		views[i] = &Node{Folder: t.nodes[i].folder, Children: []*Node{}}
	}
	for i := range t.nodes {
		for _, c := range t.nodes[i].children {
			views[i].Children = append(views[i].Children, views[c])
		}
	}
	out := make([]*Node, 0, len(t.roots))
	for _, r := range t.roots {
		out = append(out, views[r])
	}
	return out
}

// ancestors walks parent links from i upwards, nearest first.
func (t *Tree) ancestors(i int) ([]int, error) {
	visited := map[int]bool{i: true}
	var up []int
	for p := t.nodes[i].parent; p != noParent; p = t.nodes[p].parent {
		if visited[p] {
			return nil, fmt.Errorf("%w: at %s", ErrCycle, t.nodes[p].folder.ID)
		}
		visited[p] = true
		up = append(up, p)
	}
	return up, nil
}
