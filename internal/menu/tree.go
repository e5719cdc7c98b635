package menu

import (
	"fmt"
	"slices"
	"sync"
)

// Tree mirrors the menu structure of a device together with the current
// value of every item. Children keep the order they were added in.
//
// All methods are safe for concurrent use. Readers get copies, so a slice
// returned by GetAllMenuItems is a consistent snapshot even while the
// connector keeps applying structural changes.
type Tree struct {
	mu       sync.RWMutex
	items    map[int]Item
	children map[int][]int
	parents  map[int]int
	states   map[int]State
}

// NewTree returns a tree holding only Root.
func NewTree() *Tree {
	return &Tree{
		items:    map[int]Item{RootID: Root},
		children: map[int][]int{RootID: nil},
		parents:  map[int]int{},
		states:   map[int]State{},
	}
}

// AddOrUpdateItem inserts item under parentID or replaces the definition
// held under the same id. The parent must already be a submenu in the tree.
// A replacement with a different parent moves the item and its subtree.
// Replacing with a different kind drops the recorded state.
//
// The returned flag is false when nothing changed because the tree already
// held an identical definition under the same parent.
func (t *Tree) AddOrUpdateItem(parentID int, item Item) (bool, error) {
	if item.ID() == RootID {
		return false, ErrRootImmutable
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	parent, ok := t.items[parentID]
	if !ok {
		return false, fmt.Errorf("%w: %d for %s", ErrParentNotFound, parentID, item)
	}
	if !parent.IsSubMenu() {
		return false, fmt.Errorf("%w: %s for %s", ErrNotSubMenu, parent, item)
	}

	existing, found := t.items[item.ID()]
	if !found {
		t.items[item.ID()] = item
		t.parents[item.ID()] = parentID
		t.children[parentID] = append(t.children[parentID], item.ID())
		if item.IsSubMenu() {
			t.children[item.ID()] = nil
		}
		return true, nil
	}

	oldParent := t.parents[item.ID()]
	if oldParent == parentID && existing.Equal(item) {
		return false, nil
	}
	if existing.IsSubMenu() && !item.IsSubMenu() && len(t.children[item.ID()]) > 0 {
		return false, fmt.Errorf("%w: %s", ErrKindChange, existing)
	}
	if oldParent != parentID && t.isDescendant(parentID, item.ID()) {
		return false, fmt.Errorf("%w: %s cannot move below itself", ErrNotSubMenu, item)
	}

	t.items[item.ID()] = item
	if existing.Kind() != item.Kind() {
		delete(t.states, item.ID())
		if item.IsSubMenu() {
			t.children[item.ID()] = nil
		} else {
			delete(t.children, item.ID())
		}
	}
	if oldParent != parentID {
		t.children[oldParent] = slices.DeleteFunc(t.children[oldParent], func(id int) bool { return id == item.ID() })
		t.children[parentID] = append(t.children[parentID], item.ID())
		t.parents[item.ID()] = parentID
	}
	return true, nil
}

// isDescendant reports whether id sits somewhere below ancestor.
func (t *Tree) isDescendant(id, ancestor int) bool {
	for id != RootID {
		if id == ancestor {
			return true
		}
		p, ok := t.parents[id]
		if !ok {
			return false
		}
		id = p
	}
	return false
}

// RemoveMenuItem removes the item, its subtree and their states.
func (t *Tree) RemoveMenuItem(id int) error {
	if id == RootID {
		return ErrRootImmutable
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.items[id]; !ok {
		return fmt.Errorf("%w: %d", ErrItemNotFound, id)
	}
	parent := t.parents[id]
	t.children[parent] = slices.DeleteFunc(t.children[parent], func(c int) bool { return c == id })
	t.removeSubtree(id)
	return nil
}

func (t *Tree) removeSubtree(id int) {
	for _, c := range t.children[id] {
		t.removeSubtree(c)
	}
	delete(t.children, id)
	delete(t.items, id)
	delete(t.parents, id)
	delete(t.states, id)
}

func (t *Tree) GetMenuByID(id int) (Item, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	it, ok := t.items[id]
	return it, ok
}

// GetMenuItems returns the direct children of parentID in insertion order.
func (t *Tree) GetMenuItems(parentID int) []Item {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ids := t.children[parentID]
	out := make([]Item, 0, len(ids))
	for _, id := range ids {
		out = append(out, t.items[id])
	}
	return out
}

// GetAllMenuItems returns every item except Root, depth first, each
// submenu followed by its children.
func (t *Tree) GetAllMenuItems() []Item {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Item, 0, len(t.items)-1)
	var walk func(id int)
	walk = func(id int) {
		for _, c := range t.children[id] {
			out = append(out, t.items[c])
			walk(c)
		}
	}
	walk(RootID)
	return out
}

// FindParent returns the submenu holding id. Root and unknown ids have none.
func (t *Tree) FindParent(id int) (Item, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.parents[id]
	if !ok {
		return Item{}, false
	}
	return t.items[p], true
}

// ParentID is FindParent returning only the id.
func (t *Tree) ParentID(id int) (int, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.parents[id]
	return p, ok
}

func (t *Tree) GetState(id int) (State, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	st, ok := t.states[id]
	return st, ok
}

// ChangeItemState replaces the state of an existing item.
func (t *Tree) ChangeItemState(id int, st State) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	it, ok := t.items[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrItemNotFound, id)
	}
	if st.Kind != it.Kind() {
		return fmt.Errorf("%w: %s state for %s", ErrInvalidValue, st.Kind, it)
	}
	st.ID = id
	t.states[id] = st
	return nil
}

// Len is the number of items excluding Root.
func (t *Tree) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.items) - 1
}
