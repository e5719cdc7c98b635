package menu

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func analog(id int, name string, maxValue int) Item {
	return New(Info{ID: id, Name: name, EepromAddress: -1, Visible: true}, AnalogInfo{MaxValue: maxValue, Divisor: 1})
}

func submenu(id int, name string) Item {
	return New(Info{ID: id, Name: name, EepromAddress: -1, Visible: true}, SubMenuInfo{})
}

func enum(id int, entries ...string) Item {
	return New(Info{ID: id, Name: "Enum", EepromAddress: -1, Visible: true}, EnumInfo{Entries: entries})
}

func ids(items []Item) []int {
	out := make([]int, 0, len(items))
	for _, it := range items {
		out = append(out, it.ID())
	}
	return out
}

func TestTreeAddAndLookup(t *testing.T) {
	tree := NewTree()

	structural, err := tree.AddOrUpdateItem(RootID, analog(1, "Volts", 255))
	require.NoError(t, err)
	assert.True(t, structural)

	_, err = tree.AddOrUpdateItem(RootID, submenu(2, "Settings"))
	require.NoError(t, err)
	_, err = tree.AddOrUpdateItem(2, analog(3, "Delay", 10))
	require.NoError(t, err)
	_, err = tree.AddOrUpdateItem(RootID, analog(4, "Amps", 100))
	require.NoError(t, err)

	assert.Equal(t, []int{1, 2, 3, 4}, ids(tree.GetAllMenuItems()))
	assert.Equal(t, []int{1, 2, 4}, ids(tree.GetMenuItems(RootID)))
	assert.Equal(t, []int{3}, ids(tree.GetMenuItems(2)))
	assert.Equal(t, 4, tree.Len())

	parent, ok := tree.FindParent(3)
	require.True(t, ok)
	assert.Equal(t, 2, parent.ID())

	parent, ok = tree.FindParent(1)
	require.True(t, ok)
	assert.Equal(t, RootID, parent.ID())

	_, ok = tree.FindParent(RootID)
	assert.False(t, ok)

	it, ok := tree.GetMenuByID(3)
	require.True(t, ok)
	assert.Equal(t, "Delay", it.Name())
}

func TestTreeRejectsBadParents(t *testing.T) {
	tree := NewTree()
	_, err := tree.AddOrUpdateItem(RootID, analog(1, "Volts", 255))
	require.NoError(t, err)

	_, err = tree.AddOrUpdateItem(99, analog(2, "Orphan", 1))
	assert.ErrorIs(t, err, ErrParentNotFound)

	_, err = tree.AddOrUpdateItem(1, analog(2, "Child of analog", 1))
	assert.ErrorIs(t, err, ErrNotSubMenu)

	_, err = tree.AddOrUpdateItem(RootID, submenu(RootID, "Other root"))
	assert.ErrorIs(t, err, ErrRootImmutable)

	assert.Equal(t, []int{1}, ids(tree.GetAllMenuItems()))
}

func TestTreeIdempotentUpdateKeepsState(t *testing.T) {
	tree := NewTree()
	item := analog(1, "Volts", 255)
	_, err := tree.AddOrUpdateItem(RootID, item)
	require.NoError(t, err)

	st, err := SetMenuState(tree, item, 42)
	require.NoError(t, err)

	structural, err := tree.AddOrUpdateItem(RootID, analog(1, "Volts", 255))
	require.NoError(t, err)
	assert.False(t, structural)

	got, ok := tree.GetState(1)
	require.True(t, ok)
	assert.Equal(t, st, got)
	assert.Equal(t, []int{1}, ids(tree.GetAllMenuItems()))
}

func TestTreeUpdateMovesAndReplaces(t *testing.T) {
	tree := NewTree()
	for _, ip := range []ItemWithParent{
		{RootID, submenu(1, "A")},
		{RootID, submenu(2, "B")},
		{1, analog(3, "X", 10)},
		{1, analog(4, "Y", 10)},
	} {
		_, err := tree.AddOrUpdateItem(ip.ParentID, ip.Item)
		require.NoError(t, err)
	}

	structural, err := tree.AddOrUpdateItem(2, analog(3, "X moved", 10))
	require.NoError(t, err)
	assert.True(t, structural)
	assert.Equal(t, []int{4}, ids(tree.GetMenuItems(1)))
	assert.Equal(t, []int{3}, ids(tree.GetMenuItems(2)))

	pid, _ := tree.ParentID(3)
	assert.Equal(t, 2, pid)

	_, err = tree.AddOrUpdateItem(RootID, analog(1, "A as analog", 10))
	assert.ErrorIs(t, err, ErrKindChange)

	_, err = tree.AddOrUpdateItem(3, submenu(1, "A"))
	assert.ErrorIs(t, err, ErrNotSubMenu)
}

func TestTreeKindChangeDropsState(t *testing.T) {
	tree := NewTree()
	_, err := tree.AddOrUpdateItem(RootID, analog(1, "Volts", 255))
	require.NoError(t, err)
	_, err = SetMenuState(tree, analog(1, "Volts", 255), 12)
	require.NoError(t, err)

	_, err = tree.AddOrUpdateItem(RootID, enum(1, "a", "b"))
	require.NoError(t, err)
	_, ok := tree.GetState(1)
	assert.False(t, ok)
}

func TestTreeRemoveSubtree(t *testing.T) {
	tree := NewTree()
	_, _ = tree.AddOrUpdateItem(RootID, submenu(1, "A"))
	_, _ = tree.AddOrUpdateItem(1, analog(2, "X", 10))
	_, _ = tree.AddOrUpdateItem(RootID, analog(3, "Y", 10))
	_, err := SetMenuState(tree, analog(2, "X", 10), 5)
	require.NoError(t, err)

	require.NoError(t, tree.RemoveMenuItem(1))
	assert.Equal(t, []int{3}, ids(tree.GetAllMenuItems()))
	_, ok := tree.GetState(2)
	assert.False(t, ok)

	assert.ErrorIs(t, tree.RemoveMenuItem(RootID), ErrRootImmutable)
	assert.ErrorIs(t, tree.RemoveMenuItem(1), ErrItemNotFound)
}

func TestTreeChangeItemStateValidates(t *testing.T) {
	tree := NewTree()
	item := analog(1, "Volts", 255)
	_, _ = tree.AddOrUpdateItem(RootID, item)

	st, err := StateFor(enum(1, "a"), 0, false, false)
	require.NoError(t, err)
	assert.ErrorIs(t, tree.ChangeItemState(1, st), ErrInvalidValue)

	st, err = StateFor(item, 3, false, false)
	require.NoError(t, err)
	assert.ErrorIs(t, tree.ChangeItemState(7, st), ErrItemNotFound)
}

// Every insert goes to a parent that already exists; the resulting tree must
// hold each id once and FindParent must invert the insertion parent.
func TestTreeFindParentInvertsInsertion(t *testing.T) {
	tree := NewTree()
	parentOf := map[int]int{}
	submenus := []int{RootID}
	for id := 1; id <= 60; id++ {
		parent := submenus[(id*7)%len(submenus)]
		var it Item
		if id%3 == 0 {
			it = submenu(id, "sub")
			submenus = append(submenus, id)
		} else {
			it = analog(id, "leaf", id)
		}
		_, err := tree.AddOrUpdateItem(parent, it)
		require.NoError(t, err)
		parentOf[id] = parent
	}

	all := tree.GetAllMenuItems()
	require.Len(t, all, len(parentOf))
	seen := map[int]bool{}
	for _, it := range all {
		assert.False(t, seen[it.ID()], "duplicate id %d", it.ID())
		seen[it.ID()] = true
		p, ok := tree.FindParent(it.ID())
		require.True(t, ok)
		assert.Equal(t, parentOf[it.ID()], p.ID())
	}
}

func TestTreeConcurrentStateReplacement(t *testing.T) {
	tree := NewTree()
	item := analog(1, "Volts", 1000)
	_, _ = tree.AddOrUpdateItem(RootID, item)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			// even values are written with Changed set, odd ones without
			st, _ := StateFor(item, i, i%2 == 0, false)
			_ = tree.ChangeItemState(1, st)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			st, ok := tree.GetState(1)
			if !ok {
				continue
			}
			v, _ := st.Int()
			assert.Equal(t, v%2 == 0, st.Changed)
		}
	}()
	wg.Wait()
}
