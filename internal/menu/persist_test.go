package menu

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultTreeShape(t *testing.T) {
	tree := DefaultTree()

	assert.Equal(t, []int{1, 2, 3, 4, 7, 14}, ids(tree.GetMenuItems(RootID)))
	assert.Equal(t, []int{5, 10, 11}, ids(tree.GetMenuItems(4)))
	assert.Equal(t, []int{12, 13}, ids(tree.GetMenuItems(11)))

	volts, ok := tree.GetMenuByID(1)
	require.True(t, ok)
	a, ok := volts.Analog()
	require.True(t, ok)
	assert.Equal(t, AnalogInfo{MaxValue: 255, Offset: -128, Divisor: 2, Unit: "V"}, a)

	ip, ok := tree.GetMenuByID(15)
	require.True(t, ok)
	assert.False(t, ip.Visible())
	txt, _ := ip.Text()
	assert.Equal(t, EditIPAddress, txt.EditType)

	conn, _ := tree.GetMenuByID(14)
	sub, _ := conn.SubMenu()
	assert.True(t, sub.Secured)
	assert.True(t, conn.LocalOnly())

	pwr, _ := tree.GetMenuByID(5)
	b, _ := pwr.Boolean()
	assert.Equal(t, NamingYesNo, b.Naming)
}

func TestMarshalTreeReloads(t *testing.T) {
	tree := DefaultTree()
	data, err := MarshalTree(tree)
	require.NoError(t, err)

	again, err := LoadTree(data)
	require.NoError(t, err)

	want := tree.GetAllMenuItems()
	got := again.GetAllMenuItems()
	require.Len(t, got, len(want))
	for i := range want {
		assert.True(t, want[i].Equal(got[i]), "%s != %s", want[i], got[i])
		wp, _ := tree.ParentID(want[i].ID())
		gp, _ := again.ParentID(got[i].ID())
		assert.Equal(t, wp, gp)
	}
}

func TestLoadTreeErrors(t *testing.T) {
	_, err := LoadTree([]byte(`{"items":[{"parentId":0,"type":"widget","item":{"id":1}}]}`))
	assert.Error(t, err)

	_, err = LoadTree([]byte(`{"items":[{"parentId":3,"type":"boolItem","item":{"id":1}}]}`))
	assert.ErrorIs(t, err, ErrParentNotFound)

	_, err = LoadTree([]byte(`{"items":`))
	assert.Error(t, err)
}
