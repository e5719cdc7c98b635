package menu

import (
	"fmt"
	"slices"
)

// Kind identifies which payload an Item carries.
type Kind int

const (
	KindSubMenu Kind = iota
	KindAnalog
	KindEnum
	KindBoolean
	KindFloat
	KindLargeNumber
	KindText
	KindAction
	KindRuntimeList
	KindScrollChoice
	KindRgb32
)

var kindNames = [...]string{
	KindSubMenu:      "subMenu",
	KindAnalog:       "analogItem",
	KindEnum:         "enumItem",
	KindBoolean:      "boolItem",
	KindFloat:        "floatItem",
	KindLargeNumber:  "largeNumItem",
	KindText:         "textItem",
	KindAction:       "actionMenu",
	KindRuntimeList:  "runtimeList",
	KindScrollChoice: "scrollItem",
	KindRgb32:        "rgbItem",
}

func (k Kind) String() string {
	if k >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseKind maps the persisted type name back to a Kind.
func ParseKind(s string) (Kind, error) {
	for i, n := range kindNames {
		if n == s {
			return Kind(i), nil
		}
	}
	return 0, fmt.Errorf("unknown menu item type %q", s)
}

// Info holds the fields common to every menu item.
type Info struct {
	ID            int
	Name          string
	EepromAddress int
	ReadOnly      bool
	Visible       bool
	LocalOnly     bool
	FunctionName  string
}

// Payload is the type specific part of an item. Only the types in this
// package implement it.
type Payload interface {
	Kind() Kind
	payload()
}

type SubMenuInfo struct {
	Secured bool
}

type AnalogInfo struct {
	MaxValue int
	Offset   int
	Divisor  int
	Unit     string
	Step     int
}

type EnumInfo struct {
	Entries []string
}

type BoolNaming int

const (
	NamingTrueFalse BoolNaming = iota
	NamingOnOff
	NamingYesNo
	NamingCheckbox
)

type BooleanInfo struct {
	Naming BoolNaming
}

type FloatInfo struct {
	DecimalPlaces int
}

type LargeNumberInfo struct {
	DecimalPlaces int
	DigitsAllowed int
	Negative      bool
}

type EditType int

const (
	EditPlainText EditType = iota
	EditIPAddress
	EditTime24
	EditTime12
	EditTime24Hundreds
	EditGregorianDate
	EditTimeDuration
)

type TextInfo struct {
	EditType   EditType
	TextLength int
}

type ActionInfo struct{}

type RuntimeListInfo struct {
	InitialRows int
}

type ScrollChoiceMode int

const (
	ScrollArrayInEeprom ScrollChoiceMode = iota
	ScrollArrayInRAM
	ScrollCustomRenderFn
)

type ScrollChoiceInfo struct {
	NumEntries int
	ItemWidth  int
	Mode       ScrollChoiceMode
}

type Rgb32Info struct {
	IncludeAlpha bool
}

func (SubMenuInfo) Kind() Kind      { return KindSubMenu }
func (AnalogInfo) Kind() Kind       { return KindAnalog }
func (EnumInfo) Kind() Kind         { return KindEnum }
func (BooleanInfo) Kind() Kind      { return KindBoolean }
func (FloatInfo) Kind() Kind        { return KindFloat }
func (LargeNumberInfo) Kind() Kind  { return KindLargeNumber }
func (TextInfo) Kind() Kind         { return KindText }
func (ActionInfo) Kind() Kind       { return KindAction }
func (RuntimeListInfo) Kind() Kind  { return KindRuntimeList }
func (ScrollChoiceInfo) Kind() Kind { return KindScrollChoice }
func (Rgb32Info) Kind() Kind        { return KindRgb32 }

func (SubMenuInfo) payload()      {}
func (AnalogInfo) payload()       {}
func (EnumInfo) payload()         {}
func (BooleanInfo) payload()      {}
func (FloatInfo) payload()        {}
func (LargeNumberInfo) payload()  {}
func (TextInfo) payload()         {}
func (ActionInfo) payload()       {}
func (RuntimeListInfo) payload()  {}
func (ScrollChoiceInfo) payload() {}
func (Rgb32Info) payload()        {}

// Item is an immutable menu item definition. Items are values: copies never
// share mutable state with the tree that holds them.
type Item struct {
	info    Info
	payload Payload
}

// RootID is the id of the distinguished root submenu.
const RootID = 0

// Root is the root submenu every tree starts with.
var Root = New(Info{ID: RootID, Name: "Root", EepromAddress: -1, Visible: true}, SubMenuInfo{})

// New builds an item from its common info and payload.
func New(info Info, p Payload) Item {
	if p == nil {
		p = ActionInfo{}
	}
	if e, ok := p.(EnumInfo); ok {
		p = EnumInfo{Entries: slices.Clone(e.Entries)}
	}
	return Item{info: info, payload: p}
}

func (i Item) ID() int              { return i.info.ID }
func (i Item) Name() string         { return i.info.Name }
func (i Item) EepromAddress() int   { return i.info.EepromAddress }
func (i Item) ReadOnly() bool       { return i.info.ReadOnly }
func (i Item) Visible() bool        { return i.info.Visible }
func (i Item) LocalOnly() bool      { return i.info.LocalOnly }
func (i Item) FunctionName() string { return i.info.FunctionName }
func (i Item) Info() Info           { return i.info }

// Kind reports the payload kind. The zero Item reports KindAction.
func (i Item) Kind() Kind {
	if i.payload == nil {
		return KindAction
	}
	return i.payload.Kind()
}

// IsSubMenu reports whether the item can hold children.
func (i Item) IsSubMenu() bool { return i.Kind() == KindSubMenu }

func (i Item) SubMenu() (SubMenuInfo, bool) {
	p, ok := i.payload.(SubMenuInfo)
	return p, ok
}

func (i Item) Analog() (AnalogInfo, bool) {
	p, ok := i.payload.(AnalogInfo)
	return p, ok
}

func (i Item) Enum() (EnumInfo, bool) {
	p, ok := i.payload.(EnumInfo)
	if ok {
		p.Entries = slices.Clone(p.Entries)
	}
	return p, ok
}

func (i Item) Boolean() (BooleanInfo, bool) {
	p, ok := i.payload.(BooleanInfo)
	return p, ok
}

func (i Item) Float() (FloatInfo, bool) {
	p, ok := i.payload.(FloatInfo)
	return p, ok
}

func (i Item) LargeNumber() (LargeNumberInfo, bool) {
	p, ok := i.payload.(LargeNumberInfo)
	return p, ok
}

func (i Item) Text() (TextInfo, bool) {
	p, ok := i.payload.(TextInfo)
	return p, ok
}

func (i Item) RuntimeList() (RuntimeListInfo, bool) {
	p, ok := i.payload.(RuntimeListInfo)
	return p, ok
}

func (i Item) ScrollChoice() (ScrollChoiceInfo, bool) {
	p, ok := i.payload.(ScrollChoiceInfo)
	return p, ok
}

func (i Item) Rgb32() (Rgb32Info, bool) {
	p, ok := i.payload.(Rgb32Info)
	return p, ok
}

// Payload returns the type specific part of the definition.
func (i Item) Payload() Payload {
	if e, ok := i.payload.(EnumInfo); ok {
		return EnumInfo{Entries: slices.Clone(e.Entries)}
	}
	return i.payload
}

// WithID returns a copy of the item under a new id. The copy has no EEPROM
// slot since the original's slot belongs to the original.
func (i Item) WithID(id int) Item {
	info := i.info
	info.ID = id
	info.EepromAddress = -1
	return New(info, i.payload)
}

// Equal reports whether two definitions are identical.
func (i Item) Equal(o Item) bool {
	if i.info != o.info || i.Kind() != o.Kind() {
		return false
	}
	if a, ok := i.payload.(EnumInfo); ok {
		b := o.payload.(EnumInfo)
		return slices.Equal(a.Entries, b.Entries)
	}
	return i.payload == o.payload
}

func (i Item) String() string {
	return fmt.Sprintf("%s[%d %q]", i.Kind(), i.info.ID, i.info.Name)
}
