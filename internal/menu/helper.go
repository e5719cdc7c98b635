package menu

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// EepromSize is the number of bytes the device uses to persist the item.
func EepromSize(item Item) int {
	switch item.Kind() {
	case KindAnalog, KindEnum, KindScrollChoice:
		return 2
	case KindBoolean:
		return 1
	case KindLargeNumber:
		return 8
	case KindRgb32:
		return 4
	case KindText:
		txt, _ := item.Text()
		if txt.EditType == EditPlainText {
			return txt.TextLength
		}
		return 4
	case KindSubMenu, KindAction, KindFloat, KindRuntimeList:
		return 0
	}
	return 0
}

// DefaultValue is the zero value used as a baseline for items that never
// had a state recorded.
func DefaultValue(item Item) any {
	switch item.Kind() {
	case KindAnalog, KindEnum:
		return 0
	case KindFloat, KindLargeNumber:
		return 0.0
	case KindBoolean, KindSubMenu, KindAction:
		return false
	case KindText:
		return ""
	case KindRgb32:
		return Black
	case KindRuntimeList:
		return []string{}
	case KindScrollChoice:
		return ScrollPosition{}
	}
	return false
}

// StateFor coerces v into the value type of item and builds a state. Strings
// are parsed the way they arrive from a device. Analog and enum values are
// clamped into range; a scroll position outside the item's entries becomes
// position 0. A nil v means the default value.
func StateFor(item Item, v any, changed, active bool) (State, error) {
	st := State{ID: item.ID(), Kind: item.Kind(), Changed: changed, Active: active}
	if v == nil {
		v = DefaultValue(item)
	}

	switch item.Kind() {
	case KindAnalog:
		n, err := toInt(v)
		if err != nil {
			return State{}, invalid(item, v, err)
		}
		a, _ := item.Analog()
		st.value = clamp(n, 0, a.MaxValue)

	case KindEnum:
		n, err := toInt(v)
		if err != nil {
			return State{}, invalid(item, v, err)
		}
		e, _ := item.Enum()
		st.value = clamp(n, 0, max(len(e.Entries)-1, 0))

	case KindBoolean:
		b, err := toBool(v)
		if err != nil {
			return State{}, invalid(item, v, err)
		}
		st.value = b

	case KindSubMenu, KindAction:
		st.value = false

	case KindText:
		st.value = fmt.Sprint(v)

	case KindFloat, KindLargeNumber:
		f, err := toFloat(v)
		if err != nil {
			return State{}, invalid(item, v, err)
		}
		st.value = f

	case KindRuntimeList:
		switch l := v.(type) {
		case []string:
			st.value = slices.Clone(l)
		case string:
			if l == "" {
				st.value = []string{}
			} else {
				st.value = strings.Split(l, "\n")
			}
		default:
			return State{}, invalid(item, v, nil)
		}

	case KindScrollChoice:
		var pos ScrollPosition
		switch p := v.(type) {
		case int:
			pos = ScrollPosition{Position: p}
		case ScrollPosition:
			pos = p
		case string:
			var err error
			if pos, err = ParseScrollPosition(p); err != nil {
				return State{}, err
			}
		default:
			return State{}, invalid(item, v, nil)
		}
		sc, _ := item.ScrollChoice()
		if pos.Position < 0 || pos.Position >= sc.NumEntries {
			pos = ScrollPosition{Position: 0, Value: "No entries"}
		}
		st.value = pos

	case KindRgb32:
		switch c := v.(type) {
		case PortableColor:
			st.value = c
		case string:
			col, err := ParseColor(c)
			if err != nil {
				return State{}, err
			}
			st.value = col
		default:
			return State{}, invalid(item, v, nil)
		}

	default:
		st.value = false
	}
	return st, nil
}

// ValueFor returns the current state of the item, storing and returning
// the default state when none has been recorded yet.
func ValueFor(tree *Tree, item Item) (State, error) {
	if st, ok := tree.GetState(item.ID()); ok {
		return st, nil
	}
	st, err := StateFor(item, nil, false, false)
	if err != nil {
		return State{}, err
	}
	if err := tree.ChangeItemState(item.ID(), st); err != nil {
		return State{}, err
	}
	return st, nil
}

// SetMenuState records a new value for the item. Changed is set when the
// value differs from the previous one; the active flag is carried over.
func SetMenuState(tree *Tree, item Item, v any) (State, error) {
	old, had := tree.GetState(item.ID())
	st, err := StateFor(item, v, false, had && old.Active)
	if err != nil {
		return State{}, err
	}
	if had {
		st.Changed = !st.SameValue(old)
	}
	if err := tree.ChangeItemState(item.ID(), st); err != nil {
		return State{}, err
	}
	return st, nil
}

// ApplyDelta moves an analog, enum or scroll item by delta. It returns false
// and leaves the stored state untouched when the result would leave
// [0, max], where max is the analog maximum or the last entry index.
func ApplyDelta(tree *Tree, item Item, delta int) (State, bool) {
	cur, err := ValueFor(tree, item)
	if err != nil {
		return State{}, false
	}
	st, ok := DeltaTarget(item, cur, delta)
	if !ok {
		return State{}, false
	}
	if err := tree.ChangeItemState(item.ID(), st); err != nil {
		return State{}, false
	}
	return st, true
}

// DeltaTarget is the state ApplyDelta would store, without storing it.
func DeltaTarget(item Item, cur State, delta int) (State, bool) {
	var next any
	switch item.Kind() {
	case KindAnalog, KindEnum:
		n, _ := cur.Int()
		v := n + delta
		upper := 0
		if a, ok := item.Analog(); ok {
			upper = a.MaxValue
		} else {
			e, _ := item.Enum()
			upper = len(e.Entries) - 1
		}
		if v < 0 || v > upper {
			return State{}, false
		}
		next = v
	case KindScrollChoice:
		p, _ := cur.Scroll()
		v := p.Position + delta
		sc, _ := item.ScrollChoice()
		if v < 0 || v >= sc.NumEntries {
			return State{}, false
		}
		next = ScrollPosition{Position: v}
	default:
		return State{}, false
	}

	st, err := StateFor(item, next, cur.Changed, cur.Active)
	if err != nil {
		return State{}, false
	}
	return st, true
}

// FindAvailableMenuID returns an id one above the largest in the tree.
func FindAvailableMenuID(tree *Tree) int {
	highest := RootID
	for _, it := range tree.GetAllMenuItems() {
		highest = max(highest, it.ID())
	}
	return highest + 1
}

// FindAvailableEepromLocation returns the first EEPROM address after every
// allocated slot. Address 2 is the first usable one on a device.
func FindAvailableEepromLocation(tree *Tree) int {
	loc := 2
	for _, it := range tree.GetAllMenuItems() {
		if it.EepromAddress() == -1 {
			continue
		}
		loc = max(loc, it.EepromAddress()+EepromSize(it))
	}
	return loc
}

func invalid(item Item, v any, err error) error {
	if err != nil {
		return fmt.Errorf("%w: %v (%v) for %s: %v", ErrInvalidValue, v, fmt.Sprintf("%T", v), item, err)
	}
	return fmt.Errorf("%w: %v (%T) for %s", ErrInvalidValue, v, v, item)
}

func clamp(v, lo, hi int) int {
	return min(max(v, lo), hi)
}

func toInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	case bool:
		if n {
			return 1, nil
		}
		return 0, nil
	case string:
		return strconv.Atoi(strings.TrimSpace(n))
	}
	return 0, fmt.Errorf("not an integer")
}

func toBool(v any) (bool, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case int:
		return b != 0, nil
	case string:
		s := strings.TrimSpace(b)
		if len(s) == 1 {
			return s[0] == '1' || s[0] == 'Y' || s[0] == 'y', nil
		}
		return strconv.ParseBool(s)
	}
	return false, fmt.Errorf("not a boolean")
}

func toFloat(v any) (float64, error) {
	switch f := v.(type) {
	case float64:
		return f, nil
	case float32:
		return float64(f), nil
	case int:
		return float64(f), nil
	case string:
		return strconv.ParseFloat(strings.TrimSpace(f), 64)
	}
	return 0, fmt.Errorf("not a number")
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
