package menu

import (
	"fmt"
	"slices"
)

// State is the current value of one item. A State is never edited after it
// is built; the tree swaps whole states so a reader always sees a value and
// flags from the same update.
type State struct {
	ID      int
	Kind    Kind
	Changed bool
	Active  bool
	value   any
}

// Value returns the typed value: int for analog and enum items, bool for
// boolean, submenu and action items, float64 for float and large number
// items, string for text, []string for lists, ScrollPosition and
// PortableColor for scroll and rgb items.
func (s State) Value() any {
	if l, ok := s.value.([]string); ok {
		return slices.Clone(l)
	}
	return s.value
}

func (s State) Int() (int, bool) {
	v, ok := s.value.(int)
	return v, ok
}

func (s State) Bool() (bool, bool) {
	v, ok := s.value.(bool)
	return v, ok
}

func (s State) Float() (float64, bool) {
	v, ok := s.value.(float64)
	return v, ok
}

func (s State) Text() (string, bool) {
	v, ok := s.value.(string)
	return v, ok
}

func (s State) List() ([]string, bool) {
	v, ok := s.value.([]string)
	return slices.Clone(v), ok
}

func (s State) Scroll() (ScrollPosition, bool) {
	v, ok := s.value.(ScrollPosition)
	return v, ok
}

func (s State) Color() (PortableColor, bool) {
	v, ok := s.value.(PortableColor)
	return v, ok
}

// SameValue compares the values of two states ignoring the flags.
func (s State) SameValue(o State) bool {
	if a, ok := s.value.([]string); ok {
		b, ok := o.value.([]string)
		return ok && slices.Equal(a, b)
	}
	if _, ok := o.value.([]string); ok {
		return false
	}
	return s.value == o.value
}

// WireText renders the value the way it is sent to a device.
func (s State) WireText() string {
	switch v := s.value.(type) {
	case bool:
		if v {
			return "1"
		}
		return "0"
	case float64:
		return formatFloat(v)
	case []string:
		return fmt.Sprint(v)
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// Number returns the value as a float64 for items that have a numeric
// form. Booleans are 0 or 1.
func (s State) Number() (float64, bool) {
	switch v := s.value.(type) {
	case int:
		return float64(v), true
	case float64:
		return v, true
	case bool:
		if v {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

func (s State) String() string {
	return fmt.Sprintf("state[%d %v changed=%t active=%t]", s.ID, s.value, s.Changed, s.Active)
}
