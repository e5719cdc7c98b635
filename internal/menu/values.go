package menu

import (
	"fmt"
	"strconv"
	"strings"
)

// PortableColor is an RGBA color as carried by rgb items.
type PortableColor struct {
	Red, Green, Blue, Alpha uint8
}

// Black is the default value of rgb items.
var Black = PortableColor{Alpha: 0xff}

// ParseColor accepts #rgb, #rrggbb and #rrggbbaa.
func ParseColor(s string) (PortableColor, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "#") {
		return PortableColor{}, fmt.Errorf("%w: color %q must start with #", ErrInvalidValue, s)
	}
	hex := s[1:]
	if len(hex) == 3 {
		hex = string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]})
	}
	if len(hex) != 6 && len(hex) != 8 {
		return PortableColor{}, fmt.Errorf("%w: color %q", ErrInvalidValue, s)
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return PortableColor{}, fmt.Errorf("%w: color %q: %v", ErrInvalidValue, s, err)
	}
	if len(hex) == 6 {
		return PortableColor{Red: uint8(v >> 16), Green: uint8(v >> 8), Blue: uint8(v), Alpha: 0xff}, nil
	}
	return PortableColor{Red: uint8(v >> 24), Green: uint8(v >> 16), Blue: uint8(v >> 8), Alpha: uint8(v)}, nil
}

func (c PortableColor) String() string {
	if c.Alpha == 0xff {
		return fmt.Sprintf("#%02x%02x%02x", c.Red, c.Green, c.Blue)
	}
	return fmt.Sprintf("#%02x%02x%02x%02x", c.Red, c.Green, c.Blue, c.Alpha)
}

// ScrollPosition is the current choice of a scroll item, with the text the
// device rendered for it.
type ScrollPosition struct {
	Position int
	Value    string
}

// ParseScrollPosition reads the "<pos>-<text>" wire form. A bare number is
// accepted too.
func ParseScrollPosition(s string) (ScrollPosition, error) {
	pos, text, _ := strings.Cut(s, "-")
	n, err := strconv.Atoi(strings.TrimSpace(pos))
	if err != nil {
		return ScrollPosition{}, fmt.Errorf("%w: scroll position %q", ErrInvalidValue, s)
	}
	return ScrollPosition{Position: n, Value: text}, nil
}

func (p ScrollPosition) String() string {
	return strconv.Itoa(p.Position) + "-" + p.Value
}
