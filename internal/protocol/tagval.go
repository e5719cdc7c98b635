package protocol

import (
	"bytes"
	"fmt"
	"strconv"
	"time"

	"menu-remote/internal/menu"
)

const (
	frameStart  byte = 0x01
	protoTagVal byte = 0x01
	frameEnd    byte = 0x02

	// DefaultMaxFrame bounds how much unterminated input Decode buffers.
	DefaultMaxFrame = 16 * 1024

	maxListEntries = 52
)

// TagValCodec reads and writes the tag value format: SOH, protocol byte,
// two letter message type, then KEY=value| fields and a closing 0x02.
// Backslash escapes a literal backslash or pipe inside a value.
type TagValCodec struct {
	MaxFrame int
}

func NewTagValCodec() *TagValCodec {
	return &TagValCodec{MaxFrame: DefaultMaxFrame}
}

type frameWriter struct {
	buf bytes.Buffer
}

func newFrame(t MessageType) *frameWriter {
	w := &frameWriter{}
	w.buf.WriteByte(frameStart)
	w.buf.WriteByte(protoTagVal)
	w.buf.WriteString(string(t))
	return w
}

func (w *frameWriter) field(key, val string) {
	w.buf.WriteString(key)
	w.buf.WriteByte('=')
	for i := 0; i < len(val); i++ {
		if val[i] == '\\' || val[i] == '|' {
			w.buf.WriteByte('\\')
		}
		w.buf.WriteByte(val[i])
	}
	w.buf.WriteByte('|')
}

func (w *frameWriter) int(key string, v int) { w.field(key, strconv.Itoa(v)) }

func (w *frameWriter) bool(key string, v bool) {
	if v {
		w.field(key, "1")
	} else {
		w.field(key, "0")
	}
}

func (w *frameWriter) list(vals []string) error {
	if len(vals) > maxListEntries {
		return fmt.Errorf("%w: %d list entries, at most %d fit a frame", ErrMalformed, len(vals), maxListEntries)
	}
	w.int("NC", len(vals))
	for i, v := range vals {
		w.field(listKey(i), v)
	}
	return nil
}

func (w *frameWriter) bytes() []byte {
	w.buf.WriteByte(frameEnd)
	return w.buf.Bytes()
}

func listKey(i int) string {
	if i < 26 {
		return "C" + string(rune('A'+i))
	}
	return "C" + string(rune('a'+i-26))
}

func (c *TagValCodec) Encode(cmd Command) ([]byte, error) {
	w := newFrame(cmd.Type())
	switch m := cmd.(type) {
	case Heartbeat:
		w.int("HI", int(m.Interval/time.Millisecond))
		w.int("HR", int(m.Mode))
	case Join:
		w.field("NM", m.Name)
		w.field("UU", m.UUID)
		w.int("VE", m.Version)
		w.field("PF", m.Platform)
		w.field("US", m.SerialNumber)
	case Pairing:
		w.field("NM", m.Name)
		w.field("UU", m.UUID)
	case Ack:
		w.field("IC", m.Correlation.String())
		w.int("ST", int(m.Status))
	case Bootstrap:
		if m.Phase == BootStart {
			w.field("BT", "START")
		} else {
			w.field("BT", "END")
		}
	case Change:
		w.field("IC", m.Correlation.String())
		w.int("ID", m.ItemID)
		w.int("TC", int(m.ChangeType))
		if m.ChangeType == ChangeList {
			if err := w.list(m.Values); err != nil {
				return nil, err
			}
		} else {
			w.field("VC", m.Value)
		}
	case Dialog:
		if m.Mode < DialogShow || m.Mode > DialogAction {
			return nil, fmt.Errorf("%w: dialog mode %d", ErrMalformed, m.Mode)
		}
		w.field("MO", string("SHA"[m.Mode]))
		w.field("HF", m.Header)
		w.field("BU", m.Message)
		w.int("B1", int(m.Button1))
		w.int("B2", int(m.Button2))
		w.field("IC", m.Correlation.String())
	case ItemCommand:
		if err := encodeItem(w, m); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownCommand, cmd)
	}
	return w.bytes(), nil
}

func encodeItem(w *frameWriter, m ItemCommand) error {
	it := m.Item
	w.int("PI", m.ParentID)
	w.int("ID", it.ID())
	w.int("IE", it.EepromAddress())
	w.field("NM", it.Name())
	w.bool("RO", it.ReadOnly())
	w.bool("VI", it.Visible())
	w.bool("LO", it.LocalOnly())

	switch p := it.Payload().(type) {
	case menu.SubMenuInfo:
		w.bool("SE", p.Secured)
	case menu.AnalogInfo:
		w.int("AM", p.MaxValue)
		w.int("AO", p.Offset)
		w.int("AD", p.Divisor)
		w.field("AU", p.Unit)
		w.int("AS", p.Step)
	case menu.EnumInfo:
		if err := w.list(p.Entries); err != nil {
			return err
		}
	case menu.BooleanInfo:
		w.int("BN", int(p.Naming))
	case menu.FloatInfo:
		w.int("FD", p.DecimalPlaces)
	case menu.LargeNumberInfo:
		w.int("FD", p.DecimalPlaces)
		w.int("ML", p.DigitsAllowed)
		w.bool("NA", p.Negative)
	case menu.TextInfo:
		w.int("ML", p.TextLength)
		w.int("EM", int(p.EditType))
	case menu.RuntimeListInfo:
		w.int("IR", p.InitialRows)
		return w.list(m.Values)
	case menu.ScrollChoiceInfo:
		w.int("WI", p.ItemWidth)
		w.int("NC", p.NumEntries)
		w.int("SM", int(p.Mode))
	case menu.Rgb32Info:
		w.bool("RA", p.IncludeAlpha)
	}
	if it.Kind() != menu.KindSubMenu {
		w.field("VC", m.Value)
	}
	return nil
}

func (c *TagValCodec) Decode(buf []byte) (Command, int, error) {
	start := bytes.IndexByte(buf, frameStart)
	if start < 0 {
		return nil, len(buf), ErrIncomplete
	}
	limit := c.MaxFrame
	if limit <= 0 {
		limit = DefaultMaxFrame
	}

	incomplete := func() (Command, int, error) {
		if len(buf)-start > limit {
			return nil, len(buf), ErrFrameTooLarge
		}
		return nil, start, ErrIncomplete
	}

	p := start + 1
	if len(buf) < p+3 {
		return incomplete()
	}
	if buf[p] != protoTagVal {
		return nil, p, fmt.Errorf("%w: protocol byte %#x", ErrMalformed, buf[p])
	}
	mt := MessageType(buf[p+1 : p+3])
	p += 3

	fields := map[string]string{}
	var val []byte
	for {
		if p >= len(buf) {
			return incomplete()
		}
		if buf[p] == frameEnd {
			p++
			break
		}
		if p+3 > len(buf) {
			return incomplete()
		}
		key := string(buf[p : p+2])
		if buf[p+2] != '=' {
			return nil, p, fmt.Errorf("%w: field %q in %s", ErrMalformed, key, mt)
		}
		p += 3

		val = val[:0]
		closed := false
		for p < len(buf) && !closed {
			switch b := buf[p]; {
			case b == '\\':
				if p+1 >= len(buf) {
					return incomplete()
				}
				val = append(val, buf[p+1])
				p += 2
			case b == '|':
				closed = true
				p++
			case b == frameStart:
				// a new frame started before this one ended
				return nil, p, fmt.Errorf("%w: unterminated %s", ErrMalformed, mt)
			default:
				val = append(val, b)
				p++
			}
		}
		if !closed {
			return incomplete()
		}
		fields[key] = string(val)
	}

	cmd, err := buildCommand(mt, fieldReader{f: fields})
	if err != nil {
		return nil, p, err
	}
	return cmd, p, nil
}

type fieldReader struct {
	f   map[string]string
	err error
}

func (r *fieldReader) str(key string) string { return r.f[key] }

func (r *fieldReader) int(key string, def int) int {
	s, ok := r.f[key]
	if !ok || s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil && r.err == nil {
		r.err = fmt.Errorf("%w: field %s=%q is not a number", ErrMalformed, key, s)
	}
	return v
}

func (r *fieldReader) required(key string) int {
	if _, ok := r.f[key]; !ok && r.err == nil {
		r.err = fmt.Errorf("%w: missing field %s", ErrMalformed, key)
	}
	return r.int(key, 0)
}

func (r *fieldReader) bool(key string, def bool) bool {
	s, ok := r.f[key]
	if !ok {
		return def
	}
	return s == "1" || s == "Y" || s == "true"
}

func (r *fieldReader) list() []string {
	n := r.int("NC", 0)
	if n < 0 || n > maxListEntries {
		if r.err == nil {
			r.err = fmt.Errorf("%w: list of %d entries", ErrMalformed, n)
		}
		return nil
	}
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, r.f[listKey(i)])
	}
	return out
}

func (r *fieldReader) correlation() CorrelationID {
	s, ok := r.f["IC"]
	if !ok || s == "" {
		return 0
	}
	c, err := ParseCorrelation(s)
	if err != nil && r.err == nil {
		r.err = err
	}
	return c
}

func buildCommand(mt MessageType, r fieldReader) (Command, error) {
	var cmd Command
	switch mt {
	case MsgHeartbeat:
		cmd = Heartbeat{
			Interval: time.Duration(r.int("HI", 0)) * time.Millisecond,
			Mode:     HeartbeatMode(r.int("HR", 0)),
		}
	case MsgJoin:
		cmd = Join{Name: r.str("NM"), UUID: r.str("UU"), Version: r.int("VE", 0), Platform: r.str("PF"), SerialNumber: r.str("US")}
	case MsgPairing:
		cmd = Pairing{Name: r.str("NM"), UUID: r.str("UU")}
	case MsgAck:
		cmd = Ack{Correlation: r.correlation(), Status: AckStatus(r.int("ST", 0))}
	case MsgBootstrap:
		switch r.str("BT") {
		case "START":
			cmd = Bootstrap{Phase: BootStart}
		case "END":
			cmd = Bootstrap{Phase: BootEnd}
		default:
			return nil, fmt.Errorf("%w: bootstrap phase %q", ErrMalformed, r.str("BT"))
		}
	case MsgChange:
		ch := Change{Correlation: r.correlation(), ItemID: r.required("ID"), ChangeType: ChangeType(r.int("TC", int(ChangeAbsolute)))}
		if ch.ChangeType == ChangeList {
			ch.Values = r.list()
		} else {
			ch.Value = r.str("VC")
		}
		cmd = ch
	case MsgDialog:
		mode := DialogShow
		switch r.str("MO") {
		case "H":
			mode = DialogHide
		case "A":
			mode = DialogAction
		}
		cmd = Dialog{
			Mode:        mode,
			Header:      r.str("HF"),
			Message:     r.str("BU"),
			Button1:     ButtonType(r.int("B1", 0)),
			Button2:     ButtonType(r.int("B2", 0)),
			Correlation: r.correlation(),
		}
	default:
		kind, ok := kindFor(mt)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, string(mt))
		}
		cmd = decodeItem(kind, &r)
	}
	if r.err != nil {
		return nil, r.err
	}
	return cmd, nil
}

func kindFor(mt MessageType) (menu.Kind, bool) {
	for k, t := range itemTypes {
		if t == mt {
			return k, true
		}
	}
	return 0, false
}

func decodeItem(kind menu.Kind, r *fieldReader) ItemCommand {
	info := menu.Info{
		ID:            r.required("ID"),
		Name:          r.str("NM"),
		EepromAddress: r.int("IE", -1),
		ReadOnly:      r.bool("RO", false),
		Visible:       r.bool("VI", true),
		LocalOnly:     r.bool("LO", false),
	}
	cmd := ItemCommand{ParentID: r.int("PI", menu.RootID), Value: r.str("VC")}

	var p menu.Payload
	switch kind {
	case menu.KindSubMenu:
		p = menu.SubMenuInfo{Secured: r.bool("SE", false)}
	case menu.KindAnalog:
		p = menu.AnalogInfo{MaxValue: r.int("AM", 0), Offset: r.int("AO", 0), Divisor: r.int("AD", 1), Unit: r.str("AU"), Step: r.int("AS", 1)}
	case menu.KindEnum:
		p = menu.EnumInfo{Entries: r.list()}
	case menu.KindBoolean:
		p = menu.BooleanInfo{Naming: menu.BoolNaming(r.int("BN", 0))}
	case menu.KindFloat:
		p = menu.FloatInfo{DecimalPlaces: r.int("FD", 0)}
	case menu.KindLargeNumber:
		p = menu.LargeNumberInfo{DecimalPlaces: r.int("FD", 0), DigitsAllowed: r.int("ML", 0), Negative: r.bool("NA", false)}
	case menu.KindText:
		p = menu.TextInfo{TextLength: r.int("ML", 0), EditType: menu.EditType(r.int("EM", 0))}
	case menu.KindRuntimeList:
		p = menu.RuntimeListInfo{InitialRows: r.int("IR", 0)}
		cmd.Values = r.list()
	case menu.KindScrollChoice:
		p = menu.ScrollChoiceInfo{ItemWidth: r.int("WI", 0), NumEntries: r.int("NC", 0), Mode: menu.ScrollChoiceMode(r.int("SM", 0))}
	case menu.KindRgb32:
		p = menu.Rgb32Info{IncludeAlpha: r.bool("RA", false)}
	default:
		p = menu.ActionInfo{}
	}
	cmd.Item = menu.New(info, p)
	return cmd
}
