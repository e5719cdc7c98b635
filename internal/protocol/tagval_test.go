package protocol

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"menu-remote/internal/menu"
)

func TestTagValFrameLayout(t *testing.T) {
	c := NewTagValCodec()
	data, err := c.Encode(Bootstrap{Phase: BootStart})
	require.NoError(t, err)
	assert.Equal(t, "\x01\x01BSBT=START|\x02", string(data))

	data, err = c.Encode(Change{Correlation: 0xab, ItemID: 3, ChangeType: ChangeAbsolute, Value: `a|b\c`})
	require.NoError(t, err)
	assert.Equal(t, "\x01\x01VCIC=000000ab|ID=3|TC=1|VC=a\\|b\\\\c|\x02", string(data))
}

func TestTagValDecodesEncodedCommands(t *testing.T) {
	c := NewTagValCodec()
	enumItem := menu.New(menu.Info{ID: 3, Name: "Limit", EepromAddress: 6, Visible: true}, menu.EnumInfo{Entries: []string{"Current", "Voltage"}})
	cmds := []Command{
		Heartbeat{Interval: 1500 * time.Millisecond, Mode: HeartbeatEnd},
		Join{Name: "dev", UUID: "4a3c", Version: 302, Platform: "ARDUINO", SerialNumber: "999"},
		Ack{Correlation: 0xdeadbeef, Status: AckInvalidCredential},
		ItemCommand{ParentID: 4, Item: enumItem, Value: "1"},
		Change{Correlation: 9, ItemID: 20, ChangeType: ChangeList, Values: []string{"r1", "r|2"}},
		Dialog{Mode: DialogShow, Header: "Hi", Message: "Sure?", Button1: ButtonAccept, Button2: ButtonCancel},
	}
	for _, cmd := range cmds {
		data, err := c.Encode(cmd)
		require.NoError(t, err)
		got, n, err := c.Decode(data)
		require.NoError(t, err, "%T", cmd)
		assert.Equal(t, len(data), n)
		if ic, ok := cmd.(ItemCommand); ok {
			gi := got.(ItemCommand)
			assert.True(t, ic.Item.Equal(gi.Item))
			assert.Equal(t, ic.ParentID, gi.ParentID)
			assert.Equal(t, ic.Value, gi.Value)
			continue
		}
		assert.Equal(t, cmd, got)
	}
}

func TestTagValDecodeStream(t *testing.T) {
	c := NewTagValCodec()
	hb, _ := c.Encode(Heartbeat{Interval: time.Second})
	bs, _ := c.Encode(Bootstrap{Phase: BootEnd})

	buf := append([]byte("noise"), hb...)
	buf = append(buf, bs[:4]...)

	cmd, n, err := c.Decode(buf)
	require.NoError(t, err)
	assert.Equal(t, Heartbeat{Interval: time.Second}, cmd)
	buf = buf[n:]

	_, n, err = c.Decode(buf)
	assert.ErrorIs(t, err, ErrIncomplete)
	assert.Equal(t, 0, n)

	buf = append(buf, bs[4:]...)
	cmd, n, err = c.Decode(buf)
	require.NoError(t, err)
	assert.Equal(t, Bootstrap{Phase: BootEnd}, cmd)
	assert.Equal(t, len(buf), n)

	_, n, err = c.Decode([]byte("garbage"))
	assert.ErrorIs(t, err, ErrIncomplete)
	assert.Equal(t, 7, n)
}

func TestTagValDecodeErrors(t *testing.T) {
	c := &TagValCodec{MaxFrame: 32}

	_, _, err := c.Decode([]byte("\x01\x01ZZAB=1|\x02"))
	assert.ErrorIs(t, err, ErrUnknownCommand)

	_, _, err = c.Decode([]byte("\x01\x01BSBT=MIDDLE|\x02"))
	assert.ErrorIs(t, err, ErrMalformed)

	_, _, err = c.Decode([]byte("\x01\x01VCIC=zz|ID=1|\x02"))
	assert.ErrorIs(t, err, ErrMalformed)

	_, n, err := c.Decode([]byte("\x01\x01ANNM=x|\x02"))
	assert.ErrorIs(t, err, ErrMalformed, "missing ID")
	assert.Equal(t, 10, n)

	long := append([]byte("\x01\x01TMNM="), make([]byte, 64)...)
	_, n, err = c.Decode(long)
	assert.ErrorIs(t, err, ErrFrameTooLarge)
	assert.Equal(t, len(long), n)
}

func TestCorrelatorNeverRepeatsOrZero(t *testing.T) {
	c := &Correlator{}
	c.next.Store(^uint32(0) - 1)
	a := c.Next()
	b := c.Next()
	assert.NotEqual(t, a, b)
	assert.NotZero(t, b)

	seen := map[CorrelationID]bool{}
	c = NewCorrelator()
	for i := 0; i < 1000; i++ {
		id := c.Next()
		require.False(t, seen[id])
		seen[id] = true
	}

	id, err := ParseCorrelation(CorrelationID(0x1f).String())
	require.NoError(t, err)
	assert.Equal(t, CorrelationID(0x1f), id)
}
