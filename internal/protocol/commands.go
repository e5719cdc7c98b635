package protocol

import (
	"fmt"
	"time"

	"menu-remote/internal/menu"
)

// MessageType is the two letter code that starts every frame.
type MessageType string

const (
	MsgHeartbeat MessageType = "HB"
	MsgJoin      MessageType = "NJ"
	MsgPairing   MessageType = "PR"
	MsgAck       MessageType = "AK"
	MsgBootstrap MessageType = "BS"
	MsgChange    MessageType = "VC"
	MsgDialog    MessageType = "DM"

	MsgSubMenu     MessageType = "BM"
	MsgAnalog      MessageType = "AN"
	MsgEnum        MessageType = "EN"
	MsgBoolean     MessageType = "BO"
	MsgFloat       MessageType = "FP"
	MsgLargeNumber MessageType = "NM"
	MsgText        MessageType = "TM"
	MsgAction      MessageType = "AC"
	MsgRuntimeList MessageType = "RM"
	MsgScrollItem  MessageType = "SC"
	MsgRgb         MessageType = "RG"
)

var itemTypes = map[menu.Kind]MessageType{
	menu.KindSubMenu:      MsgSubMenu,
	menu.KindAnalog:       MsgAnalog,
	menu.KindEnum:         MsgEnum,
	menu.KindBoolean:      MsgBoolean,
	menu.KindFloat:        MsgFloat,
	menu.KindLargeNumber:  MsgLargeNumber,
	menu.KindText:         MsgText,
	menu.KindAction:       MsgAction,
	menu.KindRuntimeList:  MsgRuntimeList,
	menu.KindScrollChoice: MsgScrollItem,
	menu.KindRgb32:        MsgRgb,
}

// Command is one decoded protocol message.
type Command interface {
	Type() MessageType
}

type HeartbeatMode int

const (
	HeartbeatNormal HeartbeatMode = iota
	HeartbeatStart
	// HeartbeatEnd announces the sender is closing the connection.
	HeartbeatEnd
)

type Heartbeat struct {
	Interval time.Duration
	Mode     HeartbeatMode
}

// Join announces an endpoint. The API side sends its name and uuid; the
// device answers with its own identity and version.
type Join struct {
	Name         string
	UUID         string
	Version      int
	Platform     string
	SerialNumber string
}

// Pairing asks the device to remember the uuid so later joins are accepted.
type Pairing struct {
	Name string
	UUID string
}

type AckStatus int

const (
	AckValueRangeWarning AckStatus = -1
	AckSuccess           AckStatus = 0
	AckIDNotFound        AckStatus = 1
	AckInvalidCredential AckStatus = 2
	AckUnknownError      AckStatus = 10000
)

// IsError reports whether the status rejects the request. Warnings are not
// errors.
func (s AckStatus) IsError() bool { return s > AckSuccess }

func (s AckStatus) String() string {
	switch s {
	case AckValueRangeWarning:
		return "VALUE_RANGE_WARNING"
	case AckSuccess:
		return "SUCCESS"
	case AckIDNotFound:
		return "ID_NOT_FOUND"
	case AckInvalidCredential:
		return "INVALID_CREDENTIALS"
	case AckUnknownError:
		return "UNKNOWN_ERROR"
	}
	return fmt.Sprintf("STATUS(%d)", int(s))
}

type Ack struct {
	Correlation CorrelationID
	Status      AckStatus
}

type BootPhase int

const (
	BootStart BootPhase = iota
	BootEnd
)

type Bootstrap struct {
	Phase BootPhase
}

// ItemCommand carries one item definition and its current value.
type ItemCommand struct {
	ParentID int
	Item     menu.Item
	Value    string
	Values   []string
}

type ChangeType int

const (
	ChangeDelta ChangeType = iota
	ChangeAbsolute
	ChangeList
)

// Change is a value change in either direction. Outbound changes carry a
// correlation that the device echoes in its Ack.
type Change struct {
	Correlation CorrelationID
	ItemID      int
	ChangeType  ChangeType
	Value       string
	Values      []string
}

type DialogMode int

const (
	DialogShow DialogMode = iota
	DialogHide
	DialogAction
)

func (m DialogMode) String() string {
	switch m {
	case DialogShow:
		return "SHOW"
	case DialogHide:
		return "HIDE"
	case DialogAction:
		return "ACTION"
	}
	return fmt.Sprintf("DIALOG(%d)", int(m))
}

type ButtonType int

const (
	ButtonNone ButtonType = iota
	ButtonOK
	ButtonAccept
	ButtonCancel
	ButtonClose
)

var buttonNames = [...]string{"NONE", "OK", "ACCEPT", "CANCEL", "CLOSE"}

func (b ButtonType) String() string {
	if b >= 0 && int(b) < len(buttonNames) {
		return buttonNames[b]
	}
	return fmt.Sprintf("BUTTON(%d)", int(b))
}

// ParseButton accepts the names printed by ButtonType.String.
func ParseButton(s string) (ButtonType, error) {
	for i, n := range buttonNames {
		if n == s {
			return ButtonType(i), nil
		}
	}
	return ButtonNone, fmt.Errorf("unknown button %q", s)
}

// Dialog shows, hides or answers a modal dialog. Devices send Show and
// Hide; the API answers with Action naming the pressed button in Button1.
type Dialog struct {
	Mode        DialogMode
	Header      string
	Message     string
	Button1     ButtonType
	Button2     ButtonType
	Correlation CorrelationID
}

func (Heartbeat) Type() MessageType { return MsgHeartbeat }
func (Join) Type() MessageType      { return MsgJoin }
func (Pairing) Type() MessageType   { return MsgPairing }
func (Ack) Type() MessageType       { return MsgAck }
func (Bootstrap) Type() MessageType { return MsgBootstrap }
func (Change) Type() MessageType    { return MsgChange }
func (Dialog) Type() MessageType    { return MsgDialog }

func (c ItemCommand) Type() MessageType {
	if t, ok := itemTypes[c.Item.Kind()]; ok {
		return t
	}
	return MsgAction
}

// ItemWithValue builds the bootstrap command for item using the wire form of
// its state.
func ItemWithValue(parentID int, item menu.Item, st menu.State) ItemCommand {
	cmd := ItemCommand{ParentID: parentID, Item: item}
	if l, ok := st.List(); ok {
		cmd.Values = l
	} else {
		cmd.Value = st.WireText()
	}
	return cmd
}
