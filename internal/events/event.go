// Package events turns controller callbacks into self-describing events and
// fans them out to websocket clients and NATS.
package events

import (
	"time"

	"github.com/google/uuid"

	"menu-remote/internal/connector"
	"menu-remote/internal/controller"
	"menu-remote/internal/menu"
	"menu-remote/internal/protocol"
)

type Type string

const (
	TypeStatus Type = "status"
	TypeMenu   Type = "menu"
	TypeAck    Type = "ack"
	TypeDialog Type = "dialog"
)

// Event is the JSON envelope shared by every sink.
type Event struct {
	ID         string    `json:"id"`
	Type       Type      `json:"type"`
	Connection string    `json:"connection"`
	Timestamp  time.Time `json:"timestamp"`

	Status string `json:"status,omitempty"`
	Reason string `json:"reason,omitempty"`

	ItemID     int      `json:"item_id,omitempty"`
	ItemName   string   `json:"item_name,omitempty"`
	Kind       string   `json:"kind,omitempty"`
	Value      string   `json:"value,omitempty"`
	Numeric    *float64 `json:"numeric,omitempty"`
	Structural bool     `json:"structural,omitempty"`

	Correlation string `json:"correlation,omitempty"`
	AckStatus   string `json:"ack_status,omitempty"`

	Dialog *Dialog `json:"dialog,omitempty"`
}

type Dialog struct {
	Mode    string `json:"mode"`
	Header  string `json:"header,omitempty"`
	Message string `json:"message,omitempty"`
	Button1 string `json:"button1,omitempty"`
	Button2 string `json:"button2,omitempty"`
}

// Sink receives events. Publish must not block for long; it runs on the
// connector's reader goroutine.
type Sink interface {
	Publish(ev Event) error
}

func newEvent(t Type, connection string) Event {
	return Event{ID: uuid.NewString(), Type: t, Connection: connection, Timestamp: time.Now().UTC()}
}

func StatusEvent(connection string, status connector.AuthStatus, reason string) Event {
	ev := newEvent(TypeStatus, connection)
	ev.Status = status.String()
	ev.Reason = reason
	return ev
}

// MenuEvent describes item with its current value in tree, if any.
func MenuEvent(connection string, tree *menu.Tree, item menu.Item, structural bool) Event {
	ev := newEvent(TypeMenu, connection)
	ev.ItemID = item.ID()
	ev.ItemName = item.Name()
	ev.Kind = item.Kind().String()
	ev.Structural = structural
	if st, ok := tree.GetState(item.ID()); ok {
		ev.Value = st.WireText()
		if n, ok := st.Number(); ok && !item.IsSubMenu() && item.Kind() != menu.KindAction {
			ev.Numeric = &n
		}
	}
	return ev
}

func AckEvent(connection string, corr protocol.CorrelationID, status protocol.AckStatus) Event {
	ev := newEvent(TypeAck, connection)
	ev.Correlation = corr.String()
	ev.AckStatus = status.String()
	return ev
}

func DialogEvent(connection string, d protocol.Dialog) Event {
	ev := newEvent(TypeDialog, connection)
	ev.Dialog = &Dialog{
		Mode:    d.Mode.String(),
		Header:  d.Header,
		Message: d.Message,
		Button1: d.Button1.String(),
		Button2: d.Button2.String(),
	}
	return ev
}

// Attach publishes the events of c to every sink until the returned
// function is called. A failing sink is logged by the caller's onError and
// does not stop the others.
func Attach(c *controller.Controller, onError func(Sink, error), sinks ...Sink) func() {
	name := c.Name()
	emit := func(ev Event) {
		for _, s := range sinks {
			if err := s.Publish(ev); err != nil && onError != nil {
				onError(s, err)
			}
		}
	}
	return c.Subscribe(controller.Handlers{
		ConnectionChanged: func(status connector.AuthStatus, reason string) {
			emit(StatusEvent(name, status, reason))
		},
		MenuChanged: func(item menu.Item, structural bool) {
			emit(MenuEvent(name, c.Tree(), item, structural))
		},
		AckReceived: func(corr protocol.CorrelationID, status protocol.AckStatus) {
			emit(AckEvent(name, corr, status))
		},
		DialogUpdated: func(d protocol.Dialog) {
			emit(DialogEvent(name, d))
		},
	})
}
