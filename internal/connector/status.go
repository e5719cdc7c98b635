package connector

import "fmt"

// AuthStatus is the state of a connector.
type AuthStatus int

const (
	NotStarted AuthStatus = iota
	AwaitingConnection
	EstablishedConnection
	SendJoin
	Authenticated
	Bootstrapping
	ConnectionReady
	FailedAuth
)

var statusNames = [...]string{
	NotStarted:            "NOT_STARTED",
	AwaitingConnection:    "AWAITING_CONNECTION",
	EstablishedConnection: "ESTABLISHED_CONNECTION",
	SendJoin:              "SEND_JOIN",
	Authenticated:         "AUTHENTICATED",
	Bootstrapping:         "BOOTSTRAPPING",
	ConnectionReady:       "CONNECTION_READY",
	FailedAuth:            "FAILED_AUTH",
}

func (s AuthStatus) String() string {
	if s >= 0 && int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("STATUS(%d)", int(s))
}

// Connected reports whether a byte stream is open in this state.
func (s AuthStatus) Connected() bool {
	return s >= EstablishedConnection
}

// RemoteInfo describes the device as announced in its join.
type RemoteInfo struct {
	Name         string
	Version      int
	Platform     string
	UUID         string
	SerialNumber string
}

func (r RemoteInfo) Major() int { return r.Version / 100 }
func (r RemoteInfo) Minor() int { return r.Version % 100 }

func (r RemoteInfo) String() string {
	return fmt.Sprintf("%s v%d.%d %s (%s)", r.Name, r.Major(), r.Minor(), r.Platform, r.UUID)
}
