package protocol

import (
	"fmt"
)

// RemoteID is the integration ID the bridge assigns to a physical remote.
// It is only used as a correlation key.
type RemoteID uint8

// ButtonID identifies a button on a Pico remote. The codes are fixed by the
// bridge and are not contiguous.
type ButtonID uint8

const (
	ButtonPowerOn  ButtonID = 2
	ButtonFavorite ButtonID = 3
	ButtonPowerOff ButtonID = 4
	ButtonUp       ButtonID = 5
	ButtonDown     ButtonID = 6
)

// buttonStrings maps ButtonID values to their lowercase JSON string representation.
var buttonStrings = map[ButtonID]string{
	ButtonPowerOn:  "power_on",
	ButtonFavorite: "favorite",
	ButtonPowerOff: "power_off",
	ButtonUp:       "up",
	ButtonDown:     "down",
}

// ParseButtonID maps a wire component code to a ButtonID.
func ParseButtonID(code uint8) (ButtonID, error) {
	id := ButtonID(code)
	if _, ok := buttonStrings[id]; !ok {
		return 0, fmt.Errorf("%d is not a valid button id", code)
	}
	return id, nil
}

// Code returns the wire component code.
func (b ButtonID) Code() uint8 {
	return uint8(b)
}

// String returns the string representation of ButtonID.
func (b ButtonID) String() string {
	if str, ok := buttonStrings[b]; ok {
		return str
	}
	return fmt.Sprintf("button(%d)", uint8(b))
}

// MarshalJSON serializes ButtonID as a JSON string (e.g. "power_on").
func (b ButtonID) MarshalJSON() ([]byte, error) {
	return []byte(`"` + b.String() + `"`), nil
}

// ButtonAction is what happened to a button.
type ButtonAction uint8

const (
	ActionPress   ButtonAction = 3
	ActionRelease ButtonAction = 4
)

var actionStrings = map[ButtonAction]string{
	ActionPress:   "press",
	ActionRelease: "release",
}

// ParseButtonAction maps a wire action code to a ButtonAction.
func ParseButtonAction(code uint8) (ButtonAction, error) {
	a := ButtonAction(code)
	if _, ok := actionStrings[a]; !ok {
		return 0, fmt.Errorf("%d is not a valid button action", code)
	}
	return a, nil
}

// Code returns the wire action code.
func (a ButtonAction) Code() uint8 {
	return uint8(a)
}

// String returns the string representation of ButtonAction.
func (a ButtonAction) String() string {
	if str, ok := actionStrings[a]; ok {
		return str
	}
	return fmt.Sprintf("action(%d)", uint8(a))
}

// MarshalJSON serializes ButtonAction as a JSON string (e.g. "press").
func (a ButtonAction) MarshalJSON() ([]byte, error) {
	return []byte(`"` + a.String() + `"`), nil
}

// Message is anything the bridge can send. The set of implementations is
// closed to this package; all of them are comparable with ==.
type Message interface {
	fmt.Stringer
	message()
}

// LoginPrompt means the bridge is waiting for a username.
type LoginPrompt struct{}

// PasswordPrompt means the bridge accepted the username and wants a password.
type PasswordPrompt struct{}

// LoggedIn means authentication succeeded and events will follow.
type LoggedIn struct{}

// ButtonEvent is a single button transition on a remote.
type ButtonEvent struct {
	RemoteID RemoteID     `json:"remote_id"`
	Button   ButtonID     `json:"button"`
	Action   ButtonAction `json:"action"`
}

func (LoginPrompt) message()    {}
func (PasswordPrompt) message() {}
func (LoggedIn) message()       {}
func (ButtonEvent) message()    {}

func (LoginPrompt) String() string    { return "login prompt" }
func (PasswordPrompt) String() string { return "password prompt" }
func (LoggedIn) String() string       { return "logged in" }

func (e ButtonEvent) String() string {
	return fmt.Sprintf("remote %d button %s %s", e.RemoteID, e.Button, e.Action)
}
