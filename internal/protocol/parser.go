package protocol

import (
	"strconv"
	"strings"
	"unicode/utf8"
)

// Decode turns one raw frame into a Message. A trailing CRLF is tolerated so
// callers that read whole socket chunks can pass them straight through.
func Decode(frame []byte) (Message, error) {
	if !utf8.Valid(frame) {
		return nil, &DecodeError{Raw: string(frame), Reason: "invalid utf-8"}
	}
	return ParseLine(string(frame))
}

// ParseLine decodes a single line of bridge output.
func ParseLine(text string) (Message, error) {
	line := strings.TrimSuffix(text, LineTerminator)
	line = strings.TrimSuffix(line, "\n")

	switch line {
	case MarkerLogin:
		return LoginPrompt{}, nil
	case MarkerPassword:
		return PasswordPrompt{}, nil
	case MarkerLoggedIn:
		return LoggedIn{}, nil
	}

	if strings.HasPrefix(line, DevicePrefix+FieldSeparator) {
		return parseDevice(line)
	}

	return nil, &DecodeError{Raw: text, Reason: "message not understood"}
}

// parseDevice handles "~DEVICE,<remote>,<component>,<action>".
func parseDevice(line string) (Message, error) {
	fields := strings.Split(strings.TrimPrefix(line, DevicePrefix+FieldSeparator), FieldSeparator)
	if len(fields) != 3 {
		return nil, &DecodeError{Raw: line, Reason: "device record needs 3 fields, got " + strconv.Itoa(len(fields))}
	}

	remote, err := parseCode(fields[0])
	if err != nil {
		return nil, &DecodeError{Raw: line, Reason: "bad remote id: " + err.Error()}
	}
	component, err := parseCode(fields[1])
	if err != nil {
		return nil, &DecodeError{Raw: line, Reason: "bad component code: " + err.Error()}
	}
	action, err := parseCode(fields[2])
	if err != nil {
		return nil, &DecodeError{Raw: line, Reason: "bad action code: " + err.Error()}
	}

	button, err := ParseButtonID(component)
	if err != nil {
		return nil, &DecodeError{Raw: line, Reason: err.Error()}
	}
	act, err := ParseButtonAction(action)
	if err != nil {
		return nil, &DecodeError{Raw: line, Reason: err.Error()}
	}

	return ButtonEvent{
		RemoteID: RemoteID(remote),
		Button:   button,
		Action:   act,
	}, nil
}

// parseCode reads one unsigned decimal field that must fit in a byte.
func parseCode(field string) (uint8, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(field), 10, 8)
	if err != nil {
		if ne, ok := err.(*strconv.NumError); ok {
			return 0, ne.Err
		}
		return 0, err
	}
	return uint8(v), nil
}
