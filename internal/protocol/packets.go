// Package protocol implements framing and decoding for the Caseta Smart
// Bridge integration telnet protocol. The bridge speaks line-oriented ASCII:
// prompts arrive without a line terminator, events arrive as CRLF-terminated
// comma-separated records.
package protocol

// Prompt markers sent by the bridge firmware. These must match byte for byte.
const (
	MarkerLogin    = "login: "
	MarkerPassword = "password: "
	MarkerLoggedIn = "GNET> "
)

// DevicePrefix starts every device event record, e.g. "~DEVICE,4,5,3".
const DevicePrefix = "~DEVICE"

// FieldSeparator delimits the fields of an event record.
const FieldSeparator = ","

// LineTerminator ends every line sent to the bridge.
const LineTerminator = "\r\n"

// InitialReadSize is the size of the scratch buffer used for each socket read.
const InitialReadSize = 128

// MaxLineLength bounds a single unterminated line held by the frame reader.
const MaxLineLength = 4096

// prompts lists the markers recognized at the head of the pending buffer.
var prompts = []string{MarkerLogin, MarkerPassword, MarkerLoggedIn}
