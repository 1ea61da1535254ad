package frame

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"
)

// Type tags a Frame. The set is closed; consumers dispatch on it.
type Type string

const (
	Stdout      Type = "stdout"
	Stdin       Type = "stdin"
	Stderr      Type = "stderr"
	Cursor      Type = "cursor"
	Resize      Type = "resize"
	ResizeAck   Type = "resize_ack"
	Prompt      Type = "prompt"
	Idle        Type = "idle"
	LineUpdate  Type = "line_update"
	Overflow    Type = "overflow"
	Signal      Type = "signal"
	Exit        Type = "exit"
	Stopped     Type = "stopped"
	Continued   Type = "continued"
	CapsuleKill Type = "capsule_kill"
	Ping        Type = "ping"
	Pong        Type = "pong"
)

// Frame is a single event in the session protocol. Only the fields relevant
// to Type are set; everything else stays absent on the wire. Data and Code
// are pointers so an empty payload and exit code 0 still serialize.
type Frame struct {
	Ts     float64 `json:"ts"`
	Type   Type    `json:"type"`
	Data   *string `json:"data,omitempty"`
	Binary bool    `json:"binary,omitempty"`
	Cols   uint16  `json:"cols,omitempty"`
	Rows   uint16  `json:"rows,omitempty"`
	Code   *int    `json:"code,omitempty"`
	Signal string  `json:"signal,omitempty"`
	Regex  string  `json:"regex,omitempty"`
	DurMs  uint64  `json:"dur_ms,omitempty"`
	Reason string  `json:"reason,omitempty"`
}

// New returns a frame of the given type stamped with the current wall clock.
// Optional fields are attached with the With* builders before the frame is
// handed to anyone else.
func New(t Type) Frame {
	return Frame{Ts: timestamp(), Type: t}
}

func (f Frame) WithData(data string) Frame {
	f.Data = &data
	return f
}

// WithBinaryData attaches a payload that is not valid UTF-8 text. It is
// base64-encoded and the frame is marked binary.
func (f Frame) WithBinaryData(data []byte) Frame {
	encoded := base64.StdEncoding.EncodeToString(data)
	f.Data = &encoded
	f.Binary = true
	return f
}

func (f Frame) WithSize(cols, rows uint16) Frame {
	f.Cols = cols
	f.Rows = rows
	return f
}

func (f Frame) WithExitCode(code int) Frame {
	f.Code = &code
	return f
}

func (f Frame) WithSignal(signal string) Frame {
	f.Signal = signal
	return f
}

func (f Frame) WithRegex(regex string) Frame {
	f.Regex = regex
	return f
}

func (f Frame) WithDuration(durMs uint64) Frame {
	f.DurMs = durMs
	return f
}

func (f Frame) WithReason(reason string) Frame {
	f.Reason = reason
	return f
}

// DataString returns the payload, or "" when the frame carries none.
func (f Frame) DataString() string {
	if f.Data == nil {
		return ""
	}
	return *f.Data
}

// Encode serializes the frame as a single JSON line (without the trailing
// newline). Absent optional fields are omitted, never emitted as null.
func (f Frame) Encode() (string, error) {
	b, err := json.Marshal(f)
	if err != nil {
		return "", fmt.Errorf("error encoding frame: %w", err)
	}
	return string(b), nil
}

// Decode parses a JSON line produced by Encode.
func Decode(line string) (Frame, error) {
	var f Frame
	if err := json.Unmarshal([]byte(line), &f); err != nil {
		return Frame{}, fmt.Errorf("error decoding frame: %w", err)
	}
	return f, nil
}

// PayloadLen is the number of payload bytes the frame holds, used for
// back-pressure accounting.
func (f Frame) PayloadLen() int {
	if f.Data == nil {
		return 0
	}
	return len(*f.Data)
}

func timestamp() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}
