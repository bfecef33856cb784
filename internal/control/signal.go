package control

import (
	"encoding/json"
	"fmt"
	"strings"
)

type SignalType string

const (
	SignalInfo              SignalType = "info"
	SignalInitTestSession   SignalType = "init-test-session"
	SignalEndWait           SignalType = "end-wait"
	SignalCancelCurrentTest SignalType = "cancel-current-test"
	SignalUnknown           SignalType = "unknown"
)

// Signal is one control frame. It travels as a JSON text message.
type Signal struct {
	Type  SignalType `json:"type"`
	Value string     `json:"value,omitempty"`
}

func (t SignalType) Known() bool {
	switch t {
	case SignalInfo, SignalInitTestSession, SignalEndWait, SignalCancelCurrentTest:
		return true
	}
	return false
}

// Normalize maps unrecognised types to SignalUnknown.
func (t SignalType) Normalize() SignalType {
	if t.Known() {
		return t
	}
	return SignalUnknown
}

func EncodeSignal(s Signal) ([]byte, error) {
	return json.Marshal(s)
}

// DecodeSignal parses a control frame. The type is matched case-insensitively
// and unrecognised types come back as SignalUnknown.
func DecodeSignal(b []byte) (Signal, error) {
	var s Signal
	if err := json.Unmarshal(b, &s); err != nil {
		return Signal{}, fmt.Errorf("decode control signal: %w", err)
	}
	s.Type = SignalType(strings.ToLower(strings.TrimSpace(string(s.Type)))).Normalize()
	return s, nil
}
