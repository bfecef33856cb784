package control

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeSignal(t *testing.T) {
	b, err := EncodeSignal(Signal{Type: SignalInitTestSession, Value: "sess-42"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"init-test-session","value":"sess-42"}`, string(b))

	b, err = EncodeSignal(Signal{Type: SignalInfo})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"info"}`, string(b))
}

func TestDecodeSignal(t *testing.T) {
	cases := []struct {
		in   string
		want Signal
	}{
		{`{"type":"end-wait","value":"sdk_click"}`, Signal{Type: SignalEndWait, Value: "sdk_click"}},
		{`{"type":"CANCEL-CURRENT-TEST","value":"timeout"}`, Signal{Type: SignalCancelCurrentTest, Value: "timeout"}},
		{`{"type":" info ","value":"hello"}`, Signal{Type: SignalInfo, Value: "hello"}},
		{`{"type":"reboot"}`, Signal{Type: SignalUnknown}},
		{`{}`, Signal{Type: SignalUnknown}},
	}
	for _, tc := range cases {
		got, err := DecodeSignal([]byte(tc.in))
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}

	_, err := DecodeSignal([]byte("not json"))
	require.Error(t, err)
}

func TestSignalType_Known(t *testing.T) {
	assert.True(t, SignalEndWait.Known())
	assert.False(t, SignalUnknown.Known())
	assert.Equal(t, SignalUnknown, SignalType("x").Normalize())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "connected", StateConnected.String())
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "invalid", State(99).String())
}
