package networking

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeCommands(t *testing.T) {
	body := []byte(`[
		{"className":"TestLibrary","functionName":"resetTest","params":{"basePath":["/t1"],"testName":["event"]}},
		{"className":"AdjustV4","functionName":"start","params":{"appToken":["abc"]}},
		{"className":"TestLibrary","functionName":"endTestReadNext"}
	]`)
	cmds, err := DecodeCommands(body)
	require.NoError(t, err)
	require.Len(t, cmds, 3)

	assert.Equal(t, "resetTest", cmds[0].FunctionName)
	assert.Equal(t, "/t1", cmds[0].First("basePath"))
	assert.True(t, cmds[0].Has("testName"))
	assert.False(t, cmds[0].Has("sleep"))
	assert.JSONEq(t, `{"appToken":["abc"]}`, cmds[1].JSONParams())
	assert.Equal(t, "{}", cmds[2].JSONParams())
	assert.Equal(t, "", cmds[2].First("anything"))
}

func TestDecodeCommands_Empty(t *testing.T) {
	for _, in := range []string{"", "  \n", "null", "[]"} {
		cmds, err := DecodeCommands([]byte(in))
		require.NoError(t, err, "%q", in)
		assert.Empty(t, cmds, "%q", in)
	}
}

func TestDecodeCommands_Malformed(t *testing.T) {
	_, err := DecodeCommands([]byte(`{"className":"x"}`))
	require.Error(t, err)
}
