package testlibws

import (
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"testlib-ws/internal/config"
)

func TestNewFromConfig_RunsScriptedSession(t *testing.T) {
	dir := t.TempDir()
	scriptPath := filepath.Join(dir, "script.yaml")
	require.NoError(t, os.WriteFile(scriptPath, []byte(`
tests:
  - name: event/Test_Event
    base_path: /event
    commands:
      - {class: AdjustV4, function: start}
  - name: other/Test_Skipped
    commands:
      - {class: AdjustV4, function: never}
`), 0o644))

	script, err := LoadScript(scriptPath)
	require.NoError(t, err)
	hs := httptest.NewServer(NewMockServer(script, nil).Handler())
	defer hs.Close()

	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`
base_url: `+hs.URL+`
control_url: ws`+strings.TrimPrefix(hs.URL, "http")+`/control
test_directories: [event]
control:
  driver: coder
`), 0o644))
	cfg, err := LoadConfig(cfgPath)
	require.NoError(t, err)

	var got []string
	lib := NewFromConfig(cfg, ExecutorFunc(func(className, methodName string, _ map[string][]string) {
		got = append(got, className+"."+methodName)
	}), nil)
	defer lib.Close()
	assert.Equal(t, "event/;", lib.TestNames())

	require.NoError(t, lib.StartTestSession(cfg.ClientSDK))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, lib.Wait(ctx))
	assert.Equal(t, []string{"AdjustV4.start"}, got)
}

func TestControlOptionsFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Control.Driver = "gorilla"
	cfg.Control.KeepaliveInterval = 15 * time.Second

	opts := ControlOptionsFromConfig(cfg.Control)
	assert.Equal(t, "gorilla", opts.WS.Driver)
	assert.Equal(t, cfg.Control.HandshakeTimeout, opts.WS.HandshakeTimeout)
	assert.Equal(t, 15*time.Second, opts.KeepaliveInterval)
	assert.Equal(t, 64, opts.QueueSize)
	assert.Equal(t, cfg.Control.Reconnect, opts.Reconnect)
}
