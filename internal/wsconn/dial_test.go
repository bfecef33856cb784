package wsconn

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
)

// echoServer echoes every text frame back with an "echo:" prefix.
func echoServer(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close(websocket.StatusNormalClosure, "")
		for {
			mt, data, err := c.Read(r.Context())
			if err != nil {
				return
			}
			if err := c.Write(r.Context(), mt, append([]byte("echo:"), data...)); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestDial_AllDriversRoundTrip(t *testing.T) {
	url := echoServer(t)

	for _, driver := range Drivers() {
		t.Run(driver, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			c, err := Dial(ctx, url, Options{Driver: driver})
			require.NoError(t, err)
			defer c.Close(StatusNormalClosure, "test")

			require.NoError(t, c.Write(ctx, MessageText, []byte(`{"type":"info"}`)))
			mt, data, err := c.Read(ctx)
			require.NoError(t, err)
			assert.Equal(t, MessageText, mt)
			assert.Equal(t, `echo:{"type":"info"}`, string(data))
		})
	}
}

func TestDial_PingWithActiveReader(t *testing.T) {
	url := echoServer(t)

	for _, driver := range Drivers() {
		t.Run(driver, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			c, err := Dial(ctx, url, Options{Driver: driver})
			require.NoError(t, err)
			defer c.Close(StatusNormalClosure, "test")

			readCtx, stopRead := context.WithCancel(ctx)
			defer stopRead()
			go func() {
				for {
					if _, _, err := c.Read(readCtx); err != nil {
						return
					}
				}
			}()

			require.NoError(t, c.Ping(ctx))
		})
	}
}

func TestDial_RejectsBadInput(t *testing.T) {
	ctx := context.Background()

	_, err := Dial(ctx, "http://example.com", Options{})
	require.Error(t, err)

	_, err = Dial(ctx, "ws://127.0.0.1:1", Options{Driver: "pocket"})
	require.ErrorIs(t, err, ErrUnknownDriver)
}

func TestOptions_WithDefaults(t *testing.T) {
	o := Options{}.withDefaults()
	assert.Equal(t, DriverNhooyr, o.Driver)
	assert.Equal(t, 10*time.Second, o.HandshakeTimeout)
	assert.Equal(t, int64(1<<20), o.ReadLimit)
}
