package mcp

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewServer(t *testing.T) {
	t.Run("nil keeper returns error", func(t *testing.T) {
		server, err := NewServer(&Ports{})
		assert.ErrorIs(t, err, ErrMissingKeeper)
		assert.Nil(t, server)
	})

	t.Run("valid ports creates server", func(t *testing.T) {
		server, err := NewServer(&Ports{Keeper: &mockKeeper{}})
		require.NoError(t, err)
		assert.NotNil(t, server)
	})
}

func TestPorts_Validate(t *testing.T) {
	var nilPorts *Ports
	assert.ErrorIs(t, nilPorts.Validate(), ErrMissingKeeper)
	assert.ErrorIs(t, (&Ports{}).Validate(), ErrMissingKeeper)
	assert.NoError(t, (&Ports{Keeper: &mockKeeper{}}).Validate())
}

func TestServer_HandlerRejectsInvalidRequest(t *testing.T) {
	server, err := NewServer(&Ports{Keeper: &mockKeeper{}})
	require.NoError(t, err)

	ts := httptest.NewServer(server.Handler())
	defer ts.Close()

	resp, err := http.Post(ts.URL, "application/json", strings.NewReader("{}"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.GreaterOrEqual(t, resp.StatusCode, 400)
}

func TestServer_ServeStopsOnCancel(t *testing.T) {
	server, err := NewServer(&Ports{Keeper: &mockKeeper{}})
	require.NoError(t, err)

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Serve(ctx, l) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
