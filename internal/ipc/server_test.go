package ipc

import (
	"bufio"
	"encoding/json"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tuxx/wayvid/internal/control"
	"github.com/tuxx/wayvid/internal/types"
)

// fakeSink answers structured requests like the engine thread would and
// records everything else.
type fakeSink struct {
	mu       sync.Mutex
	commands []control.Command
	sendErr  error
	status   types.Status
	outputs  []types.OutputInfo
}

func (f *fakeSink) Send(cmd control.Command) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.commands = append(f.commands, cmd)
	switch c := cmd.(type) {
	case control.GetStatus:
		c.Reply <- f.status
	case control.GetOutputs:
		c.Reply <- f.outputs
	}
	return nil
}

func (f *fakeSink) recorded() []control.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]control.Command(nil), f.commands...)
}

func startServer(t *testing.T, sink Sink) (*Server, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "wayvid.sock")
	server, err := Listen(path, sink, "1.2.3")
	require.NoError(t, err)
	t.Cleanup(server.Close)
	return server, path
}

// rawRequest writes one line and returns the single response line.
func rawRequest(t *testing.T, path, line string) string {
	t.Helper()
	conn, err := net.DialTimeout("unix", path, time.Second)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(2 * time.Second))

	_, err = conn.Write([]byte(line))
	require.NoError(t, err)

	resp, err := bufio.NewReader(conn).ReadString('\n')
	require.NoError(t, err)
	return resp
}

func TestPingRoundTrip(t *testing.T) {
	_, path := startServer(t, &fakeSink{})
	resp := rawRequest(t, path, "{\"type\":\"ping\"}\n")

	var decoded Response
	require.NoError(t, json.Unmarshal([]byte(resp), &decoded))
	assert.Equal(t, "pong", decoded.Type)
}

func TestEveryResponseIsOneValidJSONLine(t *testing.T) {
	sink := &fakeSink{
		status: types.Status{Running: true, Outputs: []types.OutputStatus{
			{Name: "DP-1", Wallpaper: "/videos/a.mp4", Volume: 1.0, Layout: "fill"},
		}},
		outputs: []types.OutputInfo{{Name: "DP-1", Width: 2560, Height: 1440, Scale: 1, Configured: true}},
	}
	_, path := startServer(t, sink)

	lines := []string{
		"{\"type\":\"ping\"}\n",
		"{\"type\":\"status\"}\n",
		"{\"type\":\"outputs\"}\n",
		"{\"type\":\"pause\"}\n",
		"{\"type\":\"resume\"}\n",
		"{\"type\":\"stop\",\"output\":\"DP-1\"}\n",
	}
	for _, line := range lines {
		resp := rawRequest(t, path, line)
		require.Equal(t, byte('\n'), resp[len(resp)-1], "response not newline-terminated")
		var decoded map[string]any
		require.NoError(t, json.Unmarshal([]byte(resp), &decoded), "invalid JSON for %q", line)
		assert.NotEqual(t, "error", decoded["type"], "unexpected error for %q", line)
	}
}

func TestStatusCarriesVersionAndOutputs(t *testing.T) {
	sink := &fakeSink{status: types.Status{Running: true, Outputs: []types.OutputStatus{
		{Name: "DP-1", Wallpaper: "/videos/a.mp4", Paused: false, Volume: 1.0, Layout: "fill"},
	}}}
	_, path := startServer(t, sink)

	resp := rawRequest(t, path, "{\"type\":\"status\"}\n")
	var decoded StatusResponse
	require.NoError(t, json.Unmarshal([]byte(resp), &decoded))
	assert.Equal(t, "status", decoded.Type)
	assert.True(t, decoded.Running)
	assert.Equal(t, "1.2.3", decoded.Version)
	require.Len(t, decoded.Outputs, 1)
	assert.Equal(t, "DP-1", decoded.Outputs[0].Name)
	assert.Equal(t, "/videos/a.mp4", decoded.Outputs[0].Wallpaper)
}

func TestBadRequestOnInvalidJSON(t *testing.T) {
	sink := &fakeSink{}
	_, path := startServer(t, sink)

	resp := rawRequest(t, path, "not json\n")
	var decoded Response
	require.NoError(t, json.Unmarshal([]byte(resp), &decoded))
	assert.Equal(t, "error", decoded.Type)
	assert.Equal(t, ErrBadRequest, decoded.Error)
	assert.Empty(t, sink.recorded(), "engine state must be untouched")
}

func TestBadRequestOnUnknownType(t *testing.T) {
	_, path := startServer(t, &fakeSink{})
	resp := rawRequest(t, path, "{\"type\":\"frobnicate\"}\n")
	var decoded Response
	require.NoError(t, json.Unmarshal([]byte(resp), &decoded))
	assert.Equal(t, ErrBadRequest, decoded.Error)
}

func TestApplyValidation(t *testing.T) {
	sink := &fakeSink{}
	_, path := startServer(t, sink)

	// Missing path is a client error.
	resp := rawRequest(t, path, "{\"type\":\"apply\"}\n")
	var decoded Response
	require.NoError(t, json.Unmarshal([]byte(resp), &decoded))
	assert.Equal(t, ErrBadRequest, decoded.Error)

	// Bad mode is a client error.
	resp = rawRequest(t, path, "{\"type\":\"apply\",\"path\":\"/v/a.mp4\",\"mode\":\"diagonal\"}\n")
	require.NoError(t, json.Unmarshal([]byte(resp), &decoded))
	assert.Equal(t, ErrBadRequest, decoded.Error)

	// A good apply reaches the engine with parsed fields.
	resp = rawRequest(t, path,
		"{\"type\":\"apply\",\"path\":\"/v/a.mp4\",\"output\":\"DP-1\",\"mode\":\"contain\"}\n")
	require.NoError(t, json.Unmarshal([]byte(resp), &decoded))
	assert.Equal(t, "ok", decoded.Type)

	require.Len(t, sink.recorded(), 1)
	apply, ok := sink.recorded()[0].(control.ApplyWallpaper)
	require.True(t, ok)
	assert.Equal(t, "DP-1", apply.Output)
	assert.Equal(t, "/v/a.mp4", apply.Source.Display())
	require.NotNil(t, apply.Layout)
	assert.Equal(t, types.LayoutContain, *apply.Layout)
}

func TestSetVolumeValidation(t *testing.T) {
	sink := &fakeSink{}
	_, path := startServer(t, sink)

	resp := rawRequest(t, path, "{\"type\":\"set_volume\",\"output\":\"DP-1\",\"volume\":1.5}\n")
	var decoded Response
	require.NoError(t, json.Unmarshal([]byte(resp), &decoded))
	assert.Equal(t, ErrBadRequest, decoded.Error)

	resp = rawRequest(t, path, "{\"type\":\"set_volume\",\"output\":\"DP-1\",\"volume\":0.5}\n")
	require.NoError(t, json.Unmarshal([]byte(resp), &decoded))
	assert.Equal(t, "ok", decoded.Type)
	require.Len(t, sink.recorded(), 1)
	assert.Equal(t, control.SetVolume{Output: "DP-1", Volume: 0.5}, sink.recorded()[0])
}

func TestBusyChannelSurfacesAsBusy(t *testing.T) {
	sink := &fakeSink{sendErr: control.ErrBusy}
	_, path := startServer(t, sink)

	resp := rawRequest(t, path, "{\"type\":\"pause\"}\n")
	var decoded Response
	require.NoError(t, json.Unmarshal([]byte(resp), &decoded))
	assert.Equal(t, "error", decoded.Type)
	assert.Equal(t, ErrBusy, decoded.Error)
}

func TestClientAgainstServer(t *testing.T) {
	sink := &fakeSink{status: types.Status{Running: true}}
	_, path := startServer(t, sink)

	client := NewClient(path)
	require.NoError(t, client.Ping())

	status, raw, err := client.Status()
	require.NoError(t, err)
	assert.True(t, status.Running)
	assert.NotEmpty(t, raw)

	require.NoError(t, client.Pause("DP-1"))
	require.NoError(t, client.Quit())
	assert.Contains(t, sink.recorded(), control.Pause{Output: "DP-1"})
	assert.Contains(t, sink.recorded(), control.Quit{})
}

func TestClientUnreachable(t *testing.T) {
	client := NewClient(filepath.Join(t.TempDir(), "absent.sock"))
	err := client.Ping()
	var unreachable ErrUnreachable
	assert.ErrorAs(t, err, &unreachable)
}
