package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/resident-x/go-mediola/internal/config"
	"github.com/resident-x/go-mediola/internal/domain"
	"github.com/resident-x/go-mediola/internal/gateway"
	"github.com/resident-x/go-mediola/internal/poller"
	"github.com/resident-x/go-mediola/internal/protocol"
	"github.com/resident-x/go-mediola/internal/pubsub"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct{}

func (fakeSource) FetchStates(_ context.Context) ([]domain.RawState, error) {
	return nil, nil
}

type fakeSink struct {
	payloads []string
	err      error
}

func (f *fakeSink) SendCommand(_ context.Context, _, payload string) error {
	if f.err != nil {
		return f.err
	}
	f.payloads = append(f.payloads, payload)
	return nil
}

func newTestServer(t *testing.T, sink *fakeSink) (*Server, *domain.ShutterRegistry) {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Gateway.Host = "gateway.test"

	codec := protocol.NewCodec()
	registry := domain.NewShutterRegistry(codec, zerolog.Nop())
	registry.Discover([]domain.RawState{
		{Type: domain.DeviceTypeWIR, SID: "01", Address: "2E105601", State: "016400"},
		{Type: domain.DeviceTypeWIR, SID: "02", Address: "2E105602", State: "010000"},
	})

	coordinator := poller.NewCoordinator(cfg, fakeSource{}, sink, registry, codec, pubsub.NewNoopPublisher(), nil)
	return NewServer(cfg, registry, coordinator), registry
}

func doRequest(server *Server, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, http.NoBody)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	w := httptest.NewRecorder()
	server.router.ServeHTTP(w, req)
	return w
}

func TestNewServer(t *testing.T) {
	server, registry := newTestServer(t, &fakeSink{})

	assert.NotNil(t, server)
	assert.Equal(t, registry, server.registry)
	assert.NotNil(t, server.router)
	assert.NotZero(t, server.startTime)
}

func TestHandleStatus(t *testing.T) {
	server, _ := newTestServer(t, &fakeSink{})

	w := doRequest(server, "GET", "/api/v1/status", "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var response map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, "ok", response["status"])
	assert.NotEmpty(t, response["uptime"])
	assert.Equal(t, float64(2), response["deviceCount"]) // JSON unmarshals numbers as float64
	assert.NotNil(t, response["poller"])
}

func TestHandleListDevices(t *testing.T) {
	server, _ := newTestServer(t, &fakeSink{})

	w := doRequest(server, "GET", "/api/v1/devices", "")

	assert.Equal(t, http.StatusOK, w.Code)

	var response map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, float64(2), response["count"])

	devices := response["devices"].([]interface{})
	require.Len(t, devices, 2)

	first := devices[0].(map[string]interface{})
	assert.Equal(t, "01", first["id"])
	assert.Equal(t, "2E105601", first["address"])
	assert.Equal(t, "WIR", first["manufacturer"])
	assert.Equal(t, float64(0), first["position"])
}

func TestHandleGetDevice(t *testing.T) {
	server, _ := newTestServer(t, &fakeSink{})

	w := doRequest(server, "GET", "/api/v1/devices/02", "")
	assert.Equal(t, http.StatusOK, w.Code)

	var device map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &device))
	assert.Equal(t, "02", device["id"])
	assert.Equal(t, float64(100), device["position"])
}

func TestHandleGetDevice_NotFound(t *testing.T) {
	server, _ := newTestServer(t, &fakeSink{})

	w := doRequest(server, "GET", "/api/v1/devices/99", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleCommand_Open(t *testing.T) {
	sink := &fakeSink{}
	server, registry := newTestServer(t, sink)

	w := doRequest(server, "POST", "/api/v1/devices/01/command", `{"action":"open"}`)
	assert.Equal(t, http.StatusAccepted, w.Code)

	require.Len(t, sink.payloads, 1)
	assert.Equal(t, "012E105601010101", sink.payloads[0])

	device, _ := registry.Get("01")
	assert.Equal(t, domain.MovementOpening, device.Movement)
}

func TestHandleCommand_SetPosition(t *testing.T) {
	sink := &fakeSink{}
	server, registry := newTestServer(t, sink)

	w := doRequest(server, "POST", "/api/v1/devices/01/command", `{"action":"set_position","position":30}`)
	assert.Equal(t, http.StatusAccepted, w.Code)

	require.Len(t, sink.payloads, 1)
	assert.Equal(t, "012E105601010746", sink.payloads[0])

	device, _ := registry.Get("01")
	assert.Equal(t, 30, device.Position)
}

func TestHandleCommand_SetPositionWithoutPosition(t *testing.T) {
	server, _ := newTestServer(t, &fakeSink{})

	w := doRequest(server, "POST", "/api/v1/devices/01/command", `{"action":"set_position"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleCommand_UnknownAction(t *testing.T) {
	server, _ := newTestServer(t, &fakeSink{})

	w := doRequest(server, "POST", "/api/v1/devices/01/command", `{"action":"launch"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleCommand_UnknownDevice(t *testing.T) {
	server, _ := newTestServer(t, &fakeSink{})

	w := doRequest(server, "POST", "/api/v1/devices/99/command", `{"action":"open"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleCommand_GatewayFailureMapping(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{"timeout", gateway.ErrTimeout, http.StatusGatewayTimeout},
		{"unreachable", gateway.ErrUnreachable, http.StatusBadGateway},
		{"auth rejected", gateway.ErrAuthRejected, http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, registry := newTestServer(t, &fakeSink{err: tt.err})

			before, _ := registry.Get("01")
			w := doRequest(server, "POST", "/api/v1/devices/01/command", `{"action":"open"}`)
			assert.Equal(t, tt.expected, w.Code)

			// A failed command never mutates the cache.
			after, _ := registry.Get("01")
			assert.Equal(t, before, after)
		})
	}
}

func TestHandleGroupCommand(t *testing.T) {
	sink := &fakeSink{}
	server, _ := newTestServer(t, sink)

	w := doRequest(server, "POST", "/api/v1/devices/command", `{"action":"close"}`)
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Len(t, sink.payloads, 2)
}

func TestHandleRefresh(t *testing.T) {
	server, _ := newTestServer(t, &fakeSink{})

	w := doRequest(server, "POST", "/api/v1/refresh", "")
	assert.Equal(t, http.StatusAccepted, w.Code)
}

func TestHandleSetInterval(t *testing.T) {
	server, _ := newTestServer(t, &fakeSink{})

	w := doRequest(server, "PUT", "/api/v1/poll-interval", `{"seconds":60}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 60*time.Second, server.coordinator.Interval())

	w = doRequest(server, "PUT", "/api/v1/poll-interval", `{"seconds":2}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
