package admin

import (
	"bytes"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/wsframe/internal/endpoint"
	"github.com/danmuck/wsframe/internal/endpoint/endpointtest"
	"github.com/danmuck/wsframe/internal/protocol/frame"
	"github.com/danmuck/wsframe/internal/registry"
	"github.com/danmuck/wsframe/internal/testutil/testlog"
	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func do(t *testing.T, a *Admin, method, path string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, path, bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rr := httptest.NewRecorder()
	a.Router().ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), out); err != nil {
		t.Fatalf("decode body %q: %v", rr.Body.String(), err)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	testlog.Start(t)
	a := New("admin-a", ":0", registry.New(registry.Config{}), nil)

	rr := do(t, a, http.MethodGet, "/health", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var body map[string]any
	decode(t, rr, &body)
	if body["status"] != "ok" || body["service"] != "admin-a" {
		t.Fatalf("unexpected health body: %#v", body)
	}

	rr = do(t, a, http.MethodGet, "/metrics", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected metrics 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "wsframe_") {
		t.Fatalf("metrics output missing wsframe series")
	}
}

func TestReadyFollowsRegistryListener(t *testing.T) {
	testlog.Start(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	reg := registry.New(registry.Config{Listener: ln})
	defer reg.Close()
	a := New("admin-a", ":0", reg, nil)

	if rr := do(t, a, http.MethodGet, "/ready", nil); rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 before listen, got %d", rr.Code)
	}
	if _, err := reg.Listen(); err != nil {
		t.Fatalf("registry listen: %v", err)
	}
	if rr := do(t, a, http.MethodGet, "/ready", nil); rr.Code != http.StatusOK {
		t.Fatalf("expected 200 after listen, got %d", rr.Code)
	}
}

func TestConnectionsListSendAndClose(t *testing.T) {
	testlog.Start(t)
	reg := registry.New(registry.Config{})
	first := endpointtest.New()
	second := endpointtest.New()
	reg.Accept(first)
	reg.Accept(second)
	a := New("admin-a", ":0", reg, nil)

	rr := do(t, a, http.MethodGet, "/connections", nil)
	var list struct {
		Connections []ConnectionInfo `json:"connections"`
	}
	decode(t, rr, &list)
	if len(list.Connections) != 2 || list.Connections[0].ID != 0 || list.Connections[1].ID != 1 {
		t.Fatalf("unexpected connections: %#v", list.Connections)
	}
	if list.Connections[0].State != "open" {
		t.Fatalf("expected open state, got %q", list.Connections[0].State)
	}

	payload, _ := json.Marshal(sendRequest{Title: "notice", Payload: []byte("hi")})
	rr = do(t, a, http.MethodPost, "/connections/1/messages", payload)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d body=%s", rr.Code, rr.Body.String())
	}
	w := second.NextWrite(t, time.Second)
	msg, err := frame.Decode(w.Data)
	if err != nil || msg.Title != "notice" || string(msg.Payload) != "hi" {
		t.Fatalf("unexpected frame %#v err=%v", msg, err)
	}

	var info ConnectionInfo
	decode(t, do(t, a, http.MethodGet, "/connections/1", nil), &info)
	if info.QueueLen != 1 || info.QueuedBytes != uint64(len(w.Data)) {
		t.Fatalf("expected in-flight message to count, got %#v", info)
	}
	w.Complete(nil)

	rr = do(t, a, http.MethodDelete, "/connections/0?reason=bye", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if reg.Len() != 1 {
		t.Fatalf("expected one remaining connection, got %d", reg.Len())
	}
	if rr := do(t, a, http.MethodGet, "/connections/0", nil); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for closed connection, got %d", rr.Code)
	}
}

func TestSendErrorsMapToStatus(t *testing.T) {
	testlog.Start(t)
	reg := registry.New(registry.Config{})
	reg.Accept(endpointtest.New())
	a := New("admin-a", ":0", reg, nil)

	if rr := do(t, a, http.MethodPost, "/connections/9/messages", []byte(`{}`)); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown id, got %d", rr.Code)
	}
	if rr := do(t, a, http.MethodPost, "/connections/x/messages", []byte(`{}`)); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for bad id, got %d", rr.Code)
	}
	if rr := do(t, a, http.MethodPost, "/connections/0/messages", []byte(`{`)); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad json, got %d", rr.Code)
	}
}

func TestSendOverLimitIs413(t *testing.T) {
	testlog.Start(t)
	reg := registry.New(registry.Config{Endpoint: endpoint.Config{MaxPayloadBytes: 16}})
	reg.Accept(endpointtest.New())
	a := New("admin-a", ":0", reg, nil)

	body, _ := json.Marshal(sendRequest{Title: "big", Payload: make([]byte, 64)})
	if rr := do(t, a, http.MethodPost, "/connections/0/messages", body); rr.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d body=%s", rr.Code, rr.Body.String())
	}
}
