package signalr_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

const testToken = "tok-1"

// testHub is a minimal in-process hub speaking the JSON protocol.
type testHub struct {
	server         *httptest.Server
	handshakeReply string
	received       chan map[string]any

	mu      sync.Mutex
	ws      *websocket.Conn
	writeMu sync.Mutex
	ready   chan struct{}
}

func newTestHub(t *testing.T) *testHub {
	t.Helper()
	hub := &testHub{
		handshakeReply: "{}\x1e",
		received:       make(chan map[string]any, 32),
		ready:          make(chan struct{}),
	}
	upgrader := websocket.Upgrader{}
	mux := http.NewServeMux()
	mux.HandleFunc("/hub/negotiate", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Query().Get("negotiateVersion") != "1" {
			http.Error(w, "bad negotiate", http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"connectionId":     "conn-1",
			"connectionToken":  testToken,
			"negotiateVersion": 1,
		})
	})
	mux.HandleFunc("/hub", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("id") != testToken {
			http.Error(w, "unknown connection", http.StatusNotFound)
			return
		}
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		if _, _, err := ws.ReadMessage(); err != nil {
			return
		}
		hub.writeMu.Lock()
		err = ws.WriteMessage(websocket.TextMessage, []byte(hub.handshakeReply))
		hub.writeMu.Unlock()
		if err != nil {
			return
		}
		hub.mu.Lock()
		hub.ws = ws
		hub.mu.Unlock()
		close(hub.ready)

		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			for _, record := range bytes.Split(data, []byte{0x1e}) {
				if len(bytes.TrimSpace(record)) == 0 {
					continue
				}
				var msg map[string]any
				if err := json.Unmarshal(record, &msg); err != nil {
					continue
				}
				if msg["type"] == float64(6) {
					continue
				}
				hub.received <- msg
			}
		}
	})
	hub.server = httptest.NewServer(mux)
	t.Cleanup(hub.server.Close)
	return hub
}

func (h *testHub) url() string {
	return h.server.URL + "/hub"
}

func (h *testHub) send(t *testing.T, v any) {
	t.Helper()
	select {
	case <-h.ready:
	case <-time.After(2 * time.Second):
		t.Fatal("hub connection not established")
	}
	payload, err := json.Marshal(v)
	require.NoError(t, err)
	h.mu.Lock()
	ws := h.ws
	h.mu.Unlock()
	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, append(payload, 0x1e)))
}

// reply answers the next client message from a helper goroutine. It must not
// call t.Fatal, so failures surface as a timeout in the test goroutine.
func (h *testHub) reply(build func(msg map[string]any) map[string]any) {
	go func() {
		select {
		case msg := <-h.received:
			<-h.ready
			payload, err := json.Marshal(build(msg))
			if err != nil {
				return
			}
			h.mu.Lock()
			ws := h.ws
			h.mu.Unlock()
			h.writeMu.Lock()
			defer h.writeMu.Unlock()
			_ = ws.WriteMessage(websocket.TextMessage, append(payload, 0x1e))
		case <-time.After(2 * time.Second):
		}
	}()
}

func (h *testHub) next(t *testing.T) map[string]any {
	t.Helper()
	select {
	case msg := <-h.received:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for client message")
		return nil
	}
}
