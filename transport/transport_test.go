package transport_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/driftlabs/pylon/transport"
	"github.com/driftlabs/pylon/wire"
	"github.com/fortytw2/leaktest"
	"github.com/google/go-cmp/cmp"
	"github.com/gorilla/websocket"
)

func TestPipeRoundTrip(t *testing.T) {
	defer leaktest.Check(t)()
	a, b := transport.Pipe()

	done := make(chan struct{})
	go func() {
		defer close(done)
		f, err := b.Recv()
		if err != nil {
			t.Errorf("Recv: %v", err)
			return
		}
		if f.Op != wire.OpHeartbeat || f.S != 7 {
			t.Errorf("Recv: got op=%v s=%d, want heartbeat s=7", f.Op, f.S)
		}
		if err := b.Send(&wire.Frame{Op: wire.OpHeartbeatACK}); err != nil {
			t.Errorf("Send reply: %v", err)
		}
	}()

	if err := a.Send(&wire.Frame{Op: wire.OpHeartbeat, S: 7}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	reply, err := a.Recv()
	if err != nil {
		t.Fatalf("Recv reply: %v", err)
	}
	if reply.Op != wire.OpHeartbeatACK {
		t.Errorf("reply op: got %v, want %v", reply.Op, wire.OpHeartbeatACK)
	}
	<-done

	// After close, both ends report errors.
	if err := a.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	if _, err := b.Recv(); err == nil {
		t.Error("Recv after peer close: got nil error")
	}
	if err := a.Send(&wire.Frame{Op: wire.OpHeartbeat}); err == nil {
		t.Error("Send after close: got nil error")
	}
}

func TestPipeCloseIsIdempotent(t *testing.T) {
	a, _ := transport.Pipe()
	if err := a.Close(); err != nil {
		t.Errorf("first Close: %v", err)
	}
	if err := a.Close(); err == nil {
		t.Error("second Close: got nil error")
	}
}

func TestKillFallsBackToClose(t *testing.T) {
	a, b := transport.Pipe()
	if err := transport.Kill(a); err != nil {
		t.Errorf("Kill: %v", err)
	}
	if _, err := b.Recv(); err == nil {
		t.Error("Recv after Kill: got nil error")
	}
}

// echoServer upgrades and echoes every data message verbatim, preserving the
// message type.
func echoServer(t *testing.T) *httptest.Server {
	t.Helper()
	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(mt, data); err != nil {
				return
			}
		}
	}))
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestWebsocketRoundTrip(t *testing.T) {
	defer leaktest.CheckTimeout(t, 5*time.Second)()
	srv := echoServer(t)
	defer srv.Close()

	ch, err := transport.Dial(context.Background(), wsURL(srv))
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer ch.Close()

	want := &wire.Frame{Op: wire.OpDispatch, S: 12, T: "MESSAGE_CREATE",
		D: []byte(`{"content":"hi"}`)}
	if err := ch.Send(want); err != nil {
		t.Fatalf("Send: %v", err)
	}
	got, err := ch.Recv()
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("echoed frame (-want, +got):\n%s", diff)
	}
}

func TestWebsocketInflatesBinary(t *testing.T) {
	defer leaktest.CheckTimeout(t, 5*time.Second)()

	// The server answers any message with one deflated binary frame.
	up := websocket.Upgrader{}
	payload := wire.DeflateFrame(wire.EncodeFrame(wire.OpHello,
		wire.Hello{HeartbeatInterval: 45000}))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		conn.WriteMessage(websocket.BinaryMessage, payload)
		conn.ReadMessage() // hold until the client disconnects
	}))
	defer srv.Close()

	ch, err := transport.Dial(context.Background(), wsURL(srv))
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer ch.Close()

	if err := ch.Send(&wire.Frame{Op: wire.OpHeartbeat}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	f, err := ch.Recv()
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if f.Op != wire.OpHello {
		t.Errorf("op: got %v, want %v", f.Op, wire.OpHello)
	}
	var hello wire.Hello
	if err := json.Unmarshal(f.D, &hello); err != nil {
		t.Fatalf("decode hello: %v", err)
	}
	if hello.HeartbeatInterval != 45000 {
		t.Errorf("heartbeat_interval: got %d, want 45000", hello.HeartbeatInterval)
	}
}

func TestDialFailure(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if _, err := transport.Dial(ctx, "ws://127.0.0.1:1/nope"); err == nil {
		t.Error("Dial to closed port: got nil error")
	}
}
