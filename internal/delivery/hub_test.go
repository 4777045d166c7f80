package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"sleepd/internal/auth"
	logx "sleepd/pkg/logx"
)

// staticAuth admits the user named by the "user" query parameter.
type staticAuth struct{}

func (staticAuth) Authenticate(r *http.Request) (string, error) {
	u := r.URL.Query().Get("user")
	if u == "" {
		return "", auth.ErrUnauthorized
	}
	return u, nil
}

func startHub(t *testing.T, opts Options) (*Hub, *httptest.Server) {
	t.Helper()
	h := NewHub(staticAuth{}, opts, logx.Nop(), nil)
	srv := httptest.NewServer(h)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		h.Close(ctx)
		srv.Close()
	})
	return h, srv
}

func dial(t *testing.T, srv *httptest.Server, user string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?user=" + user
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func waitConns(t *testing.T, h *Hub, user string, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.Connections(user) != n {
		if time.Now().After(deadline) {
			t.Fatalf("connections for %s = %d, want %d", user, h.Connections(user), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestDeliverWithoutConnections(t *testing.T) {
	t.Parallel()
	h := NewHub(staticAuth{}, Options{}, logx.Nop(), nil)
	if n := h.Deliver("nobody", Payload{Kind: "text", Message: "hi"}, ""); n != 0 {
		t.Fatalf("Deliver = %d, want 0", n)
	}
	if n := h.Broadcast(Payload{Message: "hi"}, EventText); n != 0 {
		t.Fatalf("Broadcast = %d, want 0", n)
	}
}

func TestDeliverReachesOnlyTargetUser(t *testing.T) {
	t.Parallel()
	h, srv := startHub(t, Options{})
	a1 := dial(t, srv, "alice")
	a2 := dial(t, srv, "alice")
	b := dial(t, srv, "bob")
	waitConns(t, h, "alice", 2)
	waitConns(t, h, "bob", 1)

	n := h.Deliver("alice", Payload{Kind: "system", Title: "Missing Log", Message: "log it", MessageID: "m1"}, EventSchedule)
	if n != 2 {
		t.Fatalf("Deliver = %d, want 2", n)
	}
	for _, ws := range []*websocket.Conn{a1, a2} {
		_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, raw, err := ws.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		var f Frame
		if err := json.Unmarshal(raw, &f); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if f.Event != EventSchedule || f.Data.MessageID != "m1" || f.Data.Title != "Missing Log" || f.Data.Timestamp.IsZero() {
			t.Fatalf("frame = %+v", f)
		}
	}

	_ = b.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	if _, _, err := b.ReadMessage(); err == nil {
		t.Fatal("bob received alice's frame")
	}
}

func TestDefaultEventIsText(t *testing.T) {
	t.Parallel()
	h, srv := startHub(t, Options{})
	ws := dial(t, srv, "carol")
	waitConns(t, h, "carol", 1)

	h.Broadcast(Payload{Kind: "text", Message: "hello"}, "")
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var f Frame
	_ = json.Unmarshal(raw, &f)
	if f.Event != EventText || f.Data.Message != "hello" {
		t.Fatalf("frame = %+v", f)
	}
}

func TestHandshakeRejected(t *testing.T) {
	t.Parallel()
	h, srv := startHub(t, Options{})
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if !errors.Is(err, websocket.ErrBadHandshake) {
		t.Fatalf("err = %v, want ErrBadHandshake", err)
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("resp = %v", resp)
	}
	if h.Len() != 0 {
		t.Fatalf("Len = %d", h.Len())
	}
}

type brokenUsers struct{}

func (brokenUsers) EnsureUser(context.Context, string) error { return errors.New("db locked") }

func TestHandshakeRejectedWhenUserUnresolved(t *testing.T) {
	t.Parallel()
	h := NewHub(auth.WithUserSync(staticAuth{}, brokenUsers{}), Options{}, logx.Nop(), nil)
	srv := httptest.NewServer(h)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		h.Close(ctx)
		srv.Close()
	})
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?user=erin"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if !errors.Is(err, websocket.ErrBadHandshake) {
		t.Fatalf("err = %v, want ErrBadHandshake", err)
	}
	if resp == nil || resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("resp = %v", resp)
	}
	if h.Len() != 0 || h.Connections("erin") != 0 {
		t.Fatalf("unresolved user admitted: Len = %d", h.Len())
	}
}

func TestDisconnectUnregisters(t *testing.T) {
	t.Parallel()
	h, srv := startHub(t, Options{})
	ws := dial(t, srv, "dave")
	waitConns(t, h, "dave", 1)
	_ = ws.Close()
	waitConns(t, h, "dave", 0)
	if n := h.Deliver("dave", Payload{Message: "x"}, ""); n != 0 {
		t.Fatalf("Deliver after close = %d", n)
	}
}

func TestFullBufferDrops(t *testing.T) {
	t.Parallel()
	c := &conn{send: make(chan []byte, 1), done: make(chan struct{})}
	if !c.enqueue([]byte("a")) {
		t.Fatal("first enqueue failed")
	}
	if c.enqueue([]byte("b")) {
		t.Fatal("second enqueue should drop")
	}
	c.signal()
	<-c.send
	if c.enqueue([]byte("c")) {
		t.Fatal("enqueue after signal should fail")
	}
}
