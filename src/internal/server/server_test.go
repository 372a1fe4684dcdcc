package server

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"testing"
	"time"
)

func startTestServer(t *testing.T) string {
	t.Helper()

	h := newTestHandler(t)
	srv := NewServer(h)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = srv.Serve(ctx, ln)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("server did not stop after cancel")
		}
	})

	return ln.Addr().String()
}

func roundTrip(t *testing.T, addr string, payload []byte) map[string]any {
	t.Helper()

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Write(payload); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	data, err := io.ReadAll(conn)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}

	var resp map[string]any
	if err := json.Unmarshal(data, &resp); err != nil {
		t.Fatalf("response %q is not valid JSON: %v", data, err)
	}
	return resp
}

func TestServer_OneRequestPerConnection(t *testing.T) {
	addr := startTestServer(t)

	resp := roundTrip(t, addr, []byte(`{"endpoint":"/add","params":{"id":"m1","content":"tcp round trip"}}`))
	if ok, _ := resp["success"].(bool); !ok {
		t.Fatalf("add over TCP failed: %+v", resp)
	}

	// Fresh connection sees the stored memory
	resp = roundTrip(t, addr, []byte(`{"endpoint":"/search","params":{"query":"tcp round trip","top_k":1}}`))
	if ok, _ := resp["success"].(bool); !ok {
		t.Fatalf("search over TCP failed: %+v", resp)
	}
	results, ok := resp["results"].([]any)
	if !ok || len(results) != 1 {
		t.Fatalf("unexpected results: %+v", resp)
	}
	hit := results[0].(map[string]any)
	if hit["id"] != "m1" {
		t.Errorf("result id = %v, want m1", hit["id"])
	}
}

func TestServer_MalformedPayload(t *testing.T) {
	addr := startTestServer(t)

	resp := roundTrip(t, addr, []byte("this is not json"))
	if ok, _ := resp["success"].(bool); ok {
		t.Fatalf("malformed payload should fail: %+v", resp)
	}
	if msg, _ := resp["error"].(string); msg == "" {
		t.Errorf("failure response missing error message: %+v", resp)
	}
}

func TestServer_ConcurrentConnections(t *testing.T) {
	addr := startTestServer(t)

	const n = 8
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func(i int) {
			conn, err := net.Dial("tcp", addr)
			if err != nil {
				errs <- err
				return
			}
			defer conn.Close()

			req := map[string]any{
				"endpoint": "/update_preference",
				"params":   map[string]any{"key": "k", "value": "v"},
			}
			payload, _ := json.Marshal(req)
			if _, err := conn.Write(payload); err != nil {
				errs <- err
				return
			}
			_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
			if _, err := io.ReadAll(conn); err != nil {
				errs <- err
				return
			}
			errs <- nil
		}(i)
	}
	for i := 0; i < n; i++ {
		if err := <-errs; err != nil {
			t.Errorf("connection %d failed: %v", i, err)
		}
	}
}

func TestServer_StopsOnCancel(t *testing.T) {
	h := newTestHandler(t)
	srv := NewServer(h)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve returned %v after cancel, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
