package ingest

import (
	"bufio"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestAdminTailStreamsBroadcastLines(t *testing.T) {
	tap := NewTap()
	mux := http.NewServeMux()
	AttachAdminRoutes(mux, tap)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/debug/ingest-tail", nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", ct)
	}

	reader := bufio.NewReader(resp.Body)

	// First line is the keep-alive ping.
	line, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("read ping: %v", err)
	}
	if !strings.Contains(line, "ping") {
		t.Errorf("first line = %q, want a ping comment", line)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		time.Sleep(20 * time.Millisecond)
		tap.Broadcast(`{"type":"angle","ts":1.0,"roll":1,"pitch":2,"yaw":3}`)
	}()

	var dataLine string
	for i := 0; i < 5; i++ {
		l, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if strings.HasPrefix(l, "data: ") {
			dataLine = l
			break
		}
	}
	<-done

	if !strings.Contains(dataLine, `"type":"angle"`) {
		t.Errorf("dataLine = %q, want the broadcast angle line", dataLine)
	}
}

func TestAdminTailRejectsNonGet(t *testing.T) {
	tap := NewTap()
	mux := http.NewServeMux()
	AttachAdminRoutes(mux, tap)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/debug/ingest-tail", "text/plain", nil)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", resp.StatusCode)
	}
}
