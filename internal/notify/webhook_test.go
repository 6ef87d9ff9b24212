package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestWebhookPostsRunPayload(t *testing.T) {
	var got runPayload
	var contentType atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		contentType.Store(r.Header.Get("Content-Type"))
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("read body: %v", err)
		}
		if err := json.Unmarshal(body, &got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	sink, err := NewWebhook(server.URL, time.Second)
	if err != nil {
		t.Fatalf("NewWebhook() err=%v", err)
	}
	if err := sink.Notify(context.Background(), sampleResult()); err != nil {
		t.Fatalf("Notify() err=%v", err)
	}
	if got.Pipeline != "orders" || got.RunID != "run-1" {
		t.Fatalf("payload=%+v", got)
	}
	if got.Status != "partial_failure" {
		t.Fatalf("Status=%q, want partial_failure", got.Status)
	}
	if ct := contentType.Load(); ct != "application/json" {
		t.Fatalf("Content-Type=%v, want application/json", ct)
	}
}

func TestWebhookRejectsNon2xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer server.Close()

	sink, err := NewWebhook(server.URL, time.Second)
	if err != nil {
		t.Fatalf("NewWebhook() err=%v", err)
	}
	if err := sink.Notify(context.Background(), sampleResult()); err == nil {
		t.Fatal("Notify() err=nil, want status error")
	}
}

func TestNewWebhookValidatesURL(t *testing.T) {
	tests := []struct {
		name    string
		rawURL  string
		wantErr bool
	}{
		{name: "https", rawURL: "https://hooks.example.com/etl", wantErr: false},
		{name: "http", rawURL: "http://127.0.0.1:9000/hook", wantErr: false},
		{name: "empty", rawURL: "", wantErr: true},
		{name: "no scheme", rawURL: "hooks.example.com/etl", wantErr: true},
		{name: "ftp scheme", rawURL: "ftp://hooks.example.com", wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewWebhook(tc.rawURL, 0)
			if gotErr := err != nil; gotErr != tc.wantErr {
				t.Fatalf("NewWebhook(%q) err=%v, wantErr=%v", tc.rawURL, err, tc.wantErr)
			}
		})
	}
}

func TestWebhookHonorsContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Drain the body so the server can observe the client abort;
		// with unread body bytes net/http never cancels r.Context(),
		// and Close() would wait on this handler forever.
		_, _ = io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	}))
	defer server.Close()

	sink, err := NewWebhook(server.URL, time.Minute)
	if err != nil {
		t.Fatalf("NewWebhook() err=%v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := sink.Notify(ctx, sampleResult()); err == nil {
		t.Fatal("Notify() err=nil, want context deadline")
	}
}
