package chatsync

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

// ============================================================================
// Test Helpers
// ============================================================================

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL+"/", WithToken("tok-123"), WithRateLimit(0, 0))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// ============================================================================
// Tests
// ============================================================================

func TestClientFetchConversations(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/api/chat/conversations" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok-123" {
			t.Errorf("Authorization = %q", got)
		}
		writeJSON(w, 200, map[string]any{
			"success": true,
			"data":    []any{convRecord("p1", "Ann", 1, "hi")},
		})
	})

	recs, err := c.FetchConversations(context.Background())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	convs, _ := NormalizeConversations(recs)
	if len(convs) != 1 || convs[0].Peer.Name != "Ann" || convs[0].UnreadCount != 1 {
		t.Fatalf("convs = %+v", convs)
	}
}

func TestClientFetchMessagesShapes(t *testing.T) {
	bodies := map[string]any{
		"bare":    []any{msgRecord("m1", "p1", "u1", 1, "a")},
		"keyed":   map[string]any{"messages": []any{msgRecord("m1", "p1", "u1", 1, "a")}},
		"wrapped": map[string]any{"success": true, "data": map[string]any{"messages": []any{msgRecord("m1", "p1", "u1", 1, "a")}}},
	}
	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/api/chat/messages/p 1" {
					t.Errorf("path = %q", r.URL.Path)
				}
				writeJSON(w, 200, body)
			})
			recs, err := c.FetchMessages(context.Background(), "p 1")
			if err != nil {
				t.Fatalf("fetch: %v", err)
			}
			if len(recs) != 1 || recs[0]["id"] != "m1" {
				t.Fatalf("records = %v", recs)
			}
		})
	}
}

func TestClientErrors(t *testing.T) {
	t.Run("server error carries message", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, 404, map[string]any{"success": false, "message": "user not found"})
		})
		_, err := c.FetchMessages(context.Background(), "ghost")
		if !errors.Is(err, ErrServer) || !IsNotFound(err) {
			t.Fatalf("err = %v", err)
		}
		var ce *ChatError
		if !errors.As(err, &ce) || ce.Message != "user not found" {
			t.Fatalf("message = %v", err)
		}
	})

	t.Run("success false in 200", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, 200, map[string]any{"success": false, "message": "blocked"})
		})
		if err := c.MarkRead(context.Background(), "p1"); !errors.Is(err, ErrServer) {
			t.Fatalf("MarkRead err = %v, want server error", err)
		}
		if _, err := c.FetchConversations(context.Background()); !errors.Is(err, ErrServer) {
			t.Fatalf("err = %v, want server error", err)
		}
	})

	t.Run("transport failure is network", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()
		c := NewClient(url, WithRateLimit(0, 0))
		if _, err := c.FetchAdmins(context.Background()); !errors.Is(err, ErrNetwork) {
			t.Fatalf("err = %v, want network error", err)
		}
	})

	t.Run("timeout is network", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
		})
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		if _, err := c.FetchConversations(ctx); !errors.Is(err, ErrNetwork) {
			t.Fatalf("err = %v, want network error", err)
		}
	})
}

func TestClientSetTokenWhileRequesting(t *testing.T) {
	var mu sync.Mutex
	seen := map[string]bool{}
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen[r.Header.Get("Authorization")] = true
		mu.Unlock()
		writeJSON(w, 200, []any{})
	})

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				_, _ = c.FetchConversations(context.Background())
			}
		}()
	}
	c.SetToken("tok-456")
	wg.Wait()

	if _, err := c.FetchConversations(context.Background()); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if !seen["Bearer tok-456"] {
		t.Fatalf("new token never sent: %v", seen)
	}
	for h := range seen {
		if h != "Bearer tok-123" && h != "Bearer tok-456" {
			t.Fatalf("unexpected Authorization %q", h)
		}
	}
}

func TestClientSendMessage(t *testing.T) {
	var got map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/chat/messages" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		writeJSON(w, 201, map[string]any{"success": true, "data": map[string]any{"message": msgRecord("m9", "u1", "p1", 9, "hi")}})
	})

	rec, err := c.SendMessage(context.Background(), "p1", "hi", "https://cdn/x.png")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if rec["id"] != "m9" {
		t.Fatalf("record = %v", rec)
	}
	if got["receiverId"] != "p1" || got["message"] != "hi" || got["imageUrl"] != "https://cdn/x.png" {
		t.Fatalf("payload = %v", got)
	}
}

func TestClientMutations(t *testing.T) {
	var calls []string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, r.Method+" "+r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	})
	ctx := context.Background()
	if err := c.MarkRead(ctx, "p1"); err != nil {
		t.Fatal(err)
	}
	if err := c.DeleteMessage(ctx, "m1"); err != nil {
		t.Fatal(err)
	}
	if err := c.BlockUser(ctx, "p1"); err != nil {
		t.Fatal(err)
	}
	want := []string{
		"PUT /api/chat/messages/p1/read",
		"DELETE /api/chat/messages/m1",
		"POST /api/chat/users/p1/block",
	}
	for i := range want {
		if i >= len(calls) || calls[i] != want[i] {
			t.Fatalf("calls = %v, want %v", calls, want)
		}
	}
}

func TestClientUploadFile(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/upload" {
			t.Errorf("path = %s", r.URL.Path)
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Errorf("form file: %v", err)
			w.WriteHeader(400)
			return
		}
		defer file.Close()
		data, _ := io.ReadAll(file)
		if string(data) != "jpeg-bytes" || header.Filename != "photo.jpg" {
			t.Errorf("got %q as %q", data, header.Filename)
		}
		if ct := header.Header.Get("Content-Type"); ct != "image/jpeg" {
			t.Errorf("part content type = %q", ct)
		}
		writeJSON(w, 200, map[string]any{"success": true, "data": map[string]any{"url": "https://cdn/photo.jpg"}})
	})

	url, err := c.UploadFile(context.Background(), []byte("jpeg-bytes"), "photo.jpg")
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if url != "https://cdn/photo.jpg" {
		t.Fatalf("url = %q", url)
	}

	if _, err := c.UploadFile(context.Background(), nil, "x.jpg"); !errors.Is(err, ErrValidation) {
		t.Fatalf("empty upload err = %v", err)
	}
}

func TestClientUploadFromURL(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if r.URL.Path != "/api/upload/url" || body["url"] != "https://elsewhere/x.png" {
			t.Errorf("unexpected request %s %v", r.URL.Path, body)
		}
		writeJSON(w, 200, map[string]any{"imageUrl": "https://cdn/x.png"})
	})

	url, err := c.UploadFromURL(context.Background(), "https://elsewhere/x.png")
	if err != nil || url != "https://cdn/x.png" {
		t.Fatalf("url = %q, err = %v", url, err)
	}
	if _, err := c.UploadFromURL(context.Background(), "not a url"); !errors.Is(err, ErrValidation) {
		t.Fatalf("err = %v, want validation error", err)
	}
}

func TestGuessMimeType(t *testing.T) {
	cases := map[string]string{
		"a.JPG":   "image/jpeg",
		"a.png":   "image/png",
		"a.webp":  "image/webp",
		"a.heic":  "image/heic",
		"noext":   "application/octet-stream",
		"a.zzzzz": "application/octet-stream",
	}
	for name, want := range cases {
		if got := guessMimeType(name); got != want {
			t.Errorf("guessMimeType(%q) = %q, want %q", name, got, want)
		}
	}
}
