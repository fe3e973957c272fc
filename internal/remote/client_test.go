package remote

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	serrors "github.com/alexjbarnes/workspace-sync/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

// newTestClient creates a Client pointed at the given httptest server.
func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	c, err := NewClient(Options{
		BaseURL:    srv.URL,
		Token:      "tok",
		RateLimit:  1000,
		HTTPClient: srv.Client(),
	})
	require.NoError(t, err)
	c.retryDelay = time.Millisecond
	return c
}

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient(Options{})
	assert.Error(t, err)

	_, err = NewClient(Options{BaseURL: "not a url"})
	assert.Error(t, err)

	c, err := NewClient(Options{BaseURL: "https://api.example.com/"})
	require.NoError(t, err)
	assert.Equal(t, "https://api.example.com", c.baseURL)
}

// --- do() internals ---

func TestDo_SetsHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.do(context.Background(), http.MethodPost, "/x", map[string]string{"a": "b"})
	require.NoError(t, err)
}

func TestDo_NoContentTypeWithoutBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Content-Type"))
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.do(context.Background(), http.MethodGet, "/x", nil)
	require.NoError(t, err)
}

func TestDo_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.do(context.Background(), http.MethodDelete, "/x", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, serrors.ErrNotFound)
	assert.False(t, IsTransient(err))
}

func TestDo_ErrorMessageFromBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"type":"auth","message":"invalid token"}}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.do(context.Background(), http.MethodGet, "/x", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, serrors.ErrAPIRequest)
	assert.Contains(t, err.Error(), "invalid token")
	assert.Contains(t, err.Error(), "401")
	assert.False(t, IsTransient(err))
}

func TestDo_ServerErrorIsTransient(t *testing.T) {
	for _, code := range []int{429, 500, 502, 503, 504} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(code)
			w.Write([]byte("busy"))
		}))

		c := newTestClient(t, srv)
		_, err := c.do(context.Background(), http.MethodGet, "/x", nil)
		require.Error(t, err)
		assert.True(t, IsTransient(err), "status %d", code)
		assert.Contains(t, err.Error(), "busy")
		srv.Close()
	}
}

func TestDo_BadRequestNotTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"bad name"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.do(context.Background(), http.MethodGet, "/x", nil)
	require.Error(t, err)
	assert.False(t, IsTransient(err))
	assert.Contains(t, err.Error(), "bad name")
}

func TestDo_NetworkErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	c := newTestClient(t, srv)
	srv.Close()

	_, err := c.do(context.Background(), http.MethodGet, "/x", nil)
	require.Error(t, err)
	assert.True(t, IsTransient(err))
	assert.ErrorIs(t, err, serrors.ErrAPIRequest)
}

func TestDo_CancelledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.do(ctx, http.MethodGet, "/x", nil)
	require.Error(t, err)
}

func TestDo_RetriesTransientThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	body, err := c.do(context.Background(), http.MethodGet, "/x", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(body))
	assert.Equal(t, int32(3), calls.Load())
}

func TestDo_GivesUpAfterMaxAttempts(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.do(context.Background(), http.MethodDelete, "/x", nil)
	require.Error(t, err)
	assert.True(t, IsTransient(err))
	assert.Equal(t, int32(maxAttempts), calls.Load())
}

func TestDo_PostNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.do(context.Background(), http.MethodPost, "/x", map[string]string{"a": "b"})
	require.Error(t, err)
	assert.True(t, IsTransient(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestDo_PermanentErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.do(context.Background(), http.MethodGet, "/x", nil)
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestDo_BackoffStopsOnCancel(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	c.retryDelay = time.Hour

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := c.do(ctx, http.MethodGet, "/x", nil)
	require.Error(t, err)
	assert.True(t, IsTransient(err))
	assert.Equal(t, int32(1), calls.Load())
	assert.Less(t, time.Since(start), 10*time.Second)
}

// --- endpoints ---

func TestListProjects(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/organizations/org-1/projects", r.URL.Path)
		w.Write([]byte(`[
			{"uuid":"p1","name":"Alpha","created_at":"2024-01-02T03:04:05Z","updated_at":"2024-02-02T03:04:05.123Z"},
			{"uuid":"","name":"broken"},
			{"uuid":"p2","name":"Beta"}
		]`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	projects, err := c.ListProjects(context.Background(), "org-1")
	require.NoError(t, err)
	require.Len(t, projects, 2)
	assert.Equal(t, "p1", projects[0].ID)
	assert.Equal(t, "Alpha", projects[0].Name)
	assert.Equal(t, time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), projects[0].CreatedAt)
	assert.Equal(t, 123*time.Millisecond, time.Duration(projects[0].UpdatedAt.Nanosecond()))
	assert.True(t, projects[1].CreatedAt.IsZero())
}

func TestListProjects_NotAnArray(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"projects":[]}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.ListProjects(context.Background(), "org-1")
	assert.ErrorIs(t, err, serrors.ErrAPIResponse)
}

func TestListProjects_InvalidJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html>`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.ListProjects(context.Background(), "org-1")
	assert.ErrorIs(t, err, serrors.ErrAPIResponse)
}

func TestListFiles(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/organizations/o/projects/p/docs", r.URL.Path)
		w.Write([]byte(`[
			{"uuid":"f1","file_name":"notes.md","content":"hello","created_at":"2024-01-01T00:00:00Z"},
			{"uuid":"f2","file_name":"","content":"nameless"}
		]`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	files, err := c.ListFiles(context.Background(), "o", "p")
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "f1", files[0].ID)
	assert.Equal(t, "notes.md", files[0].Name)
	assert.Equal(t, "hello", files[0].Content)
	assert.Equal(t, files[0].CreatedAt, files[0].ModTime())
}

func TestGetInstructions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/organizations/o/projects/p", r.URL.Path)
		w.Write([]byte(`{"uuid":"p","prompt_template":"be brief"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	got, err := c.GetInstructions(context.Background(), "o", "p")
	require.NoError(t, err)
	assert.Equal(t, "be brief", got)
}

func TestGetInstructions_Absent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"uuid":"p","prompt_template":null}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	got, err := c.GetInstructions(context.Background(), "o", "p")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSetInstructions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		body, _ := io.ReadAll(r.Body)
		var req map[string]string
		require.NoError(t, json.Unmarshal(body, &req))
		assert.Equal(t, "new text", req["prompt_template"])
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	require.NoError(t, c.SetInstructions(context.Background(), "o", "p", "new text"))
}

func TestUploadFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/organizations/o/projects/p/docs", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		var req map[string]string
		require.NoError(t, json.Unmarshal(body, &req))
		assert.Equal(t, "a.md", req["file_name"])
		assert.Equal(t, "body", req["content"])
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"uuid":"new-id","file_name":"a.md","content":"body","created_at":"2024-05-05T00:00:00Z"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	f, err := c.UploadFile(context.Background(), "o", "p", "a.md", "body")
	require.NoError(t, err)
	assert.Equal(t, "new-id", f.ID)
	assert.Equal(t, "a.md", f.Name)
}

func TestUploadFile_EmptyResponseKeepsInput(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	f, err := c.UploadFile(context.Background(), "o", "p", "a.md", "body")
	require.NoError(t, err)
	assert.Equal(t, "a.md", f.Name)
	assert.Equal(t, "body", f.Content)
}

func TestDeleteFile(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	require.NoError(t, c.DeleteFile(context.Background(), "o", "p", "f1"))
	assert.Equal(t, "/api/organizations/o/projects/p/docs/f1", gotPath)
}

func TestDeleteFile_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	err := c.DeleteFile(context.Background(), "o", "p", "gone")
	assert.ErrorIs(t, err, serrors.ErrNotFound)
}

func TestListConversations(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/organizations/o/chat_conversations", r.URL.Path)
		w.Write([]byte(`[
			{"uuid":"c1","name":"Plan","project_uuid":"p1","updated_at":"2024-03-03T00:00:00Z"},
			{"uuid":"c2","name":"Loose"}
		]`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	convs, err := c.ListConversations(context.Background(), "o")
	require.NoError(t, err)
	require.Len(t, convs, 2)
	assert.Equal(t, "p1", convs[0].ProjectID)
	assert.Empty(t, convs[1].ProjectID)
}

func TestGetConversation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/organizations/o/chat_conversations/c1", r.URL.Path)
		assert.Equal(t, "True", r.URL.Query().Get("tree"))
		assert.Equal(t, "messages", r.URL.Query().Get("rendering_mode"))
		w.Write([]byte(`{
			"uuid":"c1","name":"Plan","project_uuid":"p1",
			"chat_messages":[
				{"uuid":"m1","sender":"human","text":"hi","created_at":"2024-03-03T00:00:00Z"},
				{"uuid":"m2","sender":"assistant","text":"","content":[
					{"type":"text","text":"first"},
					{"type":"tool_use","name":"x"},
					{"type":"text","text":"second"}
				]}
			]
		}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	conv, err := c.GetConversation(context.Background(), "o", "c1")
	require.NoError(t, err)
	assert.Equal(t, "Plan", conv.Name)
	require.Len(t, conv.Messages, 2)
	assert.Equal(t, "human", conv.Messages[0].Sender)
	assert.Equal(t, "hi", conv.Messages[0].Text)
	assert.Equal(t, "first\n\nsecond", conv.Messages[1].Text)
}

func TestGetConversation_IDFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"name":"x"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	conv, err := c.GetConversation(context.Background(), "o", "c9")
	require.NoError(t, err)
	assert.Equal(t, "c9", conv.ID)
	assert.Empty(t, conv.Messages)
}

// --- helpers ---

func TestSameHostRedirectPolicy(t *testing.T) {
	orig, _ := http.NewRequest(http.MethodGet, "https://a.example.com/x", nil)
	same, _ := http.NewRequest(http.MethodGet, "https://a.example.com/y", nil)
	other, _ := http.NewRequest(http.MethodGet, "https://evil.example.com/y", nil)

	assert.NoError(t, sameHostRedirectPolicy(same, []*http.Request{orig}))
	assert.Error(t, sameHostRedirectPolicy(other, []*http.Request{orig}))

	via := make([]*http.Request, maxRedirects)
	for i := range via {
		via[i] = orig
	}
	assert.Error(t, sameHostRedirectPolicy(same, via))
}

func TestSanitizeResponseBody(t *testing.T) {
	assert.Equal(t, "ok\n", sanitizeResponseBody([]byte("ok\n")))
	assert.Equal(t, "a?b", sanitizeResponseBody([]byte("a\x1bb")))
	assert.Equal(t, "a?", sanitizeResponseBody([]byte{'a', 0xff}))
	assert.Len(t, sanitizeResponseBody([]byte(strings.Repeat("x", 1000))), 256)
}

func TestParseTime(t *testing.T) {
	doc := gjson.Parse(`{"t":"2024-06-01T10:00:00+02:00","bad":"yesterday","empty":""}`)

	assert.Equal(t, time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC), parseTime(doc.Get("t")))
	assert.True(t, parseTime(doc.Get("bad")).IsZero())
	assert.True(t, parseTime(doc.Get("empty")).IsZero())
	assert.True(t, parseTime(doc.Get("missing")).IsZero())
}
