package httpapi

import (
	"bufio"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/memoryd/internal/config"
	"github.com/fyrsmithlabs/memoryd/internal/session"
	"github.com/fyrsmithlabs/memoryd/internal/store"
)

func newTestSidecar(t *testing.T) (*Server, *session.Hub, *store.Store) {
	t.Helper()
	durable, err := store.OpenSQLite(filepath.Join(t.TempDir(), "test.db"), 100)
	require.NoError(t, err)
	contexts := store.New(durable, config.CacheConfig{
		TTL:         config.Duration(time.Hour),
		MaxEntries:  64,
		MaxMessages: 100,
	}, zap.NewNop())
	t.Cleanup(func() { contexts.Close() })

	hub := session.NewHub()
	srv, err := NewServer(contexts, hub, zap.NewNop(), nil)
	require.NoError(t, err)
	return srv, hub, contexts
}

func TestHealth(t *testing.T) {
	srv, _, contexts := newTestSidecar(t)

	_, err := contexts.AppendMessage(t.Context(), "sess-1", store.RoleUser, "hello", nil)
	require.NoError(t, err)
	contexts.Flush()

	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `"status":"ok"`)
	assert.Contains(t, body, `"messages":1`)
}

func TestMetricsExposed(t *testing.T) {
	srv, _, _ := newTestSidecar(t)

	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestEventsStreamDeliversClearNotices(t *testing.T) {
	srv, hub, _ := newTestSidecar(t)

	ts := httptest.NewServer(srv.echo)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	// Give the handler a moment to subscribe before publishing.
	time.Sleep(50 * time.Millisecond)
	hub.Publish(session.ClearNotice{ProjectID: "abc123", AIName: "gemini", ClearedBy: "user"})

	reader := bufio.NewReader(resp.Body)
	deadline := time.After(2 * time.Second)
	lines := make(chan string, 4)
	go func() {
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				return
			}
			lines <- strings.TrimSpace(line)
		}
	}()

	var event, data string
	for event == "" || data == "" {
		select {
		case line := <-lines:
			if strings.HasPrefix(line, "event:") {
				event = line
			}
			if strings.HasPrefix(line, "data:") {
				data = line
			}
		case <-deadline:
			t.Fatal("no SSE event received")
		}
	}
	assert.Equal(t, "event: context_cleared", event)
	assert.Contains(t, data, `"project_id":"abc123"`)
	assert.Contains(t, data, `"ai_name":"gemini"`)
}
