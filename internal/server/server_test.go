package server_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/raphaelgruber/maigret-api/internal/catalog"
	"github.com/raphaelgruber/maigret-api/internal/metrics"
	"github.com/raphaelgruber/maigret-api/internal/models"
	"github.com/raphaelgruber/maigret-api/internal/notifier"
	"github.com/raphaelgruber/maigret-api/internal/server"
	"github.com/raphaelgruber/maigret-api/internal/service"
	"github.com/raphaelgruber/maigret-api/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stepLauncher moves a session to running, then waits for a signal per
// session before completing it. Every change is published.
type stepLauncher struct {
	st  *store.Store
	pub *notifier.Notifier

	mu      sync.Mutex
	release map[string]chan struct{}
	fail    bool
}

func (l *stepLauncher) gate(id string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.release[id]
	if !ok {
		ch = make(chan struct{})
		l.release[id] = ch
	}
	return ch
}

func (l *stepLauncher) merge(ctx context.Context, id string, p models.Patch) {
	sess, err := l.st.Merge(ctx, id, p)
	if err == nil {
		l.pub.Publish(id, models.EventFor(sess))
	}
}

func (l *stepLauncher) Run(ctx context.Context, sess models.Session) {
	l.merge(ctx, sess.ID, models.Patch{Status: models.Ptr(models.StatusRunning), Progress: models.Ptr(1)})
	<-l.gate(sess.ID)
	l.merge(ctx, sess.ID, models.Patch{Progress: models.Ptr(50), CurrentSite: models.Ptr("GitHub")})
	if l.fail {
		l.merge(ctx, sess.ID, models.Patch{Status: models.Ptr(models.StatusFailed), Error: models.Ptr("search tool exited with code 2")})
		return
	}
	results := []models.SubjectResult{{
		Username: sess.Usernames[0],
		Sites:    []models.SiteResult{{SiteName: "GitHub", URL: "https://github.com/" + sess.Usernames[0], Status: "Claimed", Tags: []string{"coding"}, Metadata: map[string]any{}}},
	}}
	l.merge(ctx, sess.ID, models.Patch{Status: models.Ptr(models.StatusCompleted), Results: &results, ResultsFound: models.Ptr(1)})
}

type testEnv struct {
	srv      *httptest.Server
	api      *server.Server
	sup      *service.Supervisor
	launcher *stepLauncher
	notifier *notifier.Notifier
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st := store.New(nil, logger)
	n := notifier.New(0, logger)
	launcher := &stepLauncher{st: st, pub: n, release: make(map[string]chan struct{})}
	sup := service.NewSupervisor(st, launcher, logger)

	api := server.New(server.Config{
		CORSOrigins:  []string{"http://localhost:3000"},
		PingInterval: 50 * time.Millisecond,
	}, server.Deps{
		Supervisor: sup,
		Notifier:   n,
		Catalog:    catalog.Default(),
		Metrics:    metrics.NewCollector(),
	}, logger)

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(func() {
		api.Close()
		srv.Close()
		launcher.mu.Lock()
		for _, ch := range launcher.release {
			select {
			case <-ch:
			default:
				close(ch)
			}
		}
		launcher.mu.Unlock()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = sup.Wait(ctx)
	})
	return &testEnv{srv: srv, api: api, sup: sup, launcher: launcher, notifier: n}
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Message string          `json:"message"`
}

func (e *testEnv) do(t *testing.T, method, path, body string) (int, envelope) {
	t.Helper()
	req, err := http.NewRequest(method, e.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return resp.StatusCode, env
}

func (e *testEnv) submit(t *testing.T, usernames ...string) models.Session {
	t.Helper()
	body, err := json.Marshal(models.SearchRequest{Usernames: usernames})
	require.NoError(t, err)
	code, env := e.do(t, http.MethodPost, "/api/search", string(body))
	require.Equal(t, http.StatusOK, code, env.Error)
	require.True(t, env.Success)

	var sess models.Session
	require.NoError(t, json.Unmarshal(env.Data, &sess))
	return sess
}

func (e *testEnv) waitStatus(t *testing.T, id string, want models.Status) {
	t.Helper()
	require.Eventually(t, func() bool {
		sess, err := e.sup.Session(id)
		return err == nil && sess.Status == want
	}, 5*time.Second, 5*time.Millisecond)
}

func TestHealthAndCatalog(t *testing.T) {
	e := newTestEnv(t)

	code, env := e.do(t, http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"status":"healthy","maigret_available":false}`, string(env.Data))

	code, env = e.do(t, http.MethodGet, "/api/sites", "")
	require.Equal(t, http.StatusOK, code)
	var sites struct {
		Sites []catalog.Site `json:"sites"`
		Total int            `json:"total"`
		Tags  []string       `json:"tags"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &sites))
	assert.Equal(t, 10, sites.Total)
	assert.Len(t, sites.Sites, 10)
	assert.Contains(t, sites.Tags, "coding")

	code, env = e.do(t, http.MethodGet, "/api/tags", "")
	require.Equal(t, http.StatusOK, code)
	var tags []string
	require.NoError(t, json.Unmarshal(env.Data, &tags))
	assert.Equal(t, catalog.Default().Tags, tags)
}

func TestSubmitAndQuery(t *testing.T) {
	e := newTestEnv(t)

	sess := e.submit(t, "alice")
	assert.NotEmpty(t, sess.ID)
	assert.Equal(t, []string{"alice"}, sess.Usernames)
	assert.Equal(t, models.DefaultTopSites, sess.Options.TopSites)

	e.waitStatus(t, sess.ID, models.StatusRunning)

	code, env := e.do(t, http.MethodGet, "/api/search/"+sess.ID, "")
	require.Equal(t, http.StatusOK, code)
	var view models.StatusView
	require.NoError(t, json.Unmarshal(env.Data, &view))
	assert.Equal(t, sess.ID, view.SessionID)
	assert.Equal(t, models.StatusRunning, view.Status)
	assert.Nil(t, view.CurrentSite)

	code, env = e.do(t, http.MethodGet, "/api/results/"+sess.ID, "")
	assert.Equal(t, http.StatusBadRequest, code)
	assert.False(t, env.Success)
	assert.Equal(t, "Search not completed", env.Error)

	close(e.launcher.gate(sess.ID))
	e.waitStatus(t, sess.ID, models.StatusCompleted)

	code, env = e.do(t, http.MethodGet, "/api/results/"+sess.ID, "")
	require.Equal(t, http.StatusOK, code)
	var done models.Session
	require.NoError(t, json.Unmarshal(env.Data, &done))
	assert.Equal(t, 100, done.Progress)
	require.Len(t, done.Results, 1)
	assert.Equal(t, "GitHub", done.Results[0].Sites[0].SiteName)
}

func TestErrorMapping(t *testing.T) {
	e := newTestEnv(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		code   int
		errSub string
	}{
		{"unknown status", http.MethodGet, "/api/search/nope", "", http.StatusNotFound, "Search session not found"},
		{"unknown results", http.MethodGet, "/api/results/nope", "", http.StatusNotFound, "Search session not found"},
		{"empty usernames", http.MethodPost, "/api/search", `{"usernames":[]}`, http.StatusUnprocessableEntity, "usernames"},
		{"bad json", http.MethodPost, "/api/search", `{"usernames":`, http.StatusUnprocessableEntity, "decode body"},
		{"flag username", http.MethodPost, "/api/search", `{"usernames":["--help"]}`, http.StatusUnprocessableEntity, "startsnotwith"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, env := e.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.code, code)
			assert.False(t, env.Success)
			assert.Contains(t, env.Error, tt.errSub)
		})
	}
}

func TestSessionsAndStats(t *testing.T) {
	e := newTestEnv(t)

	first := e.submit(t, "alice")
	second := e.submit(t, "bob")
	close(e.launcher.gate(first.ID))
	e.waitStatus(t, first.ID, models.StatusCompleted)
	e.waitStatus(t, second.ID, models.StatusRunning)

	code, env := e.do(t, http.MethodGet, "/api/sessions", "")
	require.Equal(t, http.StatusOK, code)
	var list []server.SessionSummary
	require.NoError(t, json.Unmarshal(env.Data, &list))
	require.Len(t, list, 2)
	ids := []string{list[0].SessionID, list[1].SessionID}
	assert.ElementsMatch(t, []string{first.ID, second.ID}, ids)

	code, env = e.do(t, http.MethodGet, "/api/stats", "")
	require.Equal(t, http.StatusOK, code)
	var stats server.Stats
	require.NoError(t, json.Unmarshal(env.Data, &stats))
	assert.Equal(t, 1, stats.Sessions[models.StatusCompleted])
	assert.Equal(t, 1, stats.Sessions[models.StatusRunning])
	assert.Equal(t, 0, stats.Sessions[models.StatusFailed])
}

func TestCORS(t *testing.T) {
	e := newTestEnv(t)

	req, err := http.NewRequest(http.MethodOptions, e.srv.URL+"/api/search", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "http://localhost:3000", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", resp.Header.Get("Access-Control-Allow-Credentials"))
	assert.Contains(t, resp.Header.Get("Access-Control-Allow-Methods"), http.MethodPost)

	req, err = http.NewRequest(http.MethodGet, e.srv.URL+"/api/health", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://evil.example")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestWatchRejectsDisallowedOrigin(t *testing.T) {
	e := newTestEnv(t)
	sess := e.submit(t, "alice")
	url := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/ws/search/" + sess.ID

	header := http.Header{"Origin": []string{"http://evil.example"}}
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	if conn != nil {
		conn.Close()
	}
	require.Error(t, err)
	require.NotNil(t, resp)
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func dialWatch(t *testing.T, e *testEnv, id string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/ws/search/" + id
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) models.Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var ev models.Event
	require.NoError(t, conn.ReadJSON(&ev))
	return ev
}

func TestWatch_StreamsUntilTerminal(t *testing.T) {
	e := newTestEnv(t)
	sess := e.submit(t, "alice")
	e.waitStatus(t, sess.ID, models.StatusRunning)

	conn := dialWatch(t, e, sess.ID)

	first := readEvent(t, conn)
	assert.Equal(t, models.EventProgress, first.Type)
	assert.Equal(t, sess.ID, first.Data.SessionID)
	assert.Equal(t, models.StatusRunning, first.Data.Status)

	require.Eventually(t, func() bool { return e.notifier.Observers() == 1 }, time.Second, 5*time.Millisecond)
	// keep-alive text from the client is ignored
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("ping")))
	close(e.launcher.gate(sess.ID))

	var events []models.Event
	for {
		ev := readEvent(t, conn)
		events = append(events, ev)
		if ev.Terminal() {
			break
		}
	}
	last := events[len(events)-1]
	assert.Equal(t, models.EventCompleted, last.Type)
	assert.Equal(t, 100, last.Data.Progress)
	require.Len(t, last.Data.Results, 1)

	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}

func TestWatch_FailedEventCarriesError(t *testing.T) {
	e := newTestEnv(t)
	e.launcher.fail = true
	sess := e.submit(t, "alice")
	e.waitStatus(t, sess.ID, models.StatusRunning)

	conn := dialWatch(t, e, sess.ID)
	readEvent(t, conn)
	require.Eventually(t, func() bool { return e.notifier.Observers() == 1 }, time.Second, 5*time.Millisecond)
	close(e.launcher.gate(sess.ID))

	var last models.Event
	for !last.Terminal() {
		last = readEvent(t, conn)
	}
	assert.Equal(t, models.EventFailed, last.Type)
	assert.Equal(t, "search tool exited with code 2", last.Data.Error)
}

func TestWatch_AlreadyFinished(t *testing.T) {
	e := newTestEnv(t)
	sess := e.submit(t, "alice")
	close(e.launcher.gate(sess.ID))
	e.waitStatus(t, sess.ID, models.StatusCompleted)

	conn := dialWatch(t, e, sess.ID)
	ev := readEvent(t, conn)
	assert.Equal(t, models.EventCompleted, ev.Type)

	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}

func TestWatch_UnknownSession(t *testing.T) {
	e := newTestEnv(t)
	url := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/ws/search/nope"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestWatch_ServerPings(t *testing.T) {
	e := newTestEnv(t)
	sess := e.submit(t, "alice")
	e.waitStatus(t, sess.ID, models.StatusRunning)

	conn := dialWatch(t, e, sess.ID)
	pinged := make(chan struct{}, 1)
	conn.SetPingHandler(func(string) error {
		select {
		case pinged <- struct{}{}:
		default:
		}
		return nil
	})
	readEvent(t, conn)

	// ReadMessage drives control frame handlers.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	select {
	case <-pinged:
	case <-time.After(2 * time.Second):
		t.Fatal("no ping received")
	}
}
