package http

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/facebookgo/clock"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/councild/internal/archive"
	"github.com/fyrsmithlabs/councild/internal/ceremony"
	"github.com/fyrsmithlabs/councild/internal/council"
	"github.com/fyrsmithlabs/councild/internal/eventbus"
	"github.com/fyrsmithlabs/councild/internal/field"
	"github.com/fyrsmithlabs/councild/internal/scheduler"
	"github.com/fyrsmithlabs/councild/internal/services"
	"github.com/fyrsmithlabs/councild/internal/transport"
)

// Cron schedules resolve in the clock's location and the mock starts in
// time.Local, so pin it for deterministic ceremony times.
func TestMain(m *testing.M) {
	time.Local = time.UTC
	os.Exit(m.Run())
}

// mockAt returns a mock clock reading at. The mock only moves forward from
// the Unix epoch.
func mockAt(at time.Time) *clock.Mock {
	mock := clock.NewMock()
	mock.Add(at.Sub(mock.Now()))
	return mock
}

type recordingInbox struct {
	mu  sync.Mutex
	got []transport.Inbound
}

func (r *recordingInbox) HandleMessage(_ context.Context, in transport.Inbound) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, in)
}

func (r *recordingInbox) messages() []transport.Inbound {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]transport.Inbound(nil), r.got...)
}

type testEnv struct {
	server  *Server
	bus     *eventbus.Bus
	venue   *transport.Memory
	archive *archive.Archive
	inbox   *recordingInbox
}

func newTestEnv(t *testing.T, withArchive bool) *testEnv {
	t.Helper()
	logger := zap.NewNop()
	mock := mockAt(time.Date(2026, 3, 2, 5, 30, 0, 0, time.UTC))

	bus, err := eventbus.New(logger)
	require.NoError(t, err)

	venue := transport.NewMemory(transport.WithChannels("ceremony-dawn", "ceremony-open"))

	agents := council.DefaultAgents()
	for i := range agents {
		name := agents[i].Name
		agents[i].Provider = council.ProviderFunc(func(context.Context, string, string) (string, error) {
			return name + " speaks of stillness", nil
		})
	}
	coord, err := council.New(agents, bus, logger, council.WithClock(mock), council.WithPacing(0))
	require.NoError(t, err)

	orch, err := ceremony.New(bus, venue, logger, ceremony.WithClock(mock))
	require.NoError(t, err)
	require.NoError(t, orch.Register(
		ceremony.Definition{ID: "dawn", Name: "Dawn Circle", Schedule: "0 6 * * *",
			Phases: []ceremony.Phase{{Name: "Arrival", Duration: 10 * time.Minute}}},
		ceremony.Definition{ID: "open", Name: "Open Circle",
			Phases: []ceremony.Phase{{Name: "Only", Duration: time.Hour}}},
		ceremony.Definition{ID: "lost", Name: "Lost Circle",
			Phases: []ceremony.Phase{{Name: "Only", Duration: time.Hour}}},
	))
	t.Cleanup(func() { _ = orch.Shutdown(context.Background()) })

	tracker, err := field.New(bus, logger, field.WithClock(mock))
	require.NoError(t, err)

	sched, err := scheduler.New(mock, logger)
	require.NoError(t, err)
	require.NoError(t, sched.Schedule("dawn", "0 6 * * *", func(context.Context, string) {}))
	t.Cleanup(sched.StopAll)

	var arch *archive.Archive
	if withArchive {
		arch, err = archive.New(archive.Config{}, logger)
		require.NoError(t, err)
		_, err = arch.Attach(bus)
		require.NoError(t, err)
	}

	inbox := &recordingInbox{}
	reg := services.NewRegistry(services.Options{
		Bus:        bus,
		Ceremonies: orch,
		Council:    coord,
		Field:      tracker,
		Scheduler:  sched,
		Archive:    arch,
		Inbox:      inbox,
	})

	srv, err := NewServer(reg, logger, &Config{Host: "localhost", Port: 0, Version: "test"})
	require.NoError(t, err)

	return &testEnv{server: srv, bus: bus, venue: venue, archive: arch, inbox: inbox}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.server.echo.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestNewServer(t *testing.T) {
	t.Run("returns error when registry is nil", func(t *testing.T) {
		_, err := NewServer(nil, zap.NewNop(), nil)
		assert.ErrorContains(t, err, "registry cannot be nil")
	})

	t.Run("returns error when logger is nil", func(t *testing.T) {
		_, err := NewServer(services.NewRegistry(services.Options{}), nil, nil)
		assert.ErrorContains(t, err, "logger is required")
	})

	t.Run("uses defaults when config is nil", func(t *testing.T) {
		srv, err := NewServer(services.NewRegistry(services.Options{}), zap.NewNop(), nil)
		require.NoError(t, err)
		assert.Equal(t, "localhost", srv.config.Host)
		assert.Equal(t, 9191, srv.config.Port)
		assert.Equal(t, 10*time.Second, srv.config.ShutdownTimeout)
	})
}

func TestHandleHealth(t *testing.T) {
	env := newTestEnv(t, true)
	rec := env.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode[HealthResponse](t, rec).Status)
}

func TestHandleMetrics(t *testing.T) {
	env := newTestEnv(t, true)
	rec := env.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestHandleStatus(t *testing.T) {
	t.Run("counts components", func(t *testing.T) {
		env := newTestEnv(t, true)
		resp := decode[StatusResponse](t, env.do(t, http.MethodGet, "/api/v1/status", nil))

		assert.Equal(t, "ok", resp.Status)
		assert.Equal(t, "test", resp.Version)
		assert.Equal(t, StatusCounts{Agents: 7, Definitions: 3, ActiveCeremonies: 0, ArchiveEntries: 0}, resp.Counts)
		assert.Equal(t, "ok", resp.Services["archive"])
		assert.Equal(t, 75.0, resp.Field.Coherence)
	})

	t.Run("reports disabled archive", func(t *testing.T) {
		env := newTestEnv(t, false)
		resp := decode[StatusResponse](t, env.do(t, http.MethodGet, "/api/v1/status", nil))
		assert.Equal(t, -1, resp.Counts.ArchiveEntries)
		assert.Equal(t, "disabled", resp.Services["archive"])
	})
}

func TestHandleField(t *testing.T) {
	env := newTestEnv(t, true)
	rec := env.do(t, http.MethodGet, "/api/v1/field", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[FieldResponse](t, rec)
	assert.Equal(t, 75.0, resp.Coherence)
	assert.Equal(t, field.TrendStable, resp.Trend)
	assert.Equal(t, "Field Coherence: 75.00%", resp.Presence)
	assert.True(t, resp.Online)
}

func TestHandleCeremonies(t *testing.T) {
	env := newTestEnv(t, true)
	resp := decode[CeremoniesResponse](t, env.do(t, http.MethodGet, "/api/v1/ceremonies", nil))

	require.Len(t, resp.Definitions, 3)
	dawn := resp.Definitions[0]
	assert.Equal(t, "dawn", dawn.ID)
	require.NotNil(t, dawn.Next)
	assert.True(t, dawn.Next.Equal(time.Date(2026, 3, 2, 6, 0, 0, 0, time.UTC)))
	assert.Nil(t, resp.Definitions[1].Next, "manual ceremonies have no next time")
	assert.Empty(t, resp.Active)
}

func TestHandleStartCeremony(t *testing.T) {
	env := newTestEnv(t, true)

	rec := env.do(t, http.MethodPost, "/api/v1/ceremonies/open/start", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	resp := decode[StartResponse](t, rec)
	assert.True(t, strings.HasPrefix(resp.InstanceID, "open-"))
	assert.Equal(t, "ceremony-open", resp.Channel)

	assert.Equal(t, http.StatusConflict, env.do(t, http.MethodPost, "/api/v1/ceremonies/open/start", nil).Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodPost, "/api/v1/ceremonies/nope/start", nil).Code)
	assert.Equal(t, http.StatusServiceUnavailable, env.do(t, http.MethodPost, "/api/v1/ceremonies/lost/start", nil).Code)

	ceremonies := decode[CeremoniesResponse](t, env.do(t, http.MethodGet, "/api/v1/ceremonies", nil))
	require.Len(t, ceremonies.Active, 1)
	assert.Equal(t, resp.InstanceID, ceremonies.Active[0].ID)
}

func TestHandleMessage(t *testing.T) {
	env := newTestEnv(t, true)

	rec := env.do(t, http.MethodPost, "/api/v1/messages", transport.Inbound{
		AuthorID:    "ana",
		ChannelName: "general",
		Text:        "!field",
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	got := env.inbox.messages()
	require.Len(t, got, 1)
	assert.Equal(t, "general", got[0].ChannelID, "channel id defaults to the name")
	assert.Equal(t, "!field", got[0].Text)
	assert.NotEmpty(t, got[0].ID)

	assert.Equal(t, http.StatusBadRequest,
		env.do(t, http.MethodPost, "/api/v1/messages", transport.Inbound{ChannelName: "general", Text: "hi"}).Code)
	assert.Equal(t, http.StatusBadRequest,
		env.do(t, http.MethodPost, "/api/v1/messages", transport.Inbound{AuthorID: "ana", Text: "hi"}).Code)
	assert.Len(t, env.inbox.messages(), 1)
}

func TestHandleOracle(t *testing.T) {
	env := newTestEnv(t, true)

	rec := env.do(t, http.MethodPost, "/api/v1/oracle", OracleRequest{Question: "what now?"})
	require.Equal(t, http.StatusOK, rec.Code)
	res := decode[council.QuickResult](t, rec)
	assert.Equal(t, res.AgentName+" speaks of stillness", res.Text)
	assert.False(t, res.Fallback)

	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPost, "/api/v1/oracle", OracleRequest{Question: "  "}).Code)
}

func TestHandleCouncil(t *testing.T) {
	env := newTestEnv(t, true)

	rec := env.do(t, http.MethodPost, "/api/v1/council", CouncilRequest{Topic: "rest"})
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[CouncilResponse](t, rec)
	require.NotNil(t, resp.Session)
	assert.Equal(t, "rest", resp.Session.Topic)
	assert.Len(t, resp.Session.Perspectives, 7)
	assert.Len(t, resp.Synthesis.AgentIDs, 7)
	assert.Equal(t, 1, env.archive.Len(), "the synthesis is archived")

	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPost, "/api/v1/council", CouncilRequest{}).Code)
}

func TestHandleWisdom(t *testing.T) {
	t.Run("recent and search", func(t *testing.T) {
		env := newTestEnv(t, true)
		ctx := context.Background()
		base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
		for i, text := range []string{"rivers carry rain to the sea", "the forest breathes slowly", "stars guide the night walkers"} {
			_, err := env.archive.Add(ctx, archive.Entry{Kind: archive.KindDeliberation, Title: "t", Text: text, At: base.Add(time.Duration(i) * time.Hour)})
			require.NoError(t, err)
		}

		resp := decode[WisdomResponse](t, env.do(t, http.MethodGet, "/api/v1/wisdom?limit=2", nil))
		require.Len(t, resp.Entries, 2)
		assert.Equal(t, "stars guide the night walkers", resp.Entries[0].Text)

		resp = decode[WisdomResponse](t, env.do(t, http.MethodGet, "/api/v1/wisdom?q=forest+breathes", nil))
		require.NotEmpty(t, resp.Results)
		assert.Equal(t, "the forest breathes slowly", resp.Results[0].Entry.Text)

		assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/api/v1/wisdom?limit=zero", nil).Code)
	})

	t.Run("disabled archive", func(t *testing.T) {
		env := newTestEnv(t, false)
		assert.Equal(t, http.StatusServiceUnavailable, env.do(t, http.MethodGet, "/api/v1/wisdom", nil).Code)
	})
}

func TestHandleEvents(t *testing.T) {
	env := newTestEnv(t, true)
	ts := httptest.NewServer(env.server.echo)
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/v1/events?topic=field:updated", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get(echo.HeaderContentType))

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, ": connected\n", line)
	_, _ = reader.ReadString('\n')

	env.bus.Publish(context.Background(), eventbus.ActivityRecorded{Source: "ignored"})
	env.bus.Publish(context.Background(), eventbus.FieldUpdated{Coherence: 80, Trend: "rising"})

	line, err = reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "event: field:updated\n", line)

	line, err = reader.ReadString('\n')
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(line, "data: "))

	var env2 eventbus.Envelope
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(strings.TrimSpace(line), "data: ")), &env2))
	assert.Equal(t, eventbus.TopicFieldUpdated, env2.Topic)
	assert.Contains(t, string(env2.Payload), `"coherence":80`)

	t.Run("rejects unknown topics", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/api/v1/events?topic=nope", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestParseTopics(t *testing.T) {
	all, err := parseTopics("")
	require.NoError(t, err)
	assert.Equal(t, eventbus.Topics(), all)

	some, err := parseTopics(" field:updated, field:updated ,ceremony:completed")
	require.NoError(t, err)
	assert.Equal(t, []eventbus.Topic{eventbus.TopicFieldUpdated, eventbus.TopicCeremonyCompleted}, some)

	_, err = parseTopics("field:exploded")
	assert.Error(t, err)
}

func TestServerLifecycle(t *testing.T) {
	env := newTestEnv(t, true)

	ctx, cancel := context.WithCancel(context.Background())
	errChan := make(chan error, 1)
	go func() {
		errChan <- env.server.Start(ctx)
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-errChan:
		assert.ErrorIs(t, err, http.ErrServerClosed)
	case <-time.After(6 * time.Second):
		t.Fatal("server did not shut down in time")
	}
}

func TestMiddleware(t *testing.T) {
	t.Run("adds request ID to response", func(t *testing.T) {
		env := newTestEnv(t, true)
		rec := env.do(t, http.MethodGet, "/health", nil)
		assert.NotEmpty(t, rec.Header().Get(echo.HeaderXRequestID))
	})

	t.Run("recovers from panic", func(t *testing.T) {
		env := newTestEnv(t, true)
		env.server.echo.GET("/panic", func(c echo.Context) error {
			panic("test panic")
		})

		var rec *httptest.ResponseRecorder
		assert.NotPanics(t, func() {
			rec = env.do(t, http.MethodGet, "/panic", nil)
		})
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}
