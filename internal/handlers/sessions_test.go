package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwebster45206/boothill-gm/internal/services"
	"github.com/jwebster45206/boothill-gm/internal/services/events"
	"github.com/jwebster45206/boothill-gm/internal/services/queue"
	"github.com/jwebster45206/boothill-gm/internal/worker"
	"github.com/jwebster45206/boothill-gm/pkg/engine"
	"github.com/jwebster45206/boothill-gm/pkg/narrative"
	"github.com/jwebster45206/boothill-gm/pkg/session"
	"github.com/jwebster45206/boothill-gm/pkg/storage"
)

type testAPI struct {
	router chi.Router
	store  *storage.MockStorage
	queue  *queue.DecisionQueue
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestAPI(t *testing.T, withQueue bool) *testAPI {
	t.Helper()
	log := testLogger()
	store := storage.NewMockStorage()
	store.AddCharacter("doc_holliday", engine.Character{Name: "Doc Holliday", Inventory: []string{"Shotgun"}})

	llm := services.NewMockLLM()
	client := services.NewCaller(llm, "mock", 0, nil, log)
	apiCfg := &engine.APIConfig{Provider: "mock", Model: "mock", Timeout: time.Second, MaxContextTokens: 500}
	proc := worker.NewDecisionProcessor(store, client, apiCfg, log,
		worker.WithEstimator(narrative.WordEstimator{WordsPerToken: narrative.DefaultWordsPerToken}))

	api := &testAPI{store: store}
	var broadcaster *events.Broadcaster
	if withQueue {
		mr := miniredis.RunT(t)
		rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = rdb.Close() })
		api.queue = queue.NewDecisionQueue(queue.NewClientFromRedis(rdb, log))
		broadcaster = events.NewBroadcaster(rdb, log)
	}

	api.router = NewRouter(Routes{
		Health:     NewHealthHandler(store, "mock", log),
		Sessions:   NewSessionHandler(proc, store, api.queue, broadcaster, 500, log),
		Characters: NewCharacterHandler(log, store),
	}, log)
	return api
}

func (a *testAPI) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	rr := httptest.NewRecorder()
	a.router.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}

func (a *testAPI) createSession(t *testing.T, body any) *session.Session {
	t.Helper()
	rr := a.do(t, http.MethodPost, "/v1/sessions", body)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	return decode[*session.Session](t, rr)
}

func TestCreateSession(t *testing.T) {
	api := newTestAPI(t, false)

	tests := []struct {
		name       string
		body       any
		wantStatus int
		wantName   string
	}{
		{"empty body", nil, http.StatusCreated, ""},
		{"preset", CreateSessionRequest{CharacterID: "doc_holliday"}, http.StatusCreated, "Doc Holliday"},
		{"inline character", CreateSessionRequest{Character: &engine.Character{Name: "Johnny Ringo"}}, http.StatusCreated, "Johnny Ringo"},
		{"unknown preset", CreateSessionRequest{CharacterID: "ike_clanton"}, http.StatusBadRequest, ""},
		{"unknown field", map[string]string{"scenario": "x"}, http.StatusBadRequest, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := api.do(t, http.MethodPost, "/v1/sessions", tt.body)
			require.Equal(t, tt.wantStatus, rr.Code, rr.Body.String())
			if tt.wantStatus != http.StatusCreated {
				assert.NotEmpty(t, decode[ErrorResponse](t, rr).Error)
				return
			}
			s := decode[*session.Session](t, rr)
			assert.NotEmpty(t, s.ID)
			assert.Equal(t, tt.wantName, s.Character.Name)
		})
	}
}

func TestGetAndDeleteSession(t *testing.T) {
	api := newTestAPI(t, false)
	s := api.createSession(t, CreateSessionRequest{WorldContext: "Tombstone, 1881."})

	rr := api.do(t, http.MethodGet, "/v1/sessions/"+s.ID, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	got := decode[*session.Session](t, rr)
	assert.Equal(t, "Tombstone, 1881.", got.Narrative.WorldContext)

	rr = api.do(t, http.MethodDelete, "/v1/sessions/"+s.ID, nil)
	assert.Equal(t, http.StatusNoContent, rr.Code)

	rr = api.do(t, http.MethodGet, "/v1/sessions/"+s.ID, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	rr = api.do(t, http.MethodDelete, "/v1/sessions/"+s.ID, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestNarrative_Sync(t *testing.T) {
	api := newTestAPI(t, false)
	s := api.createSession(t, CreateSessionRequest{CharacterID: "doc_holliday"})
	path := "/v1/sessions/" + s.ID + "/narrative"

	rr := api.do(t, http.MethodPost, path, map[string]string{"text": "I order a whiskey.", "speaker": "player"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	resp := decode[NarrativeResponse](t, rr)
	assert.Equal(t, "Doc Holliday: I order a whiskey.", resp.Update.Text)
	assert.False(t, resp.Detection.ShouldPresent)
	assert.Nil(t, resp.Decision)

	rr = api.do(t, http.MethodPost, path, map[string]string{"text": "A stagecoach rattles in. What will you do?"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	resp = decode[NarrativeResponse](t, rr)
	assert.True(t, resp.Detection.ShouldPresent)
	require.NotNil(t, resp.Decision)
	assert.True(t, resp.Decision.AIGenerated)

	rr = api.do(t, http.MethodGet, "/v1/sessions/"+s.ID+"/decision", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	pending := decode[DecisionResponse](t, rr)
	require.NotNil(t, pending.Decision)
	assert.Equal(t, resp.Decision.ID, pending.Decision.ID)
}

func TestNarrative_Invalid(t *testing.T) {
	api := newTestAPI(t, false)
	s := api.createSession(t, nil)

	tests := []struct {
		name       string
		id         string
		body       any
		wantStatus int
	}{
		{"empty text", s.ID, map[string]string{"text": "  "}, http.StatusBadRequest},
		{"too long", s.ID, map[string]string{"text": strings.Repeat("a", 4001)}, http.StatusBadRequest},
		{"no body", s.ID, nil, http.StatusBadRequest},
		{"missing session", "nope", map[string]string{"text": "hello"}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := api.do(t, http.MethodPost, "/v1/sessions/"+tt.id+"/narrative", tt.body)
			assert.Equal(t, tt.wantStatus, rr.Code, rr.Body.String())
		})
	}
}

func TestNarrative_AsyncQueuesRequest(t *testing.T) {
	api := newTestAPI(t, true)
	s := api.createSession(t, nil)

	rr := api.do(t, http.MethodPost, "/v1/sessions/"+s.ID+"/narrative",
		map[string]any{"text": "The choice is yours.", "async": true})
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())
	resp := decode[NarrativeResponse](t, rr)
	assert.NotEmpty(t, resp.RequestID)
	assert.Nil(t, resp.Decision)

	depth, err := api.queue.RequestQueueDepth(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, depth)

	latest, err := api.queue.LatestRequest(context.Background(), s.ID)
	require.NoError(t, err)
	assert.False(t, latest.IsZero())
}

func TestSelectDecision(t *testing.T) {
	api := newTestAPI(t, false)
	s := api.createSession(t, CreateSessionRequest{CharacterID: "doc_holliday"})
	base := "/v1/sessions/" + s.ID

	rr := api.do(t, http.MethodPost, base+"/decisions/d-1/select", SelectRequest{OptionID: "o-1"})
	assert.Equal(t, http.StatusConflict, rr.Code, "nothing pending")

	rr = api.do(t, http.MethodPost, base+"/decisions", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	d := decode[DecisionResponse](t, rr).Decision
	require.NotNil(t, d)

	tests := []struct {
		name       string
		decisionID string
		body       any
		wantStatus int
	}{
		{"missing option id", d.ID, SelectRequest{}, http.StatusBadRequest},
		{"unknown option", d.ID, SelectRequest{OptionID: "nope"}, http.StatusBadRequest},
		{"stale decision", "other", SelectRequest{OptionID: d.Options[0].ID}, http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := api.do(t, http.MethodPost, base+"/decisions/"+tt.decisionID+"/select", tt.body)
			assert.Equal(t, tt.wantStatus, rr.Code, rr.Body.String())
		})
	}

	rr = api.do(t, http.MethodPost, base+"/decisions/"+d.ID+"/select",
		SelectRequest{OptionID: d.Options[0].ID, Outcome: "You take the job."})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	resp := decode[SelectResponse](t, rr)
	require.NotNil(t, resp.Record)
	assert.Equal(t, d.ID, resp.Record.DecisionID)
	assert.True(t, resp.Record.ProcessedForImpact)
	assert.NotNil(t, resp.Reconciled)

	rr = api.do(t, http.MethodPost, base+"/decisions/"+d.ID+"/select", SelectRequest{OptionID: d.Options[0].ID})
	assert.Equal(t, http.StatusConflict, rr.Code, "already resolved")

	rr = api.do(t, http.MethodGet, base+"/impacts", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	impacts := decode[ImpactsResponse](t, rr)
	assert.Equal(t, len(resp.Reconciled), len(impacts.Reconciled))

	rr = api.do(t, http.MethodGet, base+"/impacts/reconciled", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, strings.HasPrefix(strings.TrimSpace(rr.Body.String()), "["))
}

func TestGenerateDecision_PendingIsKept(t *testing.T) {
	api := newTestAPI(t, false)
	s := api.createSession(t, nil)
	path := "/v1/sessions/" + s.ID + "/decisions"

	first := decode[DecisionResponse](t, api.do(t, http.MethodPost, path, nil))
	require.NotNil(t, first.Decision)

	rr := api.do(t, http.MethodPost, path, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	second := decode[DecisionResponse](t, rr)
	assert.Equal(t, worker.ReasonPending, second.Discarded)
	require.NotNil(t, second.Decision)
	assert.Equal(t, first.Decision.ID, second.Decision.ID)
}

func TestEvolve(t *testing.T) {
	api := newTestAPI(t, true)
	s := api.createSession(t, nil)

	rr := api.do(t, http.MethodPost, "/v1/sessions/"+s.ID+"/evolve", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	resp := decode[EvolveResponse](t, rr)
	assert.NotNil(t, resp.ImpactState)

	rr = api.do(t, http.MethodPost, "/v1/sessions/"+s.ID+"/evolve", GenerateRequest{Async: true})
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())
	assert.NotEmpty(t, decode[EvolveResponse](t, rr).RequestID)

	rr = api.do(t, http.MethodPost, "/v1/sessions/missing/evolve", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestContext(t *testing.T) {
	api := newTestAPI(t, false)
	s := api.createSession(t, CreateSessionRequest{WorldContext: "The Arizona Territory in 1881."})
	base := "/v1/sessions/" + s.ID

	rr := api.do(t, http.MethodPost, base+"/narrative", map[string]string{"text": "Wyatt walks into the Oriental Saloon."})
	require.Equal(t, http.StatusOK, rr.Code)

	rr = api.do(t, http.MethodGet, base+"/context?maxTokens=300", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	res := decode[narrative.Result](t, rr)
	assert.Contains(t, res.Text, "Oriental Saloon")
	assert.LessOrEqual(t, res.TokenEstimate, 300)

	rr = api.do(t, http.MethodGet, base+"/context?compression=medium", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, narrative.LevelMedium, decode[narrative.Result](t, rr).Compression)

	for _, bad := range []string{"abc", "0", "-5"} {
		rr = api.do(t, http.MethodGet, base+"/context?maxTokens="+bad, nil)
		assert.Equal(t, http.StatusBadRequest, rr.Code, bad)
	}
}

func TestCharacters(t *testing.T) {
	api := newTestAPI(t, false)

	rr := api.do(t, http.MethodGet, "/v1/characters", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	list := decode[[]CharacterSummary](t, rr)
	require.Len(t, list, 1)
	assert.Equal(t, "doc_holliday", list[0].ID)
	assert.Equal(t, "Doc Holliday", list[0].Name)

	rr = api.do(t, http.MethodGet, "/v1/characters/doc_holliday", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "Doc Holliday", decode[engine.Character](t, rr).Name)

	rr = api.do(t, http.MethodGet, "/v1/characters/ike", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestRouter_Health(t *testing.T) {
	api := newTestAPI(t, false)
	rr := api.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = api.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code, "metrics are only mounted when configured")
}
