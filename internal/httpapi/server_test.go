package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/xuri/excelize/v2"
	"golang.org/x/crypto/bcrypt"

	"github.com/antoniostano/confidant/internal/auth"
	"github.com/antoniostano/confidant/internal/brain"
	"github.com/antoniostano/confidant/internal/cache"
	"github.com/antoniostano/confidant/internal/chat"
	"github.com/antoniostano/confidant/internal/config"
	"github.com/antoniostano/confidant/internal/export"
	"github.com/antoniostano/confidant/internal/observability"
	"github.com/antoniostano/confidant/internal/progress"
	"github.com/antoniostano/confidant/internal/protocol"
	"github.com/antoniostano/confidant/internal/safety"
	"github.com/antoniostano/confidant/internal/store"
)

type testEnv struct {
	ts    *httptest.Server
	store *store.InMemoryStore
	auth  *auth.Service
}

func newTestEnv(t *testing.T, adapter brain.Adapter) *testEnv {
	t.Helper()
	if adapter == nil {
		adapter = brain.NewSupportiveAdapter()
	}
	st := store.NewInMemoryStore()
	kv := cache.NewMemoryKVStore()
	reg := prometheus.NewRegistry()
	metrics := observability.NewMetricsWithRegistry("test_httpapi", reg)

	authSvc := auth.NewService(st, kv, auth.Options{BcryptCost: bcrypt.MinCost, Metrics: metrics})
	srv := New(config.Config{}, Deps{
		Chat:     chat.NewService(adapter, st, chat.Options{Metrics: metrics}),
		Progress: progress.NewService(st, kv, progress.Options{Metrics: metrics}),
		Auth:     authSvc,
		Brain:    adapter,
		Store:    st,
		Cache:    kv,
		Metrics:  metrics,
		Gatherer: reg,
	})
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(func() {
		ts.Close()
		authSvc.Wait()
	})
	return &testEnv{ts: ts, store: st, auth: authSvc}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()
	var r io.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		r = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, e.ts.URL+path, r)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s error = %v", method, path, err)
	}
	t.Cleanup(func() { res.Body.Close() })
	return res
}

func decodeBody(t *testing.T, res *http.Response) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func (e *testEnv) signedIn(t *testing.T) string {
	t.Helper()
	ctx := context.Background()
	if _, err := e.auth.Signup(ctx, auth.SignupInput{Email: "sam@example.com", Password: "secret1", Name: "Sam"}); err != nil {
		t.Fatalf("Signup() error = %v", err)
	}
	sess, err := e.auth.Signin(ctx, "sam@example.com", "secret1")
	if err != nil {
		t.Fatalf("Signin() error = %v", err)
	}
	return sess.Token
}

func TestHealthAndReady(t *testing.T) {
	env := newTestEnv(t, nil)

	res := env.do(t, http.MethodGet, "/healthz", "", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("healthz status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	if got := decodeBody(t, res)["store_mode"]; got != "in-memory" {
		t.Fatalf("store_mode = %v, want in-memory", got)
	}

	res = env.do(t, http.MethodGet, "/readyz", "", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("readyz status = %d, want %d", res.StatusCode, http.StatusOK)
	}
}

type downDependency struct{}

func (downDependency) Ping(context.Context) error { return errors.New("connection refused") }
func (downDependency) Mode() string               { return "postgres" }

func TestReadyReportsFailingDependency(t *testing.T) {
	srv := New(config.Config{}, Deps{Store: downDependency{}})
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("readyz status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}

func TestSignupSigninFlow(t *testing.T) {
	env := newTestEnv(t, nil)

	res := env.do(t, http.MethodPost, "/api/auth/signup", "", map[string]string{
		"email": "Sam@Example.com", "password": "secret1", "name": "Sam",
	})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("signup status = %d, want %d", res.StatusCode, http.StatusCreated)
	}
	body := decodeBody(t, res)
	user, _ := body["user"].(map[string]any)
	if user["email"] != "sam@example.com" {
		t.Fatalf("user.email = %v, want sam@example.com", user["email"])
	}
	if _, leaked := user["passwordHash"]; leaked {
		t.Fatalf("signup response leaked password hash: %+v", user)
	}

	res = env.do(t, http.MethodPost, "/api/auth/signup", "", map[string]string{
		"email": "sam@example.com", "password": "secret1", "name": "Sam",
	})
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("duplicate signup status = %d, want %d", res.StatusCode, http.StatusBadRequest)
	}
	if got := decodeBody(t, res)["error"]; got != "User with this email already exists" {
		t.Fatalf("duplicate signup error = %v", got)
	}

	res = env.do(t, http.MethodPost, "/api/auth/signup", "", map[string]string{
		"email": "other@example.com", "password": "123", "name": "Other",
	})
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("short password status = %d, want %d", res.StatusCode, http.StatusBadRequest)
	}
	if got := decodeBody(t, res)["code"]; got != "validation_error" {
		t.Fatalf("short password code = %v, want validation_error", got)
	}

	res = env.do(t, http.MethodPost, "/api/auth/signin", "", map[string]string{"email": "sam@example.com", "password": "nope"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad signin status = %d, want %d", res.StatusCode, http.StatusUnauthorized)
	}

	res = env.do(t, http.MethodPost, "/api/auth/signin", "", map[string]string{"email": "sam@example.com", "password": "secret1"})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("signin status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	token, _ := decodeBody(t, res)["token"].(string)
	if token == "" {
		t.Fatalf("signin returned no token")
	}

	if res := env.do(t, http.MethodGet, "/api/progress", token, nil); res.StatusCode != http.StatusOK {
		t.Fatalf("progress with token status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	if res := env.do(t, http.MethodPost, "/api/auth/signout", token, nil); res.StatusCode != http.StatusOK {
		t.Fatalf("signout status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	if res := env.do(t, http.MethodGet, "/api/progress", token, nil); res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("progress after signout status = %d, want %d", res.StatusCode, http.StatusUnauthorized)
	}
}

func TestProtectedRoutesRequireAuth(t *testing.T) {
	env := newTestEnv(t, nil)
	for _, path := range []string{"/api/progress", "/api/history", "/api/checkins/export"} {
		res := env.do(t, http.MethodGet, path, "", nil)
		if res.StatusCode != http.StatusUnauthorized {
			t.Fatalf("GET %s status = %d, want %d", path, res.StatusCode, http.StatusUnauthorized)
		}
		if got := decodeBody(t, res)["error"]; got != "Authentication required" {
			t.Fatalf("GET %s error = %v", path, got)
		}
	}
}

func TestChatAnonymous(t *testing.T) {
	env := newTestEnv(t, nil)

	res := env.do(t, http.MethodPost, "/api/chat", "", map[string]any{
		"message": "work has been rough",
		"conversation": []map[string]string{
			{"role": "user", "content": "hi"},
			{"role": "assistant", "content": "hello"},
		},
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("chat status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	body := decodeBody(t, res)
	if body["success"] != true || body["crisis"] != false {
		t.Fatalf("unexpected chat body: %+v", body)
	}
	if got, _ := body["response"].(string); !strings.HasPrefix(got, "Work stress") {
		t.Fatalf("response = %q, want the work reply", got)
	}

	res = env.do(t, http.MethodPost, "/api/chat", "", map[string]any{"message": "   "})
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("blank chat status = %d, want %d", res.StatusCode, http.StatusBadRequest)
	}
}

func TestChatSignedInPersistsAndFlagsCrisis(t *testing.T) {
	env := newTestEnv(t, nil)
	token := env.signedIn(t)

	res := env.do(t, http.MethodPost, "/api/chat", token, map[string]any{"message": "I want to kill myself"})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("chat status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	body := decodeBody(t, res)
	if body["crisis"] != true || body["crisisMessage"] != safety.CrisisMessage {
		t.Fatalf("crisis fields = %v / %v", body["crisis"], body["crisisMessage"])
	}
	if id, _ := body["conversationId"].(string); id == "" {
		t.Fatalf("missing conversationId: %+v", body)
	}

	res = env.do(t, http.MethodGet, "/api/history", token, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("history status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	var hist struct {
		Success  bool `json:"success"`
		Sessions []struct {
			CrisisFlag bool `json:"crisisFlag"`
			Messages   []any
		} `json:"sessions"`
		Insights struct {
			TotalSessions int `json:"totalSessions"`
			TotalMessages int `json:"totalMessages"`
		} `json:"insights"`
	}
	if err := json.NewDecoder(res.Body).Decode(&hist); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if !hist.Success || len(hist.Sessions) != 1 || !hist.Sessions[0].CrisisFlag {
		t.Fatalf("unexpected history: %+v", hist)
	}
	if hist.Insights.TotalSessions != 1 || hist.Insights.TotalMessages != 2 {
		t.Fatalf("insights = %+v, want 1 session / 2 messages", hist.Insights)
	}
}

type failingAdapter struct{}

func (failingAdapter) StreamResponse(context.Context, brain.Request, brain.DeltaHandler) (brain.Response, error) {
	return brain.Response{}, errors.New("upstream exploded")
}

func TestChatBrainFailure(t *testing.T) {
	env := newTestEnv(t, failingAdapter{})
	res := env.do(t, http.MethodPost, "/api/chat", "", map[string]any{"message": "hello"})
	if res.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusInternalServerError)
	}
	if got := decodeBody(t, res)["error"]; got != "Failed to process message" {
		t.Fatalf("error = %v", got)
	}
}

func TestCheckinAndProgress(t *testing.T) {
	env := newTestEnv(t, nil)
	token := env.signedIn(t)

	if res := env.do(t, http.MethodPost, "/api/checkin", "", map[string]any{"mood": 6, "stress": 4}); res.StatusCode != http.StatusOK {
		t.Fatalf("anonymous checkin status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	res := env.do(t, http.MethodPost, "/api/checkin", token, map[string]any{"mood": 0, "stress": 4})
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("invalid checkin status = %d, want %d", res.StatusCode, http.StatusBadRequest)
	}
	for _, c := range []map[string]any{{"mood": 7, "stress": 3, "note": "slept well"}, {"mood": 8, "stress": 2}} {
		if res := env.do(t, http.MethodPost, "/api/checkin", token, c); res.StatusCode != http.StatusOK {
			t.Fatalf("checkin status = %d, want %d", res.StatusCode, http.StatusOK)
		}
	}

	res = env.do(t, http.MethodGet, "/api/progress", token, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("progress status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	var body struct {
		Success  bool `json:"success"`
		Progress struct {
			ChartData  []map[string]any `json:"chartData"`
			Statistics struct {
				TotalCheckins int     `json:"totalCheckins"`
				AverageMood   float64 `json:"averageMood"`
				DaysTracked   int     `json:"daysTracked"`
			} `json:"statistics"`
		} `json:"progress"`
	}
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		t.Fatalf("decode progress: %v", err)
	}
	if len(body.Progress.ChartData) != 30 {
		t.Fatalf("chartData len = %d, want 30", len(body.Progress.ChartData))
	}
	if got := body.Progress.Statistics; got.TotalCheckins != 2 || got.AverageMood != 7.5 || got.DaysTracked != 1 {
		t.Fatalf("statistics = %+v, want 2 check-ins averaging 7.5 over 1 day", got)
	}
}

func TestExportCheckins(t *testing.T) {
	env := newTestEnv(t, nil)
	token := env.signedIn(t)
	env.do(t, http.MethodPost, "/api/checkin", token, map[string]any{"mood": 5, "stress": 5, "note": "ok"})

	res := env.do(t, http.MethodGet, "/api/checkins/export", token, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("export status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	if got := res.Header.Get("Content-Type"); got != xlsxContentType {
		t.Fatalf("Content-Type = %q", got)
	}
	if got := res.Header.Get("Content-Disposition"); !strings.HasPrefix(got, "attachment;") {
		t.Fatalf("Content-Disposition = %q", got)
	}
	f, err := excelize.OpenReader(res.Body)
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	defer f.Close()
	rows, err := f.GetRows(export.SheetName)
	if err != nil {
		t.Fatalf("GetRows() error = %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want header plus 1", len(rows))
	}
}

func TestChatWebSocketStreamsTurn(t *testing.T) {
	env := newTestEnv(t, nil)
	token := env.signedIn(t)

	wsURL := "ws" + strings.TrimPrefix(env.ts.URL, "http") + "/api/chat/ws?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"bogus"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	var ev map[string]any
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read error event: %v", err)
	}
	if ev["type"] != string(protocol.TypeErrorEvent) || ev["code"] != "invalid_client_message" {
		t.Fatalf("first event = %+v, want invalid_client_message error", ev)
	}

	if err := conn.WriteJSON(protocol.ClientMessage{Type: protocol.TypeClientMessage, TurnID: "t1", Text: "I feel so anxious"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	var got []map[string]any
	for {
		var msg map[string]any
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read: %v", err)
		}
		got = append(got, msg)
		if msg["type"] == string(protocol.TypeAssistantTurnEnd) {
			break
		}
	}
	if len(got) < 2 || got[0]["type"] != string(protocol.TypeAssistantTextDelta) {
		t.Fatalf("events = %+v, want deltas then turn end", got)
	}
	end := got[len(got)-1]
	if end["turn_id"] != "t1" || end["provider"] != brain.ProviderSupportive {
		t.Fatalf("turn end = %+v", end)
	}
	if id, _ := end["conversation_id"].(string); id == "" {
		t.Fatalf("turn end missing conversation_id: %+v", end)
	}
}

func TestStatusReportsFallbacks(t *testing.T) {
	env := newTestEnv(t, nil)
	res := env.do(t, http.MethodGet, "/v1/status", "", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	var body statusResponse
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.BrainProviders) != 1 || body.BrainProviders[0] != brain.ProviderSupportive {
		t.Fatalf("brain_providers = %v", body.BrainProviders)
	}
	if body.EmailEnabled || len(body.Checks) != 4 {
		t.Fatalf("unexpected status: %+v", body)
	}
}

func TestMetricsAndPerf(t *testing.T) {
	env := newTestEnv(t, nil)
	env.do(t, http.MethodPost, "/api/chat", "", map[string]any{"message": "hello"})

	res := env.do(t, http.MethodGet, "/metrics", "", nil)
	raw, _ := io.ReadAll(res.Body)
	if !strings.Contains(string(raw), "test_httpapi_chat_turns_total") {
		t.Fatalf("metrics output missing chat turns counter")
	}

	res = env.do(t, http.MethodGet, "/v1/perf/latency", "", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("perf status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	if _, ok := decodeBody(t, res)["stages"]; !ok {
		t.Fatalf("perf response missing stages")
	}
}
