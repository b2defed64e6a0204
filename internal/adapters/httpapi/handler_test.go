package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	chi "github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"timeline-service/internal/domain"
	"timeline-service/internal/infra/ratelimit"
	"timeline-service/internal/usecase/stream"
	"timeline-service/internal/usecase/timeline"
)

var apiNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func TestGetTimelineOK(t *testing.T) {
	env := newAPIEnv(t, "", nil)
	env.svc.page = onePage("n1")

	rec := env.do(http.MethodGet, "/v1/timeline/u1?limit=5", asUser("u1"), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("статус: %d, тело: %s", rec.Code, rec.Body.String())
	}
	if env.svc.method != "get" {
		t.Fatalf("вызван метод %q", env.svc.method)
	}
	if env.svc.gotReq.ViewerID != "u1" {
		t.Fatalf("viewerID: %q", env.svc.gotReq.ViewerID)
	}
	if env.svc.gotReq.Limit != 5 || !env.svc.gotReq.LimitSet {
		t.Fatalf("limit: %d (set=%v)", env.svc.gotReq.Limit, env.svc.gotReq.LimitSet)
	}
	var body pageResponse
	mustDecode(t, rec, &body)
	if !body.Success || len(body.Items) != 1 || body.Items[0].Note.NoteID != "n1" {
		t.Fatalf("неожиданное тело: %+v", body)
	}
}

func TestIdentityRequired(t *testing.T) {
	env := newAPIEnv(t, "", nil)

	rec := env.do(http.MethodGet, "/v1/timeline/u1", asUser("u2"), "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("чужой зритель: статус %d", rec.Code)
	}
	if code := errCode(t, rec); code != "UNAUTHORIZED" {
		t.Fatalf("код ошибки: %q", code)
	}

	rec = env.do(http.MethodGet, "/v1/timeline/u1", nil, "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("аноним: статус %d", rec.Code)
	}
	if env.svc.method != "" {
		t.Fatalf("сервис не должен был вызываться, вызван %q", env.svc.method)
	}
}

func TestAdminBypassesIdentity(t *testing.T) {
	env := newAPIEnv(t, "", nil)
	env.svc.page = onePage("n1")

	rec := env.do(http.MethodGet, "/v1/timeline/u1", map[string]string{"x-admin": "true"}, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("админ: статус %d, тело: %s", rec.Code, rec.Body.String())
	}

	rec = env.do(http.MethodGet, "/v1/timeline/u1", map[string]string{"x-admin": "yes"}, "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("x-admin=yes не признак админа, статус %d", rec.Code)
	}
}

func TestAuthTokenChecked(t *testing.T) {
	env := newAPIEnv(t, "secret", nil)
	env.svc.page = onePage("n1")

	rec := env.do(http.MethodGet, "/v1/timeline/u1", asUser("u1"), "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("без токена: статус %d", rec.Code)
	}

	headers := asUser("u1")
	headers["x-auth-token"] = "wrong"
	rec = env.do(http.MethodGet, "/v1/timeline/u1", headers, "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("неверный токен: статус %d", rec.Code)
	}

	headers["x-auth-token"] = "secret"
	rec = env.do(http.MethodGet, "/v1/timeline/u1", headers, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("верный токен: статус %d, тело: %s", rec.Code, rec.Body.String())
	}
}

func TestRateLimitSecondRequest(t *testing.T) {
	env := newAPIEnv(t, "", map[string]ratelimit.Limit{
		ratelimit.ClassTimeline: {RPM: 1, Burst: 1},
	})
	env.svc.page = onePage("n1")

	rec := env.do(http.MethodGet, "/v1/timeline/u1", asUser("u1"), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("первый запрос: статус %d", rec.Code)
	}
	rec = env.do(http.MethodGet, "/v1/timeline/u1", asUser("u1"), "")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("второй запрос: статус %d", rec.Code)
	}
	if code := errCode(t, rec); code != "RATE_LIMITED" {
		t.Fatalf("код ошибки: %q", code)
	}
}

func TestRateLimitKeyFallsBackToRemoteAddr(t *testing.T) {
	env := newAPIEnv(t, "", map[string]ratelimit.Limit{
		ratelimit.ClassTimeline: {RPM: 1, Burst: 1},
	})
	env.svc.page = onePage("n1")

	// Без x-user-id ключом бакета становится адрес клиента; httptest
	// подставляет один и тот же RemoteAddr.
	admin := map[string]string{"x-admin": "true"}
	rec := env.do(http.MethodGet, "/v1/timeline/u1", admin, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("первый запрос: статус %d", rec.Code)
	}
	rec = env.do(http.MethodGet, "/v1/timeline/u2", admin, "")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("второй запрос с того же адреса: статус %d", rec.Code)
	}
}

func TestRateRPMHeaderLowersLimit(t *testing.T) {
	env := newAPIEnv(t, "", map[string]ratelimit.Limit{
		ratelimit.ClassTimeline: {RPM: 600, Burst: 60},
	})
	env.svc.page = onePage("n1")

	headers := asUser("u1")
	headers["x-rate-rpm"] = "1"
	rec := env.do(http.MethodGet, "/v1/timeline/u1", headers, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("первый запрос: статус %d", rec.Code)
	}
	rec = env.do(http.MethodGet, "/v1/timeline/u1", headers, "")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("пониженный предел не сработал: статус %d", rec.Code)
	}
}

func TestHeaderOverridesReachService(t *testing.T) {
	env := newAPIEnv(t, "", nil)
	env.svc.page = onePage("n1")

	headers := asUser("u1")
	headers["x-ab-recommended-weight"] = "2.5"
	headers["x-ab-following-weight"] = "abc"
	headers["x-cap-trending"] = "7"
	headers["x-cap-lists"] = "-3"
	rec := env.do(http.MethodGet, "/v1/timeline/u1", headers, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("статус: %d", rec.Code)
	}

	over := env.svc.gotReq.Overrides
	if got := over.ABWeights[domain.SourceRecommended]; got != 2.5 {
		t.Fatalf("A/B вес recommended: %f", got)
	}
	if _, ok := over.ABWeights[domain.SourceFollowing]; ok {
		t.Fatalf("мусорный A/B вес не должен попадать в запрос")
	}
	if got := over.Caps[domain.SourceTrending]; got != 7 {
		t.Fatalf("кап trending: %d", got)
	}
	if _, ok := over.Caps[domain.SourceLists]; ok {
		t.Fatalf("отрицательный кап не должен попадать в запрос")
	}
}

func TestForYouHeaders(t *testing.T) {
	env := newAPIEnv(t, "", nil)
	env.svc.page = onePage("n1")

	headers := asUser("u1")
	headers["x-discovery-share"] = "0.4"
	headers["x-use-overdrive"] = "1"
	headers["x-cap-recommended-for-you"] = "9"
	headers["x-cap-recommended"] = "5"
	rec := env.do(http.MethodGet, "/v1/timeline/u1/foryou", headers, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("статус: %d", rec.Code)
	}
	if env.svc.method != "foryou" {
		t.Fatalf("вызван метод %q", env.svc.method)
	}
	req := env.svc.gotReq
	if req.DiscoveryShare == nil || *req.DiscoveryShare != 0.4 {
		t.Fatalf("доля discovery: %+v", req.DiscoveryShare)
	}
	if !req.UseOverdrive {
		t.Fatalf("флаг overdrive не дошёл до сервиса")
	}
	if got := req.Overrides.Caps[domain.SourceRecommended]; got != 9 {
		t.Fatalf("кап recommended для For-You: %d", got)
	}
}

func TestDiscoveryShareIgnoredOutsideRange(t *testing.T) {
	env := newAPIEnv(t, "", nil)
	env.svc.page = onePage("n1")

	headers := asUser("u1")
	headers["x-discovery-share"] = "1.5"
	env.do(http.MethodGet, "/v1/timeline/u1/foryou", headers, "")
	if env.svc.gotReq.DiscoveryShare != nil {
		t.Fatalf("доля вне [0,1] должна игнорироваться: %v", *env.svc.gotReq.DiscoveryShare)
	}
}

func TestQueryParsing(t *testing.T) {
	env := newAPIEnv(t, "", nil)
	env.svc.page = onePage("n1")

	env.do(http.MethodGet, "/v1/timeline/u1?offset=3&limit=0&algorithm=chronological", asUser("u1"), "")
	req := env.svc.gotReq
	if req.Offset != 3 {
		t.Fatalf("offset: %d", req.Offset)
	}
	if req.Limit != 0 || !req.LimitSet {
		t.Fatalf("явный нулевой limit должен сохраняться: %d (set=%v)", req.Limit, req.LimitSet)
	}
	if req.Algorithm != domain.AlgorithmChronological {
		t.Fatalf("алгоритм: %q", req.Algorithm)
	}

	env.do(http.MethodGet, "/v1/timeline/u1?offset=-2&algorithm=bogus", asUser("u1"), "")
	req = env.svc.gotReq
	if req.Offset != 0 || req.LimitSet || req.Algorithm != domain.AlgorithmUnspecified {
		t.Fatalf("мусорные параметры должны игнорироваться: %+v", req)
	}
}

func TestIncludeSignalsProjection(t *testing.T) {
	env := newAPIEnv(t, "", nil)
	page := onePage("n1")
	page.Items[0].Signals = domain.Signals{AuthorAffinity: 0.9}
	env.svc.page = page

	rec := env.do(http.MethodGet, "/v1/timeline/u1", asUser("u1"), "")
	var slim struct {
		Items []map[string]json.RawMessage `json:"items"`
	}
	mustDecode(t, rec, &slim)
	if _, ok := slim.Items[0]["signals"]; ok {
		t.Fatalf("сигналы не должны отдаваться без include_signals")
	}

	rec = env.do(http.MethodGet, "/v1/timeline/u1?include_signals=true", asUser("u1"), "")
	var full struct {
		Items []map[string]json.RawMessage `json:"items"`
	}
	mustDecode(t, rec, &full)
	raw, ok := full.Items[0]["signals"]
	if !ok {
		t.Fatalf("сигналы запрошены, но не отданы")
	}
	if !strings.Contains(string(raw), "author_affinity") {
		t.Fatalf("сигналы без компонент: %s", raw)
	}
}

func TestErrorStatusMapping(t *testing.T) {
	cases := []struct {
		err     error
		status  int
		code    string
		message string
	}{
		{domain.E(domain.KindUnavailable, "кэш недоступен"), http.StatusServiceUnavailable, "UNAVAILABLE", "кэш недоступен"},
		{domain.E(domain.KindDeadlineExceeded, "не уложились"), http.StatusGatewayTimeout, "DEADLINE_EXCEEDED", "не уложились"},
		{domain.E(domain.KindInvalidArgument, "плохой запрос"), http.StatusBadRequest, "INVALID_ARGUMENT", "плохой запрос"},
		{errors.New("boom"), http.StatusInternalServerError, "INTERNAL", "внутренняя ошибка"},
	}
	for _, tc := range cases {
		env := newAPIEnv(t, "", nil)
		env.svc.err = tc.err
		rec := env.do(http.MethodGet, "/v1/timeline/u1", asUser("u1"), "")
		if rec.Code != tc.status {
			t.Fatalf("ошибка %v: статус %d, ожидали %d", tc.err, rec.Code, tc.status)
		}
		var body errorResponse
		mustDecode(t, rec, &body)
		if body.Success || body.ErrorCode != tc.code || body.ErrorMessage != tc.message {
			t.Fatalf("ошибка %v: конверт %+v", tc.err, body)
		}
	}
}

func TestRefreshEndpoint(t *testing.T) {
	env := newAPIEnv(t, "", nil)
	env.svc.page = onePage("n1")

	rec := env.do(http.MethodPost, "/v1/timeline/u1/refresh", asUser("u1"),
		`{"since":"2025-06-01T10:00:00Z","max_items":10}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("статус: %d, тело: %s", rec.Code, rec.Body.String())
	}
	if env.svc.method != "refresh" || env.svc.gotViewer != "u1" {
		t.Fatalf("вызов: %q для %q", env.svc.method, env.svc.gotViewer)
	}
	want := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	if !env.svc.gotSince.Equal(want) || env.svc.gotMax != 10 {
		t.Fatalf("параметры: since=%v max=%d", env.svc.gotSince, env.svc.gotMax)
	}
}

func TestMarkReadEndpoint(t *testing.T) {
	env := newAPIEnv(t, "", nil)

	rec := env.do(http.MethodPost, "/v1/timeline/u1/read", asUser("u1"),
		`{"read_until":"2025-06-01T11:00:00Z"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("статус: %d", rec.Code)
	}
	want := time.Date(2025, 6, 1, 11, 0, 0, 0, time.UTC)
	if !env.svc.gotRead.Equal(want) {
		t.Fatalf("read_until: %v", env.svc.gotRead)
	}

	rec = env.do(http.MethodPost, "/v1/timeline/u1/read", asUser("u1"), `{"read_until":`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("битое тело: статус %d", rec.Code)
	}
}

func TestEngagementEndpoint(t *testing.T) {
	env := newAPIEnv(t, "", nil)

	rec := env.do(http.MethodPost, "/v1/timeline/u1/engagement", asUser("u1"),
		`{"note_id":"n1","action":"like","duration_seconds":2.5}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("статус: %d, тело: %s", rec.Code, rec.Body.String())
	}
	if env.svc.gotNote != "n1" || env.svc.gotAction != domain.ActionLike {
		t.Fatalf("действие: %q над %q", env.svc.gotAction, env.svc.gotNote)
	}
	if env.svc.gotDuration != 2500*time.Millisecond {
		t.Fatalf("длительность: %v", env.svc.gotDuration)
	}
}

func TestPreferencesEndpoints(t *testing.T) {
	env := newAPIEnv(t, "", nil)
	env.svc.prefs = domain.FilterPreferences{MutedUsers: []string{"spammer"}, ShowNSFW: true}

	rec := env.do(http.MethodGet, "/v1/timeline/u1/preferences", asUser("u1"), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("статус: %d", rec.Code)
	}
	var body preferencesResponse
	mustDecode(t, rec, &body)
	if len(body.Preferences.MutedUsers) != 1 || body.Preferences.MutedUsers[0] != "spammer" || !body.Preferences.ShowNSFW {
		t.Fatalf("настройки: %+v", body.Preferences)
	}

	rec = env.do(http.MethodPut, "/v1/timeline/u1/preferences", asUser("u1"),
		`{"muted_keywords":["crypto"],"show_nsfw":false}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("статус: %d", rec.Code)
	}
	if len(env.svc.gotPrefs.MutedKeywords) != 1 || env.svc.gotPrefs.MutedKeywords[0] != "crypto" {
		t.Fatalf("обновление не дошло: %+v", env.svc.gotPrefs)
	}
}

func TestNoteEventRequiresAdmin(t *testing.T) {
	env := newAPIEnv(t, "", nil)

	rec := env.do(http.MethodPost, "/v1/events/note", asUser("u1"),
		`{"kind":"CREATED","note":{"note_id":"n1","author_id":"a1"}}`)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("не-админ: статус %d", rec.Code)
	}
	if len(env.sink.tasks) != 0 {
		t.Fatalf("задача не должна была попасть в очередь")
	}
}

func TestNoteEventValidation(t *testing.T) {
	env := newAPIEnv(t, "", nil)
	admin := map[string]string{"x-admin": "true"}

	rec := env.do(http.MethodPost, "/v1/events/note", admin,
		`{"kind":"EXPLODED","note":{"note_id":"n1","author_id":"a1"}}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("неизвестный вид: статус %d", rec.Code)
	}

	rec = env.do(http.MethodPost, "/v1/events/note", admin,
		`{"kind":"CREATED","note":{"author_id":"a1"}}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("без note_id: статус %d", rec.Code)
	}
	if len(env.sink.tasks) != 0 {
		t.Fatalf("невалидные события не должны попадать в очередь")
	}
}

func TestNoteEventAccepted(t *testing.T) {
	env := newAPIEnv(t, "", nil)
	env.handler.now = func() time.Time { return apiNow }

	rec := env.do(http.MethodPost, "/v1/events/note", map[string]string{"x-admin": "1"},
		`{"kind":"CREATED","note":{"note_id":"n1","author_id":"a1","text":"привет"}}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("статус: %d, тело: %s", rec.Code, rec.Body.String())
	}
	var body eventResponse
	mustDecode(t, rec, &body)
	if !body.Success || body.EventID == "" {
		t.Fatalf("конверт: %+v", body)
	}
	if len(env.sink.tasks) != 1 {
		t.Fatalf("задач в очереди: %d", len(env.sink.tasks))
	}
	task := env.sink.tasks[0]
	if task.Event.Kind != domain.EventNoteCreated || task.Event.Note.NoteID != "n1" {
		t.Fatalf("событие: %+v", task.Event)
	}
	if task.Event.ID != body.EventID {
		t.Fatalf("идентификаторы разошлись: %q и %q", task.Event.ID, body.EventID)
	}
	if !task.Event.OccurredAt.Equal(apiNow) {
		t.Fatalf("время события: %v", task.Event.OccurredAt)
	}
}

func TestHealthz(t *testing.T) {
	env := newAPIEnv(t, "", nil)

	rec := env.do(http.MethodGet, "/healthz", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("статус: %d", rec.Code)
	}
	var body healthResponse
	mustDecode(t, rec, &body)
	if !body.Success || body.Checks["postgres"] != "ok" {
		t.Fatalf("тело: %+v", body)
	}

	env.handler.pings["redis"] = func(context.Context) error { return errors.New("connection refused") }
	rec = env.do(http.MethodGet, "/healthz", nil, "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("деградация: статус %d", rec.Code)
	}
	mustDecode(t, rec, &body)
	if body.Success || !strings.Contains(body.Checks["redis"], "connection refused") {
		t.Fatalf("тело: %+v", body)
	}
}

func TestStreamUpdatesDeliversEvents(t *testing.T) {
	env := newAPIEnv(t, "", nil)
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/v1/timeline/u1/updates", nil)
	if err != nil {
		t.Fatalf("не удалось собрать запрос: %v", err)
	}
	req.Header.Set("x-user-id", "u1")
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("не удалось открыть стрим: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("статус: %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type: %q", ct)
	}

	waitFor(t, func() bool { return env.hub.SessionCount() == 1 })
	env.hub.Push("u1", domain.TimelineUpdate{Type: domain.UpdateNewNote, NoteID: "n1", AuthorID: "a1", At: apiNow})

	scanner := bufio.NewScanner(resp.Body)
	var sawEvent, sawData bool
	for i := 0; i < 400 && scanner.Scan(); i++ {
		line := scanner.Text()
		if line == "event: new_note" {
			sawEvent = true
		}
		if sawEvent && strings.HasPrefix(line, "data: ") && strings.Contains(line, `"note_id":"n1"`) {
			sawData = true
			break
		}
	}
	if !sawEvent || !sawData {
		t.Fatalf("кадр new_note не получен (event=%v data=%v)", sawEvent, sawData)
	}

	resp.Body.Close()
	waitFor(t, func() bool { return env.hub.SessionCount() == 0 })
}

func TestStreamRejectsForeignViewer(t *testing.T) {
	env := newAPIEnv(t, "", nil)

	rec := env.do(http.MethodGet, "/v1/timeline/u1/updates", asUser("u2"), "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("статус: %d", rec.Code)
	}
	if env.hub.SessionCount() != 0 {
		t.Fatalf("сессий не должно быть: %d", env.hub.SessionCount())
	}
}

type apiEnv struct {
	svc     *fakeService
	hub     *stream.Hub
	sink    *fakeSink
	router  chi.Router
	handler *Handler
}

func newAPIEnv(t *testing.T, authToken string, limits map[string]ratelimit.Limit) *apiEnv {
	t.Helper()
	svc := &fakeService{}
	hub := stream.NewHub(4, 100, 20*time.Millisecond, time.Minute)
	t.Cleanup(hub.Shutdown)
	sink := &fakeSink{}
	pings := map[string]func(context.Context) error{
		"postgres": func(context.Context) error { return nil },
	}
	h := NewHandler(svc, hub, ratelimit.NewLimiter(limits), sink, pings, authToken, zerolog.Nop())
	r := chi.NewRouter()
	h.RegisterRoutes(r)
	return &apiEnv{svc: svc, hub: hub, sink: sink, router: r, handler: h}
}

func (e *apiEnv) do(method, target string, headers map[string]string, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func asUser(id string) map[string]string {
	return map[string]string{"x-user-id": id}
}

func onePage(noteID string) domain.TimelinePage {
	return domain.TimelinePage{
		Items: []domain.RankedItem{{
			Note:       domain.Note{NoteID: noteID, AuthorID: "a1", CreatedAt: apiNow},
			Source:     domain.SourceFollowing,
			FinalScore: 0.5,
			InjectedAt: apiNow,
		}},
		Metadata:   domain.TimelineMetadata{TotalItems: 1, LastUpdated: apiNow},
		Pagination: domain.Pagination{Limit: 20, TotalCount: 1},
	}
}

func mustDecode(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), dst); err != nil {
		t.Fatalf("не удалось разобрать ответ %q: %v", rec.Body.String(), err)
	}
}

func errCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body errorResponse
	mustDecode(t, rec, &body)
	return body.ErrorCode
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("условие не выполнено за отведённое время")
}

type fakeService struct {
	page        domain.TimelinePage
	prefs       domain.FilterPreferences
	err         error
	method      string
	gotReq      timeline.Request
	gotViewer   string
	gotSince    time.Time
	gotMax      int
	gotRead     time.Time
	gotNote     string
	gotAction   domain.EngagementAction
	gotDuration time.Duration
	gotPrefs    domain.FilterPreferences
}

func (f *fakeService) Get(_ context.Context, req timeline.Request) (domain.TimelinePage, error) {
	f.method, f.gotReq = "get", req
	return f.page, f.err
}

func (f *fakeService) GetForYou(_ context.Context, req timeline.Request) (domain.TimelinePage, error) {
	f.method, f.gotReq = "foryou", req
	return f.page, f.err
}

func (f *fakeService) GetFollowing(_ context.Context, req timeline.Request) (domain.TimelinePage, error) {
	f.method, f.gotReq = "following", req
	return f.page, f.err
}

func (f *fakeService) Refresh(_ context.Context, viewerID string, since time.Time, maxItems int) (domain.TimelinePage, error) {
	f.method, f.gotViewer, f.gotSince, f.gotMax = "refresh", viewerID, since, maxItems
	return f.page, f.err
}

func (f *fakeService) MarkRead(_ context.Context, viewerID string, readUntil time.Time) error {
	f.method, f.gotViewer, f.gotRead = "read", viewerID, readUntil
	return f.err
}

func (f *fakeService) RecordEngagement(_ context.Context, viewerID, noteID string, action domain.EngagementAction, duration time.Duration) error {
	f.method, f.gotViewer, f.gotNote, f.gotAction, f.gotDuration = "engagement", viewerID, noteID, action, duration
	return f.err
}

func (f *fakeService) Preferences(_ context.Context, viewerID string) (domain.FilterPreferences, error) {
	f.method, f.gotViewer = "preferences", viewerID
	return f.prefs, f.err
}

func (f *fakeService) UpdatePreferences(_ context.Context, viewerID string, prefs domain.FilterPreferences) error {
	f.method, f.gotViewer, f.gotPrefs = "update_preferences", viewerID, prefs
	return f.err
}

type fakeSink struct {
	tasks []domain.FanoutTask
}

func (f *fakeSink) Push(task domain.FanoutTask) {
	f.tasks = append(f.tasks, task)
}
