package web

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/crypto/bcrypt"

	"github.com/sweeney/irrigation-scheduler/internal/auth"
	"github.com/sweeney/irrigation-scheduler/internal/logic"
	"github.com/sweeney/irrigation-scheduler/internal/metrics"
	"github.com/sweeney/irrigation-scheduler/internal/status"
	"github.com/sweeney/irrigation-scheduler/internal/store"
)

var brt = time.FixedZone("BRT", -3*60*60)

type testEnv struct {
	ts      *httptest.Server
	tracker *status.Tracker
	store   *store.Memory
	now     time.Time
}

func newTestServer(t *testing.T, rateLimit int) *testEnv {
	t.Helper()
	env := &testEnv{now: time.Date(2026, 1, 5, 5, 59, 0, 0, brt)} // Monday
	clock := func() time.Time { return env.now }

	env.store = store.NewMemory(clock)
	env.tracker = status.NewTracker(env.now, status.Config{
		Timezone:     "America/Sao_Paulo",
		PollSchedule: "* * * * *",
		HeartbeatMs:  900000,
		Broker:       "tcp://192.168.1.200:1883",
		Listen:       ":5000",
		StoreDriver:  "memory",
	}, clock)

	svc := auth.NewService(env.store, auth.Options{InviteCode: "IRRIGACAO2025", Secret: "test", TTL: time.Hour, BcryptCost: bcrypt.MinCost})
	srv := New(":0", Options{
		Tracker:         env.tracker,
		Store:           env.store,
		Auth:            svc,
		Metrics:         metrics.New(),
		Location:        brt,
		Clock:           clock,
		StatusRateLimit: rateLimit,
	})
	env.ts = httptest.NewServer(srv.Handler())
	t.Cleanup(env.ts.Close)
	return env
}

func (env *testEnv) do(t *testing.T, method, path string, body interface{}, token string) (int, map[string]interface{}) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, env.ts.URL+path, rd)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	var out map[string]interface{}
	json.Unmarshal(raw, &out)
	return resp.StatusCode, out
}

func (env *testEnv) register(t *testing.T, nome, email string) {
	t.Helper()
	code, body := env.do(t, http.MethodPost, "/register", map[string]string{
		"nome": nome, "email": email, "senha": "segredo1", "confirmar_senha": "segredo1", "codigo": "IRRIGACAO2025",
	}, "")
	if code != http.StatusCreated {
		t.Fatalf("register %s: got %d %v", email, code, body)
	}
}

func (env *testEnv) login(t *testing.T, email string) string {
	t.Helper()
	code, body := env.do(t, http.MethodPost, "/login", map[string]string{"email": email, "senha": "segredo1"}, "")
	if code != http.StatusOK {
		t.Fatalf("login %s: got %d %v", email, code, body)
	}
	tok, _ := body["token"].(string)
	if tok == "" {
		t.Fatalf("login %s: no token in %v", email, body)
	}
	return tok
}

func TestStatus_Idle(t *testing.T) {
	env := newTestServer(t, 0)
	code, body := env.do(t, http.MethodGet, "/status", nil, "")
	if code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", code)
	}
	if body["regar"] != false {
		t.Errorf("regar: got %v, want false", body["regar"])
	}
	if body["timestamp"] != "2026-01-05T05:59:00-03:00" {
		t.Errorf("timestamp: got %v", body["timestamp"])
	}
	if _, ok := body["duracao"]; ok {
		t.Error("duracao present while idle")
	}
}

func TestStatus_Watering(t *testing.T) {
	env := newTestServer(t, 0)
	start := time.Date(2026, 1, 5, 6, 0, 0, 0, brt)
	env.tracker.Update(logic.Session{
		Active:    true,
		EntryID:   "e1",
		EntryTime: logic.TimeOfDay{Hour: 6},
		Duration:  10 * time.Minute,
		StartedAt: start,
		EndsAt:    start.Add(10 * time.Minute),
	}, logic.Counts{Started: 1}, start)
	env.now = start.Add(3 * time.Minute)

	_, body := env.do(t, http.MethodGet, "/status", nil, "")
	if body["regar"] != true {
		t.Errorf("regar: got %v, want true", body["regar"])
	}
	if body["duracao"] != float64(600) {
		t.Errorf("duracao: got %v, want 600", body["duracao"])
	}
	if body["restante"] != float64(420) {
		t.Errorf("restante: got %v, want 420", body["restante"])
	}
	if body["inicio"] != "2026-01-05T06:00:00-03:00" {
		t.Errorf("inicio: got %v", body["inicio"])
	}

	// Past the deadline the device sees idle even before the next tick.
	env.now = start.Add(10 * time.Minute)
	_, body = env.do(t, http.MethodGet, "/status", nil, "")
	if body["regar"] != false {
		t.Errorf("after deadline regar: got %v, want false", body["regar"])
	}
}

func TestStatus_RateLimited(t *testing.T) {
	env := newTestServer(t, 1)
	env.do(t, http.MethodGet, "/status", nil, "")
	code, _ := env.do(t, http.MethodGet, "/status", nil, "")
	if code != http.StatusTooManyRequests {
		t.Errorf("second request: got %d, want 429", code)
	}
}

func TestPublicEntries_EnabledOnly(t *testing.T) {
	env := newTestServer(t, 0)
	env.register(t, "Ana Souza", "ana@example.com")
	tok := env.login(t, "ana@example.com")

	env.do(t, http.MethodPost, "/adicionar_horario", map[string]interface{}{"hora": "06:00", "duracao": 600, "dias_semana": "Seg,Sex"}, tok)
	_, added := env.do(t, http.MethodPost, "/adicionar_horario", map[string]interface{}{"hora": "18:00"}, tok)
	id := added["horario"].(map[string]interface{})["id"].(string)
	env.do(t, http.MethodPut, "/ativar_horario/"+id, map[string]bool{"ativo": false}, tok)

	resp, err := http.Get(env.ts.URL + "/api/horarios")
	if err != nil {
		t.Fatalf("GET /api/horarios: %v", err)
	}
	defer resp.Body.Close()
	var list []horarioJSON
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("entries: got %d, want 1", len(list))
	}
	want := horarioJSON{ID: list[0].ID, Hora: "06:00", Duracao: 600, DiasSemana: "Seg,Sex", Ativo: true}
	if list[0] != want {
		t.Errorf("entry: got %+v, want %+v", list[0], want)
	}
}

func TestPublicEntries_EmptyIsArray(t *testing.T) {
	env := newTestServer(t, 0)
	resp, err := http.Get(env.ts.URL + "/api/horarios")
	if err != nil {
		t.Fatalf("GET /api/horarios: %v", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if strings.TrimSpace(string(raw)) != "[]" {
		t.Errorf("body: got %q, want []", raw)
	}
}

func TestCalendarFeed(t *testing.T) {
	env := newTestServer(t, 0)
	env.register(t, "Ana Souza", "ana@example.com")
	tok := env.login(t, "ana@example.com")
	env.do(t, http.MethodPost, "/adicionar_horario", map[string]interface{}{"hora": "06:00", "dias_semana": "Seg"}, tok)

	resp, err := http.Get(env.ts.URL + "/api/horarios.ics")
	if err != nil {
		t.Fatalf("GET /api/horarios.ics: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/calendar") {
		t.Errorf("Content-Type: got %q", ct)
	}
	raw, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(raw), "BYDAY=MO") {
		t.Errorf("feed missing RRULE:\n%s", raw)
	}
}

func TestOwnerFlow(t *testing.T) {
	env := newTestServer(t, 0)
	env.register(t, "Ana Souza", "ana@example.com")

	code, body := env.do(t, http.MethodPost, "/register", map[string]string{
		"nome": "Outra", "email": "ANA@example.com", "senha": "segredo1", "confirmar_senha": "segredo1", "codigo": "IRRIGACAO2025",
	}, "")
	if code != http.StatusBadRequest || body["erro"] != "Este email já está cadastrado" {
		t.Errorf("duplicate register: got %d %v", code, body)
	}

	code, body = env.do(t, http.MethodPost, "/login", map[string]string{"email": "ana@example.com", "senha": "errada"}, "")
	if code != http.StatusUnauthorized || body["erro"] != "Email ou senha incorretos" {
		t.Errorf("bad login: got %d %v", code, body)
	}

	tok := env.login(t, "ana@example.com")

	code, body = env.do(t, http.MethodPost, "/adicionar_horario", map[string]interface{}{"hora": "06:00"}, tok)
	if code != http.StatusCreated || body["sucesso"] != true {
		t.Fatalf("add: got %d %v", code, body)
	}
	h := body["horario"].(map[string]interface{})
	if h["duracao"] != float64(600) || h["dias_semana"] != "Seg,Sex" {
		t.Errorf("defaults: got %v", h)
	}
	id := h["id"].(string)

	code, body = env.do(t, http.MethodGet, "/dashboard", nil, tok)
	if code != http.StatusOK {
		t.Fatalf("dashboard: got %d %v", code, body)
	}
	if body["horario_atual"] != "05/01/2026 05:59:00" {
		t.Errorf("horario_atual: got %v", body["horario_atual"])
	}
	if body["status"] != "Aguardando próximo horário" {
		t.Errorf("status: got %v", body["status"])
	}
	if body["total_horarios"] != float64(1) || body["horarios_ativos"] != float64(1) {
		t.Errorf("totals: got %v / %v", body["total_horarios"], body["horarios_ativos"])
	}
	next, _ := body["proximo_horario"].(map[string]interface{})
	if next == nil || next["em"] != "2026-01-05T06:00:00-03:00" {
		t.Errorf("proximo_horario: got %v", body["proximo_horario"])
	}

	// Another owner may not touch the entry.
	env.register(t, "Bia Lima", "bia@example.com")
	other := env.login(t, "bia@example.com")
	code, body = env.do(t, http.MethodPut, "/ativar_horario/"+id, map[string]bool{"ativo": false}, other)
	if code != http.StatusForbidden || body["erro"] != "Não autorizado" {
		t.Errorf("foreign toggle: got %d %v", code, body)
	}
	code, _ = env.do(t, http.MethodDelete, "/deletar_horario/"+id, nil, other)
	if code != http.StatusForbidden {
		t.Errorf("foreign delete: got %d, want 403", code)
	}

	code, body = env.do(t, http.MethodPut, "/ativar_horario/"+id, map[string]bool{}, tok)
	if code != http.StatusBadRequest {
		t.Errorf("toggle without ativo: got %d %v", code, body)
	}
	code, _ = env.do(t, http.MethodPut, "/ativar_horario/"+id, map[string]bool{"ativo": false}, tok)
	if code != http.StatusOK {
		t.Errorf("toggle: got %d, want 200", code)
	}

	req, err := http.NewRequest(http.MethodGet, env.ts.URL+"/horarios", nil)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Authorization", "Bearer "+tok)
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /horarios: %v", err)
	}
	var list []horarioJSON
	json.NewDecoder(res.Body).Decode(&list)
	res.Body.Close()
	if len(list) != 1 || list[0].Ativo {
		t.Errorf("owner list: got %+v", list)
	}

	code, _ = env.do(t, http.MethodDelete, "/deletar_horario/"+id, nil, tok)
	if code != http.StatusOK {
		t.Errorf("delete: got %d, want 200", code)
	}
	code, body = env.do(t, http.MethodDelete, "/deletar_horario/"+id, nil, tok)
	if code != http.StatusNotFound {
		t.Errorf("delete again: got %d %v", code, body)
	}

	code, _ = env.do(t, http.MethodPost, "/logout", nil, tok)
	if code != http.StatusOK {
		t.Errorf("logout: got %d, want 200", code)
	}
	code, _ = env.do(t, http.MethodGet, "/dashboard", nil, tok)
	if code != http.StatusUnauthorized {
		t.Errorf("after logout: got %d, want 401", code)
	}
}

func TestOwnerRoutesRequireAuth(t *testing.T) {
	env := newTestServer(t, 0)
	for _, path := range []string{"/dashboard", "/horarios"} {
		code, body := env.do(t, http.MethodGet, path, nil, "")
		if code != http.StatusUnauthorized || body["sucesso"] != false {
			t.Errorf("%s: got %d %v", path, code, body)
		}
	}
}

func TestAddEntry_Validation(t *testing.T) {
	env := newTestServer(t, 0)
	env.register(t, "Ana Souza", "ana@example.com")
	tok := env.login(t, "ana@example.com")

	tests := []struct {
		body interface{}
		want string
	}{
		{map[string]interface{}{"hora": "25:00"}, "Horário inválido, use HH:MM"},
		{map[string]interface{}{"hora": "06:00", "duracao": 0}, "Duração deve ser maior que zero"},
		{map[string]interface{}{"hora": "06:00", "dias_semana": "Foo"}, "Dias da semana inválidos"},
		{"not an object", "Requisição inválida"},
	}
	for _, tt := range tests {
		code, body := env.do(t, http.MethodPost, "/adicionar_horario", tt.body, tok)
		if code != http.StatusBadRequest || body["erro"] != tt.want {
			t.Errorf("%v: got %d %v, want 400 %q", tt.body, code, body, tt.want)
		}
	}
}

func TestRegister_InviteCode(t *testing.T) {
	env := newTestServer(t, 0)
	code, body := env.do(t, http.MethodPost, "/register", map[string]string{
		"nome": "Ana", "email": "ana@example.com", "senha": "segredo1", "confirmar_senha": "segredo1", "codigo": "ERRADO",
	}, "")
	if code != http.StatusBadRequest || body["erro"] != "Código de convite inválido" {
		t.Errorf("got %d %v", code, body)
	}
}

func TestIndexJSON(t *testing.T) {
	env := newTestServer(t, 0)
	env.tracker.SetMQTTConnected(true)

	resp, err := http.Get(env.ts.URL + "/index.json")
	if err != nil {
		t.Fatalf("GET /index.json: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type: got %q, want application/json", ct)
	}
	var sj status.StatusJSON
	if err := json.NewDecoder(resp.Body).Decode(&sj); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	if sj.Status.State != "IDLE" {
		t.Errorf("State: got %q, want IDLE", sj.Status.State)
	}
	if !sj.Status.MQTT.Connected {
		t.Error("expected MQTT.Connected=true")
	}
	if sj.Status.Config.Timezone != "America/Sao_Paulo" {
		t.Errorf("Config.Timezone: got %q", sj.Status.Config.Timezone)
	}
}

func TestHTMLEndpoints(t *testing.T) {
	env := newTestServer(t, 0)
	for _, path := range []string{"/", "/index.html"} {
		resp, err := http.Get(env.ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		raw, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if resp.StatusCode != 200 {
			t.Errorf("%s status: got %d, want 200", path, resp.StatusCode)
		}
		if !strings.Contains(string(raw), "Aguardando próximo horário") {
			t.Errorf("%s: idle text missing", path)
		}
	}
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestServer(t, 0)
	resp, err := http.Get(env.ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	raw, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(raw) != "OK" {
		t.Errorf("health: got %q, want OK", raw)
	}

	resp, err = http.Get(env.ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	raw, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(raw), `irrigation_http_requests_total{code="200",route="/health"} 1`) {
		t.Errorf("metrics missing request counter:\n%s", raw)
	}
}

func TestNotFoundForUnknownPath(t *testing.T) {
	env := newTestServer(t, 0)
	resp, err := http.Get(env.ts.URL + "/nonexistent")
	if err != nil {
		t.Fatalf("GET /nonexistent: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != 404 {
		t.Errorf("status: got %d, want 404", resp.StatusCode)
	}
}

func TestErrorStatus(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{store.ErrForbidden, http.StatusForbidden},
		{store.ErrNotFound, http.StatusNotFound},
		{store.ErrEmailTaken, http.StatusBadRequest},
		{auth.ErrRevoked, http.StatusUnauthorized},
		{&auth.InputError{Message: "x"}, http.StatusBadRequest},
		{context.DeadlineExceeded, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if code, _ := errorStatus(tt.err); code != tt.code {
			t.Errorf("errorStatus(%v): got %d, want %d", tt.err, code, tt.code)
		}
	}
}
