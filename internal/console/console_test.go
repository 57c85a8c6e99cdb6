package console_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/voicedeck/voicedeck/internal/console"
	"github.com/voicedeck/voicedeck/internal/live"
	"github.com/voicedeck/voicedeck/internal/observe"
	"github.com/voicedeck/voicedeck/internal/persona"
	"github.com/voicedeck/voicedeck/internal/sessionlog"
	"github.com/voicedeck/voicedeck/pkg/audio"
	audiomock "github.com/voicedeck/voicedeck/pkg/audio/mock"
	"github.com/voicedeck/voicedeck/pkg/provider/realtime"
	rtmock "github.com/voicedeck/voicedeck/pkg/provider/realtime/mock"
)

type fixture struct {
	srv      *httptest.Server
	mic      *audiomock.Microphone
	speaker  *audiomock.Speaker
	prov     *rtmock.Provider
	catalog  *persona.Catalog
	sessions *sessionlog.MemStore
	manager  *live.Manager
}

func newFixture(t *testing.T, extra ...console.Checker) *fixture {
	t.Helper()
	met, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	f := &fixture{
		mic:     &audiomock.Microphone{},
		speaker: &audiomock.Speaker{},
		prov: &rtmock.Provider{VoiceList: []realtime.Voice{
			{ID: "Kore", Name: "Kore"},
			{ID: "Puck", Name: "Puck"},
		}},
		catalog:  persona.NewCatalog(nil),
		sessions: sessionlog.NewMemStore(0),
	}
	if err := f.catalog.Upsert(context.Background(), persona.Premade()...); err != nil {
		t.Fatalf("seed catalog: %v", err)
	}
	f.manager = live.NewManager(live.Config{
		Provider:   f.prov,
		Microphone: f.mic,
		Speaker:    f.speaker,
		Cue:        &audiomock.CuePlayer{},
		Archive:    f.sessions,
		Metrics:    met,
	})
	t.Cleanup(f.manager.EndSession)

	s := console.New(console.Config{
		Live:     f.manager,
		Catalog:  f.catalog,
		Sessions: f.sessions,
		Voices:   f.prov.Voices,
		Checks:   extra,
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			io.WriteString(w, "# metrics\n")
		}),
		Observe: met,
	})
	f.srv = httptest.NewServer(s.Handler())
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string) *http.Response {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, f.srv.URL+path, r)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	return v
}

type apiError struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// ── Personas ─────────────────────────────────────────────────────────────────

func TestPersonas_List(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	resp := f.do(t, http.MethodGet, "/api/personas", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	body := decode[struct {
		Mode     string            `json:"mode"`
		Personas []persona.Persona `json:"personas"`
	}](t, resp)
	if body.Mode != "local" {
		t.Errorf("mode = %q, want local", body.Mode)
	}
	if len(body.Personas) != 3 || body.Personas[0].ID != "premade-agent-01" {
		t.Errorf("personas = %+v", body.Personas)
	}
}

func TestPersonas_GetMissing(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	if resp := f.do(t, http.MethodGet, "/api/personas/nope", ""); resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestPersonas_PutAndDelete(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"invalid json", "{", http.StatusBadRequest},
		{"missing prompt", `{"name":"Nova"}`, http.StatusBadRequest},
		{"unknown voice", `{"name":"Nova","voice":"Nope","system_prompt":"Be Nova."}`, http.StatusBadRequest},
		{"valid", `{"id":"ignored","name":"Nova","voice":"Puck","system_prompt":"Be Nova."}`, http.StatusOK},
	}
	for _, tc := range tests {
		resp := f.do(t, http.MethodPut, "/api/personas/desk-nova", tc.body)
		if resp.StatusCode != tc.want {
			t.Errorf("%s: status = %d, want %d", tc.name, resp.StatusCode, tc.want)
		}
	}

	got := decode[persona.Persona](t, f.do(t, http.MethodGet, "/api/personas/desk-nova", ""))
	if got.ID != "desk-nova" || got.Voice != "Puck" {
		t.Errorf("persona = %+v", got)
	}

	if resp := f.do(t, http.MethodDelete, "/api/personas/desk-nova", ""); resp.StatusCode != http.StatusNoContent {
		t.Errorf("delete status = %d, want 204", resp.StatusCode)
	}
	if resp := f.do(t, http.MethodGet, "/api/personas/desk-nova", ""); resp.StatusCode != http.StatusNotFound {
		t.Errorf("get after delete status = %d, want 404", resp.StatusCode)
	}
}

func TestVoices(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	voices := decode[[]realtime.Voice](t, f.do(t, http.MethodGet, "/api/voices", ""))
	if len(voices) != 2 || voices[0].ID != "Kore" {
		t.Errorf("voices = %+v", voices)
	}
}

// ── Live session ─────────────────────────────────────────────────────────────

func TestLive_StartEnd(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	snap := decode[live.Snapshot](t, f.do(t, http.MethodGet, "/api/live", ""))
	if snap.State != live.StateIdle || snap.IsSessionActive {
		t.Fatalf("initial snapshot = %+v", snap)
	}

	resp := f.do(t, http.MethodPost, "/api/live/start", `{"persona_id":"premade-agent-01"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("start status = %d", resp.StatusCode)
	}
	snap = decode[live.Snapshot](t, resp)
	if !snap.IsSessionActive || snap.PersonaID != "premade-agent-01" {
		t.Errorf("snapshot after start = %+v", snap)
	}
	if got := f.prov.Calls()[0].Cfg.Instructions; !strings.Contains(got, "Ayla") {
		t.Errorf("instructions = %q, want the Ayla prompt", got)
	}

	resp = f.do(t, http.MethodPost, "/api/live/start", `{"persona_id":"premade-agent-02"}`)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("second start status = %d, want 409", resp.StatusCode)
	}
	if e := decode[apiError](t, resp); e.Kind != "concurrent_session" {
		t.Errorf("error kind = %q", e.Kind)
	}

	f.prov.Last().Emit(realtime.InputTranscript{Text: "Hello", Final: true})
	snap = decode[live.Snapshot](t, f.do(t, http.MethodGet, "/api/live", ""))
	if len(snap.Transcripts) != 1 || snap.Transcripts[0].Text != "Hello" {
		t.Errorf("transcripts = %+v", snap.Transcripts)
	}

	if resp := f.do(t, http.MethodPost, "/api/live/end", ""); resp.StatusCode != http.StatusNoContent {
		t.Errorf("end status = %d, want 204", resp.StatusCode)
	}
	if resp := f.do(t, http.MethodPost, "/api/live/end", ""); resp.StatusCode != http.StatusNoContent {
		t.Errorf("second end status = %d, want 204", resp.StatusCode)
	}
	snap = decode[live.Snapshot](t, f.do(t, http.MethodGet, "/api/live", ""))
	if snap.State != live.StateIdle || len(snap.Transcripts) != 0 {
		t.Errorf("snapshot after end = %+v", snap)
	}
}

func TestLive_StartFailures(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		body     string
		setup    func(*fixture)
		want     int
		wantKind string
	}{
		{name: "bad body", body: "{", want: http.StatusBadRequest},
		{name: "no persona", body: `{}`, want: http.StatusBadRequest},
		{name: "unknown persona", body: `{"persona_id":"nope"}`, want: http.StatusNotFound},
		{
			name:     "permission denied",
			body:     `{"persona_id":"premade-agent-01"}`,
			setup:    func(f *fixture) { f.mic.OpenErr = fmt.Errorf("mic: %w", audio.ErrPermissionDenied) },
			want:     http.StatusForbidden,
			wantKind: "permission_denied",
		},
		{
			name:     "no device",
			body:     `{"persona_id":"premade-agent-01"}`,
			setup:    func(f *fixture) { f.speaker.OpenErr = fmt.Errorf("out: %w", audio.ErrDeviceUnavailable) },
			want:     http.StatusServiceUnavailable,
			wantKind: "device_unavailable",
		},
		{
			name:     "transport",
			body:     `{"persona_id":"premade-agent-01"}`,
			setup:    func(f *fixture) { f.prov.ConnectErr = errors.New("dial: connection refused") },
			want:     http.StatusBadGateway,
			wantKind: "transport",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t)
			if tc.setup != nil {
				tc.setup(f)
			}
			resp := f.do(t, http.MethodPost, "/api/live/start", tc.body)
			if resp.StatusCode != tc.want {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tc.want)
			}
			e := decode[apiError](t, resp)
			if e.Error == "" || e.Kind != tc.wantKind {
				t.Errorf("error body = %+v, want kind %q", e, tc.wantKind)
			}
			if tc.wantKind != "" {
				snap := f.manager.Snapshot()
				if snap.State != live.StateIdle || snap.Error != e.Error {
					t.Errorf("snapshot = %+v, want idle with the error", snap)
				}
			}
		})
	}
}

func TestLive_Prime(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	body := decode[struct {
		Primed bool `json:"primed"`
	}](t, f.do(t, http.MethodPost, "/api/live/prime", ""))
	if !body.Primed {
		t.Error("first prime was not performed")
	}
}

func TestLive_Stream(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(f.srv.URL, "http")+"/api/live/stream", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.CloseNow()

	var snap live.Snapshot
	if err := wsjson.Read(ctx, conn, &snap); err != nil {
		t.Fatalf("read initial snapshot: %v", err)
	}
	if snap.State != live.StateIdle {
		t.Errorf("initial state = %v", snap.State)
	}

	if resp := f.do(t, http.MethodPost, "/api/live/start", `{"persona_id":"premade-agent-03"}`); resp.StatusCode != http.StatusOK {
		t.Fatalf("start status = %d", resp.StatusCode)
	}
	f.prov.Last().Emit(realtime.OutputTranscript{Text: "Hi, this is Chloe"})

	for {
		if err := wsjson.Read(ctx, conn, &snap); err != nil {
			t.Fatalf("read: %v", err)
		}
		if snap.IsSessionActive && len(snap.Transcripts) == 1 {
			break
		}
	}
	if snap.Transcripts[0].Role != live.RoleModel {
		t.Errorf("transcript = %+v", snap.Transcripts[0])
	}
	conn.Close(websocket.StatusNormalClosure, "")
}

// ── Session log ──────────────────────────────────────────────────────────────

func TestSessions(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	if recs := decode[[]live.SessionRecord](t, f.do(t, http.MethodGet, "/api/live/sessions", "")); len(recs) != 0 {
		t.Fatalf("records before any session = %+v", recs)
	}

	f.do(t, http.MethodPost, "/api/live/start", `{"persona_id":"premade-agent-02"}`)
	f.prov.Last().Emit(realtime.InputTranscript{Text: "Where is my parcel?", Final: true})
	f.do(t, http.MethodPost, "/api/live/end", "")

	recs := decode[[]live.SessionRecord](t, f.do(t, http.MethodGet, "/api/live/sessions?limit=5", ""))
	if len(recs) != 1 {
		t.Fatalf("records = %+v, want 1", recs)
	}
	if recs[0].PersonaID != "premade-agent-02" || len(recs[0].Transcripts) != 1 {
		t.Errorf("record = %+v", recs[0])
	}

	rec := decode[live.SessionRecord](t, f.do(t, http.MethodGet, "/api/live/sessions/"+recs[0].ID, ""))
	if rec.ID != recs[0].ID {
		t.Errorf("record id = %q", rec.ID)
	}
	if resp := f.do(t, http.MethodGet, "/api/live/sessions/missing", ""); resp.StatusCode != http.StatusNotFound {
		t.Errorf("missing status = %d, want 404", resp.StatusCode)
	}
	if resp := f.do(t, http.MethodGet, "/api/live/sessions?limit=x", ""); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad limit status = %d, want 400", resp.StatusCode)
	}
}

// ── Health & metrics ─────────────────────────────────────────────────────────

func TestHealthz(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	resp := f.do(t, http.MethodGet, "/healthz", "")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
}

func TestReadyz(t *testing.T) {
	t.Parallel()
	type result struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}

	f := newFixture(t, console.Checker{Name: "database", Check: func(context.Context) error { return nil }})
	resp := f.do(t, http.MethodGet, "/readyz", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	body := decode[result](t, resp)
	if body.Checks["personas"] != "ok" || body.Checks["database"] != "ok" {
		t.Errorf("checks = %v", body.Checks)
	}

	f = newFixture(t, console.Checker{Name: "database", Check: func(context.Context) error {
		return errors.New("connection refused")
	}})
	resp = f.do(t, http.MethodGet, "/readyz", "")
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", resp.StatusCode)
	}
	body = decode[result](t, resp)
	if body.Status != "fail" || !strings.HasPrefix(body.Checks["database"], "fail:") {
		t.Errorf("body = %+v", body)
	}
}

func TestMetricsRoute(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	resp := f.do(t, http.MethodGet, "/metrics", "")
	b, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || !strings.HasPrefix(string(b), "# metrics") {
		t.Errorf("GET /metrics = %d %q", resp.StatusCode, b)
	}
}
