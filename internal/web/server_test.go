package web

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/JonMunkholm/catalogimport/internal/config"
	"github.com/JonMunkholm/catalogimport/internal/core"
	"github.com/JonMunkholm/catalogimport/internal/schema"
	"github.com/JonMunkholm/catalogimport/internal/store"
)

const catalogCSV = "Name,Category,Daily Rate,Image\n" +
	"Concrete Mixer,Concrete Mixers,\"R$ 1.234,56\",https://img.example/mixer.jpg\n" +
	",Concrete Mixers,10,https://img.example/blank.jpg\n" +
	"Scaffold Tower,Scaffolding,20,https://img.example/tower.png\n"

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{RequestTimeout: 5 * time.Second},
		Import: config.ImportConfig{MaxFileSize: 1 << 20},
		Rate:   config.RateLimitConfig{Enabled: false},
	}
}

func newTestServer(t *testing.T, cfg *config.Config) (*Server, *core.Service) {
	t.Helper()
	mem := store.NewMemory(nil)
	if err := mem.Migrate(context.Background(), store.CatalogTables(schema.Default())); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	mem.Seed("categories", store.Row{"id": "cat-mixers", "name": "Concrete Mixers"})

	svc := core.NewService(mem, schema.Default(), nil, core.ServiceConfig{}, nil)
	srv := NewServer(svc, cfg)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	return srv, svc
}

func multipartBody(t *testing.T, field, name string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile(field, name)
	if err != nil {
		t.Fatalf("CreateFormFile() error = %v", err)
	}
	part.Write(data)
	if err := mw.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	return &buf, mw.FormDataContentType()
}

func do(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == nil {
		req = httptest.NewRequest(method, path, nil)
	} else {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		req = httptest.NewRequest(method, path, bytes.NewReader(b))
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("User-Agent", "catalog-test")
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func createSession(t *testing.T, srv *Server) core.SourceReport {
	t.Helper()
	body, contentType := multipartBody(t, "file", "catalog.csv", []byte(catalogCSV))
	req := httptest.NewRequest(http.MethodPost, "/api/sessions", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("POST /api/sessions = %d: %s", rec.Code, rec.Body.String())
	}
	return decode[core.SourceReport](t, rec)
}

func TestServer_ImportFlow(t *testing.T) {
	srv, _ := newTestServer(t, testConfig())

	src := createSession(t, srv)
	if src.Rows != 3 || src.SessionID == "" {
		t.Fatalf("source report = %+v, want 3 rows and a session id", src)
	}
	base := "/api/sessions/" + src.SessionID

	raw := make(map[string]string, len(src.Suggested))
	for f, h := range src.Suggested {
		raw[string(f)] = h
	}
	steps := []struct {
		method string
		path   string
		body   any
		want   int
	}{
		{http.MethodPut, base + "/mapping", map[string]any{"mapping": raw}, http.StatusOK},
		{http.MethodPost, base + "/references", nil, http.StatusOK},
		{http.MethodPost, base + "/validate", nil, http.StatusOK},
		{http.MethodPost, base + "/autofix", map[string]any{"rows": []int{0}}, http.StatusOK},
		{http.MethodPost, base + "/preview", nil, http.StatusOK},
	}
	for _, step := range steps {
		if rec := do(t, srv, step.method, step.path, step.body); rec.Code != step.want {
			t.Fatalf("%s %s = %d, want %d: %s", step.method, step.path, rec.Code, step.want, rec.Body.String())
		}
	}

	rec := do(t, srv, http.MethodPost, base+"/import", nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("POST import = %d: %s", rec.Code, rec.Body.String())
	}
	runID := decode[map[string]string](t, rec)["runId"]

	rec = do(t, srv, http.MethodGet, "/api/runs/"+runID+"/result", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET result = %d: %s", rec.Code, rec.Body.String())
	}
	result := decode[core.RunResult](t, rec)
	if result.Phase != core.PhaseCompleted || result.Import == nil || result.Import.Succeeded != 2 {
		t.Errorf("result = %+v, want completed with 2 succeeded", result)
	}

	// The finished run replays its final state and completes the stream.
	rec = do(t, srv, http.MethodGet, "/api/runs/"+runID+"/progress", nil)
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("progress Content-Type = %q", ct)
	}
	stream := rec.Body.String()
	if !strings.Contains(stream, "event: progress") || !strings.Contains(stream, "event: complete") {
		t.Errorf("progress stream = %q, want progress and complete events", stream)
	}

	rec = do(t, srv, http.MethodGet, base+"/outcome", nil)
	outcome := decode[core.ImportOutcome](t, rec)
	if outcome.Succeeded != 2 || outcome.Failed != 0 {
		t.Errorf("outcome = %+v, want 2 succeeded", outcome)
	}

	rec = do(t, srv, http.MethodGet, base+"/failures.csv", nil)
	if rec.Code != http.StatusOK || !strings.HasPrefix(rec.Body.String(), "_line,_error,record_id,name") {
		t.Errorf("failures.csv = %d %q", rec.Code, rec.Body.String())
	}

	rec = do(t, srv, http.MethodGet, "/api/audit-log?session="+src.SessionID, nil)
	audit := decode[struct {
		Entries []core.AuditEntry `json:"entries"`
	}](t, rec)
	if len(audit.Entries) != 3 {
		t.Fatalf("audit entries = %d, want 3", len(audit.Entries))
	}
	if audit.Entries[0].Action != core.ActionImportFinished || audit.Entries[0].UserAgent != "catalog-test" {
		t.Errorf("newest audit entry = %+v", audit.Entries[0])
	}
}

func TestServer_ErrorResponses(t *testing.T) {
	srv, _ := newTestServer(t, testConfig())
	src := createSession(t, srv)
	base := "/api/sessions/" + src.SessionID

	tests := []struct {
		name     string
		method   string
		path     string
		body     any
		wantCode int
		wantErr  string
	}{
		{"unknown session", http.MethodGet, "/api/sessions/imp-missing", nil, http.StatusNotFound, "SES001"},
		{"unknown run", http.MethodGet, "/api/runs/run-missing", nil, http.StatusNotFound, "SES004"},
		{"step out of order", http.MethodPost, base + "/validate", nil, http.StatusConflict, "SES002"},
		{"import before preview", http.MethodPost, base + "/import", nil, http.StatusConflict, "SES002"},
		{"media disabled", http.MethodPost, base + "/media", nil, http.StatusNotImplemented, "MED004"},
		{"empty mapping", http.MethodPut, base + "/mapping", map[string]any{"mapping": map[string]string{}}, http.StatusBadRequest, "VAL003"},
		{"unknown body field", http.MethodPut, base + "/mapping", map[string]any{"colour": "red"}, http.StatusBadRequest, "VAL003"},
		{"incomplete mapping", http.MethodPut, base + "/mapping", map[string]any{"mapping": map[string]string{"brand": "Category"}}, http.StatusUnprocessableEntity, "MAP001"},
		{"unknown template", http.MethodGet, "/api/templates/nope", nil, http.StatusNotFound, "TPL001"},
		{"template without name", http.MethodPost, "/api/templates", map[string]any{"mapping": map[string]string{"name": "Name"}}, http.StatusBadRequest, "VAL003"},
		{"no outcome yet", http.MethodGet, base + "/outcome", nil, http.StatusConflict, "SES002"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, srv, tt.method, tt.path, tt.body)
			if rec.Code != tt.wantCode {
				t.Errorf("status = %d, want %d: %s", rec.Code, tt.wantCode, rec.Body.String())
			}
			resp := decode[ErrorResponse](t, rec)
			if resp.Code != tt.wantErr {
				t.Errorf("code = %q, want %q", resp.Code, tt.wantErr)
			}
			if resp.RequestID == "" {
				t.Error("error response should carry the request id")
			}
		})
	}
}

func TestServer_CreateSessionRejectsBadUploads(t *testing.T) {
	cfg := testConfig()
	cfg.Import.MaxFileSize = 512
	srv, svc := newTestServer(t, cfg)

	// Missing file part
	req := httptest.NewRequest(http.MethodPost, "/api/sessions", strings.NewReader("--x--\r\n"))
	req.Header.Set("Content-Type", "multipart/form-data; boundary=x")
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("no file: status = %d, want 400: %s", rec.Code, rec.Body.String())
	}

	// Over the size limit
	body, contentType := multipartBody(t, "file", "catalog.csv", []byte(strings.Repeat(catalogCSV, 4)))
	req = httptest.NewRequest(http.MethodPost, "/api/sessions", body)
	req.Header.Set("Content-Type", contentType)
	rec = httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("too large: status = %d, want 413: %s", rec.Code, rec.Body.String())
	}

	// Empty source: the session is discarded with the structural error
	body, contentType = multipartBody(t, "file", "empty.csv", []byte(""))
	req = httptest.NewRequest(http.MethodPost, "/api/sessions", body)
	req.Header.Set("Content-Type", contentType)
	rec = httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("empty: status = %d, want 422: %s", rec.Code, rec.Body.String())
	}

	if n := len(svc.ListSessions()); n != 0 {
		t.Errorf("sessions = %d, want 0 after failed uploads", n)
	}
}

func TestServer_Templates(t *testing.T) {
	srv, _ := newTestServer(t, testConfig())
	src := createSession(t, srv)

	rec := do(t, srv, http.MethodPost, "/api/templates", map[string]any{
		"name":    "Rental export",
		"mapping": map[string]string{"name": "Name", "Category": "Category"},
		"headers": []string{"Name", "Category", "Daily Rate", "Image"},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("POST /api/templates = %d: %s", rec.Code, rec.Body.String())
	}
	tpl := decode[core.ImportTemplate](t, rec)

	rec = do(t, srv, http.MethodPost, "/api/templates", map[string]any{
		"name":    "Rental export",
		"mapping": map[string]string{"name": "Name"},
	})
	if rec.Code != http.StatusConflict || decode[ErrorResponse](t, rec).Code != "TPL002" {
		t.Errorf("duplicate template = %d %s, want 409 TPL002", rec.Code, rec.Body.String())
	}

	rec = do(t, srv, http.MethodGet, "/api/sessions/"+src.SessionID+"/templates", nil)
	matches := decode[[]core.TemplateMatch](t, rec)
	if len(matches) != 1 || matches[0].Template.ID != tpl.ID {
		t.Fatalf("matches = %+v, want the saved template", matches)
	}

	rec = do(t, srv, http.MethodPost, "/api/sessions/"+src.SessionID+"/templates/"+tpl.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("apply template = %d: %s", rec.Code, rec.Body.String())
	}
	report := decode[core.MappingReport](t, rec)
	if report.Mapping[schema.FieldCategory] != "Category" {
		t.Errorf("mapping = %v, want category from template", report.Mapping)
	}

	rec = do(t, srv, http.MethodGet, "/api/templates", nil)
	if list := decode[[]core.ImportTemplate](t, rec); len(list) != 1 {
		t.Errorf("templates = %d, want 1", len(list))
	}
}

func TestServer_RateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.Rate = config.RateLimitConfig{Enabled: true, RequestsPerMinute: 2, UploadLimit: 1}
	srv, _ := newTestServer(t, cfg)

	for i := 0; i < 2; i++ {
		if rec := do(t, srv, http.MethodGet, "/healthz", nil); rec.Code != http.StatusOK {
			t.Fatalf("request %d = %d, want 200", i, rec.Code)
		}
	}
	rec := do(t, srv, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("third request = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("429 should set Retry-After")
	}
	if resp := decode[ErrorResponse](t, rec); resp.Code != "RATE001" {
		t.Errorf("code = %q, want RATE001", resp.Code)
	}
}

func TestServer_SchemaAndHealth(t *testing.T) {
	srv, _ := newTestServer(t, testConfig())

	rec := do(t, srv, http.MethodGet, "/api/schema", nil)
	var sc struct {
		Table  string          `json:"table"`
		Fields []fieldResponse `json:"fields"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &sc); err != nil {
		t.Fatalf("decode schema: %v", err)
	}
	if sc.Table != schema.EquipmentTable || len(sc.Fields) != len(schema.Default().Fields) {
		t.Errorf("schema = %s with %d fields", sc.Table, len(sc.Fields))
	}

	rec = do(t, srv, http.MethodGet, "/healthz", nil)
	health := decode[map[string]any](t, rec)
	if health["status"] != "ok" || health["media"] != false {
		t.Errorf("health = %v", health)
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("security headers missing")
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{core.ErrSessionNotFound, http.StatusNotFound},
		{core.ErrTemplateNotFound, http.StatusNotFound},
		{core.ErrSessionBusy, http.StatusConflict},
		{core.ErrTemplateExists, http.StatusConflict},
		{core.ErrTooManyRuns, http.StatusServiceUnavailable},
		{&core.StructuralError{Reason: "empty file"}, http.StatusUnprocessableEntity},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{errFileTooBig, http.StatusRequestEntityTooLarge},
		{errNoFile, http.StatusBadRequest},
		{context.Canceled, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
