package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
)

type fakeModel struct {
	loaded bool
	err    error
}

func (f fakeModel) Loaded() bool     { return f.loaded }
func (f fakeModel) LoadError() error { return f.err }

func TestHealth_ModelLoaded(t *testing.T) {
	h := New(fakeModel{loaded: true})
	rec := httptest.NewRecorder()
	h.Health(rec, httptest.NewRequest("GET", "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	got := strings.TrimSpace(rec.Body.String())
	if got != `{"status":"ok","stt_model_loaded":true}` {
		t.Errorf("body = %s", got)
	}
}

func TestHealth_ModelNotLoaded(t *testing.T) {
	h := New(fakeModel{err: errors.New("file not found")})
	rec := httptest.NewRecorder()
	h.Health(rec, httptest.NewRequest("GET", "/health", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	var body modelResult
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	if body.Status != "error" || body.STTModelLoaded {
		t.Errorf("body = %+v", body)
	}
	if !strings.Contains(body.Detail, "file not found") {
		t.Errorf("detail = %q, want load error included", body.Detail)
	}
}

func TestHealth_NilModel(t *testing.T) {
	h := New(nil)
	rec := httptest.NewRecorder()
	h.Health(rec, httptest.NewRequest("GET", "/health", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestHealthz_AlwaysReturns200(t *testing.T) {
	h := New(nil)
	rec := httptest.NewRecorder()
	h.Healthz(rec, httptest.NewRequest("GET", "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
}

func TestReadyz(t *testing.T) {
	tests := []struct {
		name       string
		checkers   []Checker
		wantStatus int
		wantChecks map[string]string
	}{
		{
			name: "all pass",
			checkers: []Checker{
				{Name: "stt_model", Check: func(context.Context) error { return nil }},
				{Name: "storage", Check: func(context.Context) error { return nil }},
			},
			wantStatus: http.StatusOK,
			wantChecks: map[string]string{"stt_model": "ok", "storage": "ok"},
		},
		{
			name: "one fails",
			checkers: []Checker{
				{Name: "stt_model", Check: func(context.Context) error { return nil }},
				{Name: "storage", Check: func(context.Context) error { return errors.New("connection refused") }},
			},
			wantStatus: http.StatusServiceUnavailable,
			wantChecks: map[string]string{"stt_model": "ok", "storage": "fail: connection refused"},
		},
		{
			name:       "no checkers",
			wantStatus: http.StatusOK,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := New(nil, tt.checkers...)
			rec := httptest.NewRecorder()
			h.Readyz(rec, httptest.NewRequest("GET", "/readyz", nil))

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			var body result
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatalf("decode JSON: %v", err)
			}
			for k, v := range tt.wantChecks {
				if body.Checks[k] != v {
					t.Errorf("checks[%q] = %q, want %q", k, body.Checks[k], v)
				}
			}
		})
	}
}

func TestReadyz_CheckerSeesDeadline(t *testing.T) {
	h := New(nil, Checker{Name: "deadline", Check: func(ctx context.Context) error {
		if _, ok := ctx.Deadline(); !ok {
			return errors.New("no deadline")
		}
		return nil
	}})
	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest("GET", "/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestRegister_Routes(t *testing.T) {
	r := chi.NewRouter()
	New(fakeModel{loaded: true}).Register(r)

	for _, path := range []string{"/health", "/healthz", "/readyz"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest("GET", path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("GET %s = %d, want 200", path, rec.Code)
		}
	}
}
