package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/tabletalk/tabletalk/internal/config"
	"github.com/tabletalk/tabletalk/internal/maintenance"
)

func TestRetentionRunEndpoint(t *testing.T) {
	cfg, err := config.Load("tabletalk-api", mapLookup(map[string]string{}))
	if err != nil {
		t.Fatalf("config load failed: %v", err)
	}

	runner := &fakeMaintenanceRunner{retention: maintenance.RetentionSummary{
		SessionsScanned: 5,
		SessionsDeleted: 2,
	}}
	h := NewHandler(cfg, Dependencies{Maintenance: runner})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/retention/run", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("json decode failed: %v", err)
	}
	if body["status"] != "completed" {
		t.Fatalf("status field = %v", body["status"])
	}
	summary, ok := body["summary"].(map[string]any)
	if !ok {
		t.Fatalf("summary = %v", body["summary"])
	}
	if summary["sessions_deleted"] != float64(2) {
		t.Fatalf("sessions_deleted = %v", summary["sessions_deleted"])
	}
}

func TestIntegrityRunEndpointReportsFailure(t *testing.T) {
	cfg, err := config.Load("tabletalk-api", mapLookup(map[string]string{}))
	if err != nil {
		t.Fatalf("config load failed: %v", err)
	}

	runner := &fakeMaintenanceRunner{
		integrity:    maintenance.IntegritySummary{DatasetsScanned: 3, MissingObjects: 1},
		integrityErr: errors.New("integrity check found 1 issue(s): dataset ds-1: missing object"),
	}
	h := NewHandler(cfg, Dependencies{Maintenance: runner})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/integrity/run", nil))

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rr.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("json decode failed: %v", err)
	}
	if body["error_code"] != "INTEGRITY_CHECK_FAILED" {
		t.Fatalf("error_code = %v", body["error_code"])
	}
	extra, ok := body["context"].(map[string]any)
	if !ok {
		t.Fatalf("context = %v", body["context"])
	}
	summary, ok := extra["summary"].(map[string]any)
	if !ok || summary["missing_objects"] != float64(1) {
		t.Fatalf("summary = %v", extra["summary"])
	}
}

func TestMaintenanceEndpointsNotConfigured(t *testing.T) {
	cfg, err := config.Load("tabletalk-api", mapLookup(map[string]string{}))
	if err != nil {
		t.Fatalf("config load failed: %v", err)
	}

	h := NewHandler(cfg, Dependencies{})
	for _, target := range []string{"/v1/retention/run", "/v1/integrity/run"} {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, target, nil))
		if rr.Code != http.StatusNotImplemented {
			t.Fatalf("%s status = %d", target, rr.Code)
		}
	}
}

type fakeMaintenanceRunner struct {
	retention    maintenance.RetentionSummary
	retentionErr error
	integrity    maintenance.IntegritySummary
	integrityErr error
}

func (f *fakeMaintenanceRunner) RunRetentionOnce(context.Context) (maintenance.RetentionSummary, error) {
	return f.retention, f.retentionErr
}

func (f *fakeMaintenanceRunner) RunIntegrityCheckOnce(context.Context) (maintenance.IntegritySummary, error) {
	return f.integrity, f.integrityErr
}
