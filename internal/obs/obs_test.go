package obs

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestEventEmitsJSON(t *testing.T) {
	logger := Logger()
	origWriter := logger.Writer()
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	defer logger.SetOutput(origWriter)

	Event("retention_done", map[string]any{
		"routine": "purge_users",
		"rows":    int64(3),
	})

	line := strings.TrimSpace(buf.String())
	var entry map[string]any
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("event log is not valid JSON: %v", err)
	}
	if entry["event"] != "retention_done" {
		t.Fatalf("unexpected event: %v", entry["event"])
	}
	if entry["routine"] != "purge_users" {
		t.Fatalf("unexpected routine: %v", entry["routine"])
	}
	if _, ok := entry["ts"]; !ok {
		t.Fatalf("expected ts field")
	}
}

func TestRecordOperationCountsByOutcome(t *testing.T) {
	okBefore := testutil.ToFloat64(engineOperationsTotal.WithLabelValues("org", "create", "ok"))
	errBefore := testutil.ToFloat64(engineOperationsTotal.WithLabelValues("org", "create", "error"))

	RecordOperation("org", "create", nil)
	RecordOperation("org", "create", nil)
	RecordOperation("org", "create", errors.New("boom"))

	if got := testutil.ToFloat64(engineOperationsTotal.WithLabelValues("org", "create", "ok")); got != okBefore+2 {
		t.Fatalf("expected 2 ok operations, got %v", got-okBefore)
	}
	if got := testutil.ToFloat64(engineOperationsTotal.WithLabelValues("org", "create", "error")); got != errBefore+1 {
		t.Fatalf("expected 1 failed operation, got %v", got-errBefore)
	}
}

func TestRecordRetentionIgnoresNegative(t *testing.T) {
	// Must not panic or count anything.
	RecordRetention("purge_users", -1)
	RecordRetention("purge_users", 0)
}

func TestInstrumentPreservesResponse(t *testing.T) {
	handler := Instrument(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("done"))
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/info", nil))
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rr.Code)
	}
	if rr.Body.String() != "done" {
		t.Fatalf("unexpected body: %s", rr.Body.String())
	}
}
