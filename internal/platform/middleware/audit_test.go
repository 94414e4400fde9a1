package middleware

import (
	"bytes"
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/fonthenet/sihadz-sub014/internal/platform/auth"
)

func TestParseAuditPath(t *testing.T) {
	id := uuid.New().String()
	tests := []struct {
		method, path           string
		resource, rid, action string
	}{
		{http.MethodPost, "/api/v1/cash-sessions", "cash-sessions", "", "create"},
		{http.MethodPost, "/api/v1/cash-sessions/" + id + "/close", "cash-sessions", id, "close"},
		{http.MethodGet, "/api/v1/cash-sessions/" + id + "/report", "cash-sessions", id, "read"},
		{http.MethodGet, "/api/v1/chifa/invoices/" + id, "chifa/invoices", id, "read"},
		{http.MethodPost, "/api/v1/chifa/invoices/preview", "chifa/invoices", "", "preview"},
		{http.MethodPost, "/api/v1/chifa/rejections/" + id + "/write-off", "chifa/rejections", id, "write-off"},
		{http.MethodGet, "/api/v1/cash-sessions/current", "cash-sessions", "", "read"},
		{http.MethodGet, "/api/v1/", "unknown", "", "read"},
	}
	for _, tt := range tests {
		res, rid, action := parseAuditPath(tt.method, tt.path)
		if res != tt.resource || rid != tt.rid || action != tt.action {
			t.Errorf("%s %s: got (%s, %s, %s), want (%s, %s, %s)",
				tt.method, tt.path, res, rid, action, tt.resource, tt.rid, tt.action)
		}
	}
}

func TestAudit_LogsFinancialWrite(t *testing.T) {
	var buf bytes.Buffer
	id := uuid.New().String()
	c, _ := newTestContext(http.MethodPost, "/api/v1/cash-sessions/"+id+"/close")
	pid := uuid.New()
	withActor(c, auth.Actor{PharmacyID: pid, ActorID: "emp-9", DisplayName: "Karim", IsEmployee: true})
	c.Set("request_id", "req-9")

	if err := Audit(zerolog.New(&buf))(okHandler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	line := lastLogLine(t, &buf)
	checks := map[string]interface{}{
		"type":        "settlement_audit",
		"pharmacy_id": pid.String(),
		"actor_id":    "emp-9",
		"actor_name":  "Karim",
		"is_employee": true,
		"resource":    "cash-sessions",
		"resource_id": id,
		"action":      "close",
		"request_id":  "req-9",
	}
	for k, want := range checks {
		if line[k] != want {
			t.Errorf("%s: got %v, want %v", k, line[k], want)
		}
	}
}

func TestAudit_RecordsFailureStatus(t *testing.T) {
	var buf bytes.Buffer
	c, _ := newTestContext(http.MethodPost, "/api/v1/cash-sessions")
	_ = Audit(zerolog.New(&buf))(func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusConflict, "drawer busy")
	})(c)
	line := lastLogLine(t, &buf)
	if line["status"] != float64(http.StatusConflict) || line["level"] != "warn" {
		t.Errorf("unexpected audit line: %v", line)
	}
}

func TestAudit_SkipsNonAPIPaths(t *testing.T) {
	var buf bytes.Buffer
	c, _ := newTestContext(http.MethodGet, "/health")
	_ = Audit(zerolog.New(&buf))(okHandler)(c)
	if buf.Len() != 0 {
		t.Errorf("expected no audit output, got %s", buf.String())
	}
}
