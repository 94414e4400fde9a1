package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/fonthenet/sihadz-sub014/internal/platform/auth"
)

// AuditEntry is one financial access record: who touched which settlement
// record, how, and with what outcome.
type AuditEntry struct {
	Timestamp  time.Time
	RequestID  string
	PharmacyID string
	ActorID    string
	ActorName  string
	IsEmployee bool
	Resource   string
	ResourceID string
	Action     string
	Method     string
	Path       string
	IPAddress  string
	StatusCode int
}

// Audit emits one "settlement_audit" event per /api/v1 request after the
// handler has run, so the outcome status is included.
func Audit(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if !strings.HasPrefix(req.URL.Path, "/api/v1/") {
				return next(c)
			}

			err := next(c)

			entry := buildEntry(c, err)
			evt := logger.Info()
			if entry.StatusCode >= 400 {
				evt = logger.Warn()
			}
			evt.
				Str("type", "settlement_audit").
				Str("request_id", entry.RequestID).
				Str("pharmacy_id", entry.PharmacyID).
				Str("actor_id", entry.ActorID).
				Str("actor_name", entry.ActorName).
				Bool("is_employee", entry.IsEmployee).
				Str("resource", entry.Resource).
				Str("resource_id", entry.ResourceID).
				Str("action", entry.Action).
				Str("method", entry.Method).
				Str("path", entry.Path).
				Str("remote_ip", entry.IPAddress).
				Int("status", entry.StatusCode).
				Time("at", entry.Timestamp).
				Msg("audit")

			return err
		}
	}
}

func buildEntry(c echo.Context, err error) AuditEntry {
	req := c.Request()
	status := c.Response().Status
	if he, ok := err.(*echo.HTTPError); ok {
		status = he.Code
	}

	entry := AuditEntry{
		Timestamp:  time.Now().UTC(),
		RequestID:  requestID(c),
		Method:     req.Method,
		Path:       req.URL.Path,
		IPAddress:  c.RealIP(),
		StatusCode: status,
	}
	if actor, ok := auth.ActorFromContext(req.Context()); ok {
		entry.PharmacyID = actor.PharmacyID.String()
		entry.ActorID = actor.ActorID
		entry.ActorName = actor.DisplayName
		entry.IsEmployee = actor.IsEmployee
	}
	entry.Resource, entry.ResourceID, entry.Action = parseAuditPath(req.Method, req.URL.Path)
	return entry
}

// parseAuditPath splits an /api/v1 path into resource, record id and action.
//
//	POST /api/v1/cash-sessions                   -> cash-sessions, "", create
//	POST /api/v1/cash-sessions/<id>/close        -> cash-sessions, <id>, close
//	GET  /api/v1/chifa/invoices/<id>             -> chifa/invoices, <id>, read
//	POST /api/v1/chifa/rejections/<id>/write-off -> chifa/rejections, <id>, write-off
func parseAuditPath(method, path string) (resource, id, action string) {
	segs := strings.Split(strings.Trim(strings.TrimPrefix(path, "/api/v1/"), "/"), "/")
	if len(segs) == 0 || segs[0] == "" {
		return "unknown", "", methodAction(method)
	}

	resource = segs[0]
	rest := segs[1:]
	if resource == "chifa" && len(rest) > 0 {
		resource += "/" + rest[0]
		rest = rest[1:]
	}

	if len(rest) > 0 {
		if _, err := uuid.Parse(rest[0]); err == nil {
			id = rest[0]
			rest = rest[1:]
		}
	}

	action = methodAction(method)
	if method == http.MethodPost && len(rest) > 0 {
		action = rest[len(rest)-1]
	}
	return resource, id, action
}

func methodAction(method string) string {
	switch method {
	case http.MethodPost:
		return "create"
	case http.MethodPut, http.MethodPatch:
		return "update"
	case http.MethodDelete:
		return "delete"
	default:
		return "read"
	}
}
