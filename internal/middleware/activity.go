package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/BradenHooton/clinitrust/internal/auth"
	"github.com/BradenHooton/clinitrust/internal/models"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// ActivityRecorder is the audit sink for API activity.
type ActivityRecorder interface {
	Record(ctx context.Context, event models.AuditEvent)
}

// ActivityLogger records every state-changing API request in the audit
// ledger once the handler has responded. Requests under any of the
// selfRecorded path prefixes are skipped: their services write a more
// detailed entry themselves. Login is always skipped. Mount it after
// AuthMiddleware so the actor is known.
func ActivityLogger(recorder ActivityRecorder, selfRecorded ...string) func(http.Handler) http.Handler {
	skip := append([]string{"/api/auth/login"}, selfRecorded...)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			wrapped := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(wrapped, r)

			if !isStateChanging(r.Method) || !strings.HasPrefix(r.URL.Path, "/api/") || hasAnyPrefix(r.URL.Path, skip) {
				return
			}

			recorder.Record(r.Context(), activityEvent(r, wrapped.Status()))
		})
	}
}

func hasAnyPrefix(path string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

func isStateChanging(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

func activityEvent(r *http.Request, status int) models.AuditEvent {
	path := r.URL.Path
	entityID := chi.URLParam(r, "id")

	event := models.AuditEvent{
		EventCategory: activityCategory(path),
		EventType:     models.AuditEventTypeAPIRequest,
		Action:        activityAction(r.Method, entityID != ""),
		Status:        models.AuditStatusSuccess,
	}

	if claims := auth.GetUserFromContext(r); claims != nil {
		event.ActorID = &claims.UserID
	}
	if entityType, resource := activityResource(path); entityType != "" {
		event.EntityType = &entityType
		event.EventType = resource + "_" + event.Action
	}
	if entityID != "" {
		event.EntityID = &entityID
	}
	if status < 200 || status >= 300 {
		event.Status = models.AuditStatusFailure
		msg := "HTTP " + http.StatusText(status)
		event.ErrorMessage = &msg
	}
	return event
}

func activityCategory(path string) string {
	switch {
	case strings.Contains(path, "auth"):
		return models.AuditCategoryAuthentication
	case strings.Contains(path, "patients"):
		return models.AuditCategoryPatientRecords
	case strings.Contains(path, "consultations"), strings.Contains(path, "mse"), strings.Contains(path, "diagnoses"):
		return models.AuditCategoryClinicalData
	case strings.Contains(path, "reports"), strings.Contains(path, "dashboard"):
		return models.AuditCategoryReports
	case strings.Contains(path, "admin"):
		return models.AuditCategorySystemAdmin
	}
	return models.AuditCategoryDataAccess
}

// activityResource returns the entity type and the event type prefix.
func activityResource(path string) (string, string) {
	switch {
	case strings.Contains(path, "patients"):
		return models.AuditEntityPatient, "patient"
	case strings.Contains(path, "consultations"):
		return models.AuditEntityConsultation, "consultation"
	case strings.Contains(path, "mse"):
		return models.AuditEntityConsultation, "mse"
	case strings.Contains(path, "diagnoses"):
		return models.AuditEntityConsultation, "diagnosis"
	case strings.Contains(path, "users"):
		return models.AuditEntityUser, "user"
	}
	return "", ""
}

// activityAction maps the method onto the audit vocabulary. A POST naming an
// existing entity acts on it rather than creating one.
func activityAction(method string, hasEntity bool) string {
	switch method {
	case http.MethodPost:
		if hasEntity {
			return models.AuditActionUpdate
		}
		return models.AuditActionCreate
	case http.MethodDelete:
		return models.AuditActionDelete
	}
	return models.AuditActionUpdate
}
