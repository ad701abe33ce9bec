package app

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"issueprops/api/internal/property"
)

const actorHeader = "X-Actor-ID"

type HTTPServer struct {
	service    *Service
	corsOrigin string
	logger     *slog.Logger
	metrics    *Metrics
}

func NewHTTPServer(service *Service, corsOrigin string, logger *slog.Logger, metrics *Metrics) *HTTPServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPServer{service: service, corsOrigin: corsOrigin, logger: logger, metrics: metrics}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		s.handleReady(w, r)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/metrics" && s.metrics != nil {
		s.metrics.Handler().ServeHTTP(w, r)
		return
	}

	parts := splitPath(r.URL.Path)
	// api/workspaces/{ws}/projects/{project}/...
	if len(parts) >= 6 && parts[0] == "api" && parts[1] == "workspaces" && parts[3] == "projects" {
		scope := projectScope{workspaceID: parts[2], projectID: parts[4]}
		rest := parts[5:]
		switch rest[0] {
		case "issue-types":
			s.handleIssueTypes(w, r, scope, rest[1:])
			return
		case "issue-properties":
			s.handleProjectProperties(w, r, scope, rest[1:])
			return
		case "issues":
			s.handleEntity(w, r, scope, property.EntityIssue, rest[1:])
			return
		case "draft-issues":
			s.handleEntity(w, r, scope, property.EntityDraftIssue, rest[1:])
			return
		}
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

type projectScope struct {
	workspaceID string
	projectID   string
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{}
	for name, err := range s.service.Readiness(ctx) {
		if err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks[name] = map[string]any{"status": "error", "error": err.Error()}
			continue
		}
		checks[name] = map[string]any{"status": "ok"}
	}

	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

// issue-types[/{type}[/issue-properties[/{property}]]]
func (s *HTTPServer) handleIssueTypes(w http.ResponseWriter, r *http.Request, scope projectScope, parts []string) {
	ctx := r.Context()
	switch {
	case len(parts) == 0 && r.Method == http.MethodGet:
		items, err := s.service.ListIssueTypes(ctx, scope.workspaceID, scope.projectID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, items)
		return

	case len(parts) == 0 && r.Method == http.MethodPost:
		actor, ok := requireActor(w, r)
		if !ok {
			return
		}
		var body IssueTypeInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		created, err := s.service.CreateIssueType(ctx, scope.workspaceID, scope.projectID, actor, body)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, created)
		return

	case len(parts) == 1:
		s.handleIssueType(w, r, scope, parts[0])
		return

	case len(parts) >= 2 && parts[1] == "issue-properties":
		s.handleTypeProperties(w, r, scope, parts[0], parts[2:])
		return
	}

	methodOrNotFound(w, len(parts) <= 1)
}

func (s *HTTPServer) handleIssueType(w http.ResponseWriter, r *http.Request, scope projectScope, typeID string) {
	ctx := r.Context()
	switch r.Method {
	case http.MethodGet:
		item, err := s.service.GetIssueType(ctx, scope.workspaceID, scope.projectID, typeID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, item)

	case http.MethodPatch:
		actor, ok := requireActor(w, r)
		if !ok {
			return
		}
		var body IssueTypeInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		updated, err := s.service.UpdateIssueType(ctx, scope.workspaceID, scope.projectID, typeID, actor, body)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, updated)

	case http.MethodDelete:
		actor, ok := requireActor(w, r)
		if !ok {
			return
		}
		if _, err := s.service.DeleteIssueType(ctx, scope.workspaceID, scope.projectID, typeID, actor); err != nil {
			s.fail(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	}
}

func (s *HTTPServer) handleTypeProperties(w http.ResponseWriter, r *http.Request, scope projectScope, typeID string, parts []string) {
	ctx := r.Context()
	if len(parts) == 0 {
		switch r.Method {
		case http.MethodGet:
			items, err := s.service.ListProperties(ctx, scope.workspaceID, scope.projectID, typeID)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, items)
		case http.MethodPost:
			actor, ok := requireActor(w, r)
			if !ok {
				return
			}
			var body PropertyInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			created, err := s.service.CreateProperty(ctx, scope.workspaceID, scope.projectID, typeID, actor, body)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusCreated, created)
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}
	if len(parts) != 1 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	propertyID := parts[0]
	switch r.Method {
	case http.MethodGet:
		item, err := s.service.GetProperty(ctx, scope.workspaceID, scope.projectID, typeID, propertyID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, item)
	case http.MethodPatch:
		actor, ok := requireActor(w, r)
		if !ok {
			return
		}
		var body PropertyInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		updated, err := s.service.UpdateProperty(ctx, scope.workspaceID, scope.projectID, typeID, propertyID, actor, body)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, updated)
	case http.MethodDelete:
		actor, ok := requireActor(w, r)
		if !ok {
			return
		}
		if err := s.service.DeleteProperty(ctx, scope.workspaceID, scope.projectID, typeID, propertyID, actor); err != nil {
			s.fail(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	}
}

// issue-properties[/{property}/options[/{option}]]
func (s *HTTPServer) handleProjectProperties(w http.ResponseWriter, r *http.Request, scope projectScope, parts []string) {
	ctx := r.Context()
	if len(parts) == 0 {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		items, err := s.service.ListProjectProperties(ctx, scope.workspaceID, scope.projectID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, items)
		return
	}
	if len(parts) < 2 || len(parts) > 3 || parts[1] != "options" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	propertyID := parts[0]
	if len(parts) == 2 {
		switch r.Method {
		case http.MethodGet:
			items, err := s.service.ListOptions(ctx, scope.workspaceID, scope.projectID, propertyID)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, items)
		case http.MethodPost:
			actor, ok := requireActor(w, r)
			if !ok {
				return
			}
			var body OptionInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			created, err := s.service.CreateOption(ctx, scope.workspaceID, scope.projectID, propertyID, actor, body)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusCreated, created)
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	optionID := parts[2]
	switch r.Method {
	case http.MethodPatch:
		actor, ok := requireActor(w, r)
		if !ok {
			return
		}
		var body OptionInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		updated, err := s.service.UpdateOption(ctx, scope.workspaceID, scope.projectID, propertyID, optionID, actor, body)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, updated)
	case http.MethodDelete:
		actor, ok := requireActor(w, r)
		if !ok {
			return
		}
		if err := s.service.DeleteOption(ctx, scope.workspaceID, scope.projectID, propertyID, optionID, actor); err != nil {
			s.fail(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	}
}

// {entity}/issue-property-values[/{property}] and {entity}/issue-property-activities
func (s *HTTPServer) handleEntity(w http.ResponseWriter, r *http.Request, scope projectScope, kind property.EntityKind, parts []string) {
	if len(parts) < 2 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	ref := property.EntityRef{Kind: kind, ID: parts[0]}
	ctx := r.Context()

	switch {
	case parts[1] == "issue-property-activities" && len(parts) == 2:
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		items, err := s.service.ListActivities(ctx, scope.workspaceID, scope.projectID, ref, limit)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, items)

	case parts[1] == "issue-property-values" && len(parts) == 2:
		s.handleValues(w, r, scope, ref)

	case parts[1] == "issue-property-values" && len(parts) == 3:
		s.handlePropertyValue(w, r, scope, ref, parts[2])

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleValues(w http.ResponseWriter, r *http.Request, scope projectScope, ref property.EntityRef) {
	ctx := r.Context()
	switch r.Method {
	case http.MethodGet:
		values, err := s.service.GetValues(ctx, scope.workspaceID, scope.projectID, ref)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, values)
	case http.MethodPost:
		actor, ok := requireActor(w, r)
		if !ok {
			return
		}
		var body struct {
			PropertyValues map[string][]any `json:"property_values"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if err := s.service.SubmitValues(ctx, scope.workspaceID, scope.projectID, ref, actor, body.PropertyValues); err != nil {
			s.fail(w, r, err)
			return
		}
		w.WriteHeader(http.StatusCreated)
	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	}
}

func (s *HTTPServer) handlePropertyValue(w http.ResponseWriter, r *http.Request, scope projectScope, ref property.EntityRef, propertyID string) {
	ctx := r.Context()
	switch r.Method {
	case http.MethodGet:
		values, err := s.service.GetPropertyValues(ctx, scope.workspaceID, scope.projectID, ref, propertyID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, values)
	case http.MethodPatch:
		actor, ok := requireActor(w, r)
		if !ok {
			return
		}
		var body struct {
			Values []any `json:"values"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if err := s.service.PatchValue(ctx, scope.workspaceID, scope.projectID, ref, propertyID, actor, body.Values); err != nil {
			s.fail(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	}
}

func requireActor(w http.ResponseWriter, r *http.Request) (string, bool) {
	actor := strings.TrimSpace(r.Header.Get(actorHeader))
	if actor == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", actorHeader+" header is required", nil)
		return "", false
	}
	return actor, true
}

func methodOrNotFound(w http.ResponseWriter, known bool) {
	if known {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}
	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

// fail writes the error response for err. Conflicts carry the id of the
// resource that already exists.
func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			"request_id", requestID(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
	}
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	var conflict *property.ConflictError
	if errors.As(err, &conflict) {
		response["id"] = conflict.ID
	}
	writeJSON(w, status, response)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		elapsed := time.Since(started)
		if s.metrics != nil {
			s.metrics.Observe(r.Method, routeLabel(r.URL.Path), writer.status, elapsed)
		}
		s.logger.Info("request",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", writer.status,
			"duration_ms", elapsed.Milliseconds(),
		)
	})
}

type requestIDKey struct{}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID, "+actorHeader)
	header.Set("Access-Control-Allow-Methods", "GET,POST,PATCH,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

// decodeBody decodes a JSON body. Numbers stay json.Number so decimal values
// keep their precision. An empty body leaves target untouched.
func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("could not read body")
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	if err := decoder.Decode(target); err != nil {
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	var conflict *property.ConflictError
	if errors.As(err, &conflict) {
		return http.StatusConflict, "CONFLICT", conflict.Error(), nil
	}
	var many property.ValidationErrors
	if errors.As(err, &many) {
		return http.StatusBadRequest, "VALIDATION_ERROR", many.Error(), []*property.ValidationError(many)
	}
	var one *property.ValidationError
	if errors.As(err, &one) {
		return http.StatusBadRequest, "VALIDATION_ERROR", one.Reason, []*property.ValidationError{one}
	}
	if errors.Is(err, property.ErrNotFound) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
