package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"issueprops/api/internal/events"
	"issueprops/api/internal/property"
)

const (
	testWorkspace = "ws-1"
	testProject   = "proj-1"
	basePath      = "/api/workspaces/" + testWorkspace + "/projects/" + testProject
)

type recordingPublisher struct {
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, event events.Event) error {
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) Close() {}

type testEnv struct {
	store     *fakeStore
	service   *Service
	handler   http.Handler
	issueType property.IssueType
	issue     property.EntityRef
	published *recordingPublisher
}

func newTestEnv(t *testing.T, opts Options) *testEnv {
	t.Helper()
	fs := newFakeStore()
	issueType := property.IssueType{
		ID:          uuid.NewString(),
		WorkspaceID: testWorkspace,
		ProjectID:   testProject,
		Name:        "Issue",
		IsDefault:   true,
		IsActive:    true,
	}
	fs.issueTypes[issueType.ID] = issueType

	issue := property.EntityRef{Kind: property.EntityIssue, ID: uuid.NewString()}
	fs.entities[issue.String()] = property.Entity{EntityRef: issue, WorkspaceID: testWorkspace, ProjectID: testProject}

	published := &recordingPublisher{}
	if opts.Events == nil {
		opts.Events = published
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if opts.Logger == nil {
		opts.Logger = logger
	}
	svc := New(fs, opts)
	server := NewHTTPServer(svc, "*", logger, NewMetrics())
	return &testEnv{
		store:     fs,
		service:   svc,
		handler:   server.Handler(),
		issueType: issueType,
		issue:     issue,
		published: published,
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, basePath+path, reader)
	req.Header.Set(actorHeader, "user-1")
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}

func (e *testEnv) createProperty(t *testing.T, body map[string]any) property.Definition {
	t.Helper()
	rr := e.do(t, http.MethodPost, "/issue-types/"+e.issueType.ID+"/issue-properties/", body)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create property: expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var def property.Definition
	decodeResponse(t, rr, &def)
	return def
}

func (e *testEnv) valuesPath() string {
	return "/issues/" + e.issue.ID + "/issue-property-values/"
}

func decodeResponse(t *testing.T, rr *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to parse response %q: %v", rr.Body.String(), err)
	}
}

func errorMessage(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]any
	decodeResponse(t, rr, &body)
	message, _ := body["error"].(string)
	return message
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t, Options{})
	rr := httptest.NewRecorder()
	env.handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header")
	}
}

func TestReadyEndpointDatabaseFailure(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.store.pingFn = func(context.Context) error { return errors.New("connection refused") }

	rr := httptest.NewRecorder()
	env.handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/ready", nil))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}
	var body map[string]any
	decodeResponse(t, rr, &body)
	checks := body["checks"].(map[string]any)
	db := checks["database"].(map[string]any)
	if db["status"] != "error" || db["error"] != "connection refused" {
		t.Errorf("unexpected database check: %v", db)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.do(t, http.MethodGet, "/issue-types/", nil)

	rr := httptest.NewRecorder()
	env.handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	want := `issueprops_http_requests_total{method="GET",route="/api/workspaces/{id}/projects/{id}/issue-types",status="200"} 1`
	if !strings.Contains(rr.Body.String(), want) {
		t.Errorf("metrics output missing %q", want)
	}
}

func TestWritesRequireActor(t *testing.T) {
	env := newTestEnv(t, Options{})
	req := httptest.NewRequest(http.MethodPost, basePath+"/issue-types/", strings.NewReader(`{"name":"Bug"}`))
	rr := httptest.NewRecorder()
	env.handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}
}

func TestUnknownRoute(t *testing.T) {
	env := newTestEnv(t, Options{})
	if rr := env.do(t, http.MethodGet, "/nope/", nil); rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
	if rr := env.do(t, http.MethodPut, "/issue-types/", nil); rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected status 405, got %d", rr.Code)
	}
}

func TestInvalidJSONBody(t *testing.T) {
	env := newTestEnv(t, Options{})
	req := httptest.NewRequest(http.MethodPost, basePath+"/issue-types/", strings.NewReader(`{"name":`))
	req.Header.Set(actorHeader, "user-1")
	rr := httptest.NewRecorder()
	env.handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
	if msg := errorMessage(t, rr); msg != "invalid JSON body" {
		t.Errorf("unexpected error %q", msg)
	}
}

func TestIssueTypeLifecycle(t *testing.T) {
	env := newTestEnv(t, Options{})

	rr := env.do(t, http.MethodPost, "/issue-types/", map[string]any{"name": "  Bug ", "description": "Defects"})
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var created property.IssueType
	decodeResponse(t, rr, &created)
	if created.Name != "Bug" || !created.IsActive || created.IsDefault {
		t.Fatalf("unexpected issue type: %+v", created)
	}

	rr = env.do(t, http.MethodPatch, "/issue-types/"+created.ID+"/", map[string]any{"is_active": false})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var updated property.IssueType
	decodeResponse(t, rr, &updated)
	if updated.IsActive {
		t.Error("expected issue type to be deactivated")
	}

	if rr := env.do(t, http.MethodDelete, "/issue-types/"+created.ID+"/", nil); rr.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", rr.Code)
	}
	if len(env.store.deletedIssueTypes) != 1 {
		t.Fatalf("expected one deleted issue type, got %v", env.store.deletedIssueTypes)
	}
	if rr := env.do(t, http.MethodGet, "/issue-types/"+created.ID+"/", nil); rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404 after delete, got %d", rr.Code)
	}
}

func TestDuplicateIssueTypeNameConflicts(t *testing.T) {
	env := newTestEnv(t, Options{})
	rr := env.do(t, http.MethodPost, "/issue-types/", map[string]any{"name": "Issue"})
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}
	var body map[string]any
	decodeResponse(t, rr, &body)
	if body["id"] != env.issueType.ID {
		t.Errorf("expected conflict id %s, got %v", env.issueType.ID, body["id"])
	}
	if body["error"] != "Issue Type with the same name already exists" {
		t.Errorf("unexpected error %v", body["error"])
	}
}

func TestDefaultIssueTypeCannotBeDeactivated(t *testing.T) {
	env := newTestEnv(t, Options{})
	path := "/issue-types/" + env.issueType.ID + "/"

	rr := env.do(t, http.MethodPatch, path, map[string]any{"is_active": false, "name": "Renamed"})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var got property.IssueType
	decodeResponse(t, rr, &got)
	if !got.IsActive || got.Name != "Issue" {
		t.Errorf("default issue type changed: %+v", got)
	}
	if !env.store.issueTypes[env.issueType.ID].IsActive {
		t.Error("default issue type was deactivated in the store")
	}

	rr = env.do(t, http.MethodDelete, path, nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
	if len(env.store.deletedIssueTypes) != 0 {
		t.Error("default issue type was deleted")
	}
}

func TestDefaultIssueTypeAcceptsActivePatch(t *testing.T) {
	env := newTestEnv(t, Options{})
	rr := env.do(t, http.MethodPatch, "/issue-types/"+env.issueType.ID+"/", map[string]any{"is_active": true, "name": "Task"})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if env.store.issueTypes[env.issueType.ID].Name != "Task" {
		t.Error("expected rename to apply when is_active is true")
	}
}

func TestCreatePropertyValidation(t *testing.T) {
	env := newTestEnv(t, Options{})
	cases := []struct {
		name string
		body map[string]any
		want string
	}{
		{"missing type", map[string]any{"display_name": "X"}, "property_type is required"},
		{"unknown type", map[string]any{"display_name": "X", "property_type": "COLOR"}, "invalid property type"},
		{"missing name", map[string]any{"property_type": "TEXT"}, "display_name is required"},
		{"relation type on text", map[string]any{"display_name": "X", "property_type": "TEXT", "relation_type": "USER"}, "relation_type applies to RELATION properties only"},
		{"bad default", map[string]any{"display_name": "X", "property_type": "DECIMAL", "default_value": []string{"abc"}}, "not a valid decimal"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := env.do(t, http.MethodPost, "/issue-types/"+env.issueType.ID+"/issue-properties/", tc.body)
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("expected status 400, got %d: %s", rr.Code, rr.Body.String())
			}
			if msg := errorMessage(t, rr); !strings.Contains(msg, tc.want) {
				t.Errorf("expected error containing %q, got %q", tc.want, msg)
			}
		})
	}
}

func TestCreatePropertyUnknownIssueType(t *testing.T) {
	env := newTestEnv(t, Options{})
	rr := env.do(t, http.MethodPost, "/issue-types/"+uuid.NewString()+"/issue-properties/", map[string]any{"display_name": "X", "property_type": "TEXT"})
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
}

func TestDuplicateExternalPropertyConflicts(t *testing.T) {
	env := newTestEnv(t, Options{})
	body := map[string]any{
		"display_name":    "Severity",
		"property_type":   "TEXT",
		"external_source": "jira",
		"external_id":     "SEV-1",
	}
	first := env.createProperty(t, body)

	body["display_name"] = "Severity again"
	rr := env.do(t, http.MethodPost, "/issue-types/"+env.issueType.ID+"/issue-properties/", body)
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}
	var resp map[string]any
	decodeResponse(t, rr, &resp)
	if resp["id"] != first.ID {
		t.Errorf("expected conflict id %s, got %v", first.ID, resp["id"])
	}
	if got := env.store.properties[first.ID].DisplayName; got != "Severity" {
		t.Errorf("existing property was overwritten: %q", got)
	}
}

func TestUnregisteredExternalSourceRejected(t *testing.T) {
	env := newTestEnv(t, Options{Integration: property.NewIntegration([]string{"github"})})
	rr := env.do(t, http.MethodPost, "/issue-types/"+env.issueType.ID+"/issue-properties/", map[string]any{
		"display_name":    "Severity",
		"property_type":   "TEXT",
		"external_source": "jira",
		"external_id":     "SEV-1",
	})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
	if msg := errorMessage(t, rr); msg != `unknown external source "jira"` {
		t.Errorf("unexpected error %q", msg)
	}
}

func TestPropertyTypeIsImmutable(t *testing.T) {
	env := newTestEnv(t, Options{})
	def := env.createProperty(t, map[string]any{"display_name": "Estimate", "property_type": "DECIMAL"})

	path := "/issue-types/" + env.issueType.ID + "/issue-properties/" + def.ID + "/"
	rr := env.do(t, http.MethodPatch, path, map[string]any{"property_type": "TEXT"})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}

	rr = env.do(t, http.MethodPatch, path, map[string]any{"display_name": "Points", "is_required": true})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var updated property.Definition
	decodeResponse(t, rr, &updated)
	if updated.DisplayName != "Points" || !updated.IsRequired || updated.Kind != property.KindDecimal {
		t.Errorf("unexpected update result: %+v", updated)
	}
}

func TestPropertyListsAndDelete(t *testing.T) {
	env := newTestEnv(t, Options{})
	first := env.createProperty(t, map[string]any{"display_name": "A", "property_type": "TEXT"})
	second := env.createProperty(t, map[string]any{"display_name": "B", "property_type": "TEXT"})
	if second.SortOrder <= first.SortOrder {
		t.Errorf("expected increasing sort order, got %v then %v", first.SortOrder, second.SortOrder)
	}

	var listed []property.Definition
	decodeResponse(t, env.do(t, http.MethodGet, "/issue-properties/", nil), &listed)
	if len(listed) != 2 || listed[0].ID != first.ID {
		t.Fatalf("unexpected project properties: %+v", listed)
	}

	rr := env.do(t, http.MethodDelete, "/issue-types/"+env.issueType.ID+"/issue-properties/"+first.ID+"/", nil)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", rr.Code)
	}
	decodeResponse(t, env.do(t, http.MethodGet, "/issue-types/"+env.issueType.ID+"/issue-properties/", nil), &listed)
	if len(listed) != 1 || listed[0].ID != second.ID {
		t.Fatalf("unexpected properties after delete: %+v", listed)
	}
}

func TestOptionEndpoints(t *testing.T) {
	env := newTestEnv(t, Options{})
	def := env.createProperty(t, map[string]any{
		"display_name":  "Priority",
		"property_type": "OPTION",
		"options":       []map[string]any{{"name": "High"}},
	})
	if len(def.Options) != 1 || def.Options[0].Name != "High" {
		t.Fatalf("expected inline option, got %+v", def.Options)
	}

	optionsPath := "/issue-properties/" + def.ID + "/options/"
	rr := env.do(t, http.MethodPost, optionsPath, map[string]any{"name": "Low", "is_default": true})
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var low property.Option
	decodeResponse(t, rr, &low)

	rr = env.do(t, http.MethodPost, optionsPath, map[string]any{"name": "high"})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected duplicate option name to fail, got %d", rr.Code)
	}
	rr = env.do(t, http.MethodPatch, optionsPath+def.Options[0].ID+"/", map[string]any{"is_default": true})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected second default to fail, got %d", rr.Code)
	}

	rr = env.do(t, http.MethodPatch, optionsPath+low.ID+"/", map[string]any{"name": "Lowest"})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	var options []property.Option
	decodeResponse(t, env.do(t, http.MethodGet, optionsPath, nil), &options)
	if len(options) != 2 || options[1].Name != "Lowest" {
		t.Fatalf("unexpected options: %+v", options)
	}

	if rr := env.do(t, http.MethodDelete, optionsPath+low.ID+"/", nil); rr.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", rr.Code)
	}

	text := env.createProperty(t, map[string]any{"display_name": "Notes", "property_type": "TEXT"})
	if rr := env.do(t, http.MethodGet, "/issue-properties/"+text.ID+"/options/", nil); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected options on TEXT property to fail, got %d", rr.Code)
	}
}

func TestSubmitAndReadValues(t *testing.T) {
	env := newTestEnv(t, Options{})
	tags := env.createProperty(t, map[string]any{"display_name": "Tags", "property_type": "TEXT", "is_multi": true})
	estimate := env.createProperty(t, map[string]any{"display_name": "Estimate", "property_type": "DECIMAL"})
	blocked := env.createProperty(t, map[string]any{"display_name": "Blocked", "property_type": "BOOLEAN"})
	due := env.createProperty(t, map[string]any{"display_name": "Due", "property_type": "DATETIME"})
	parent := env.createProperty(t, map[string]any{"display_name": "Parent", "property_type": "RELATION"})
	priority := env.createProperty(t, map[string]any{
		"display_name":  "Priority",
		"property_type": "OPTION",
		"options":       []map[string]any{{"name": "High"}},
	})
	related := uuid.New()
	env.store.relations[related] = true

	body := strings.NewReader(`{"property_values": {
		"` + tags.ID + `": ["b", "a", "a", ""],
		"` + estimate.ID + `": [3.50],
		"` + blocked.ID + `": [true],
		"` + due.ID + `": ["2024-01-05T10:00:00Z"],
		"` + parent.ID + `": ["` + related.String() + `"],
		"` + priority.ID + `": ["` + priority.Options[0].ID + `"]
	}}`)
	req := httptest.NewRequest(http.MethodPost, basePath+env.valuesPath(), body)
	req.Header.Set(actorHeader, "user-1")
	rr := httptest.NewRecorder()
	env.handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}

	var values map[string][]string
	decodeResponse(t, env.do(t, http.MethodGet, env.valuesPath(), nil), &values)
	want := map[string][]string{
		tags.ID:     {"a", "b"},
		estimate.ID: {"3.50"},
		blocked.ID:  {"true"},
		due.ID:      {"2024-01-05"},
		parent.ID:   {related.String()},
		priority.ID: {priority.Options[0].ID},
	}
	for id, expected := range want {
		if strings.Join(values[id], ",") != strings.Join(expected, ",") {
			t.Errorf("property %s: expected %v, got %v", id, expected, values[id])
		}
	}

	var single map[string][]string
	decodeResponse(t, env.do(t, http.MethodGet, env.valuesPath()+estimate.ID+"/", nil), &single)
	if len(single) != 1 || single[estimate.ID][0] != "3.50" {
		t.Errorf("unexpected single property read: %v", single)
	}

	if len(env.published.events) == 0 || env.published.events[len(env.published.events)-1].Type != events.ValuesReplaced {
		t.Errorf("expected a values event, got %+v", env.published.events)
	}
}

func TestSubmitValuesRequiredProperty(t *testing.T) {
	env := newTestEnv(t, Options{})
	title := env.createProperty(t, map[string]any{"display_name": "Title", "property_type": "TEXT", "is_required": true})
	notes := env.createProperty(t, map[string]any{"display_name": "Notes", "property_type": "TEXT"})

	rr := env.do(t, http.MethodPost, env.valuesPath(), map[string]any{"property_values": map[string][]any{notes.ID: {"hello"}}})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
	if msg := errorMessage(t, rr); msg != "Title is a required property" {
		t.Errorf("unexpected error %q", msg)
	}
	if len(env.store.values) != 0 {
		t.Fatalf("failed submission persisted %d rows", len(env.store.values))
	}

	rr = env.do(t, http.MethodPost, env.valuesPath(), map[string]any{"property_values": map[string][]any{title.ID: {"Crash"}}})
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}

	// Title is already stored, so a submission that leaves it out passes.
	rr = env.do(t, http.MethodPost, env.valuesPath(), map[string]any{"property_values": map[string][]any{notes.ID: {"hello"}}})
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}

	rr = env.do(t, http.MethodPost, env.valuesPath(), map[string]any{"property_values": map[string][]any{title.ID: {""}}})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected clearing a required property to fail, got %d", rr.Code)
	}
}

func TestSubmitValuesCardinality(t *testing.T) {
	env := newTestEnv(t, Options{})
	owner := env.createProperty(t, map[string]any{"display_name": "Owner", "property_type": "TEXT"})

	rr := env.do(t, http.MethodPost, env.valuesPath(), map[string]any{"property_values": map[string][]any{owner.ID: {"a", "b"}}})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
	if msg := errorMessage(t, rr); msg != "Owner accepts a single value" {
		t.Errorf("unexpected error %q", msg)
	}
}

func TestSubmitValuesRejectsWholeBatch(t *testing.T) {
	env := newTestEnv(t, Options{})
	notes := env.createProperty(t, map[string]any{"display_name": "Notes", "property_type": "TEXT"})
	link := env.createProperty(t, map[string]any{"display_name": "Link", "property_type": "URL"})

	rr := env.do(t, http.MethodPost, env.valuesPath(), map[string]any{"property_values": map[string][]any{
		notes.ID:         {"fine"},
		link.ID:          {"not a url"},
		uuid.NewString(): {"x"},
	}})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
	var body struct {
		Details []property.ValidationError `json:"details"`
	}
	decodeResponse(t, rr, &body)
	if len(body.Details) != 2 {
		t.Errorf("expected two failures, got %+v", body.Details)
	}
	if len(env.store.values) != 0 {
		t.Fatal("no value may be stored when any property fails")
	}
}

func TestPatchValueReplaces(t *testing.T) {
	env := newTestEnv(t, Options{})
	tags := env.createProperty(t, map[string]any{"display_name": "Tags", "property_type": "TEXT", "is_multi": true})
	path := env.valuesPath() + tags.ID + "/"

	if rr := env.do(t, http.MethodPatch, path, map[string]any{"values": []string{"a", "b"}}); rr.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d: %s", rr.Code, rr.Body.String())
	}
	if rr := env.do(t, http.MethodPatch, path, map[string]any{"values": []string{"c"}}); rr.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", rr.Code)
	}

	var values map[string][]string
	decodeResponse(t, env.do(t, http.MethodGet, path, nil), &values)
	if strings.Join(values[tags.ID], ",") != "c" {
		t.Errorf("expected only the latest set, got %v", values[tags.ID])
	}

	var activities []property.Activity
	decodeResponse(t, env.do(t, http.MethodGet, "/issues/"+env.issue.ID+"/issue-property-activities/", nil), &activities)
	if len(activities) != 2 || strings.Join(activities[0].NewValues, ",") != "c" {
		t.Errorf("unexpected activities: %+v", activities)
	}
}

func TestPatchRequiredValueCannotBeEmptied(t *testing.T) {
	env := newTestEnv(t, Options{})
	title := env.createProperty(t, map[string]any{"display_name": "Title", "property_type": "TEXT", "is_required": true})

	rr := env.do(t, http.MethodPatch, env.valuesPath()+title.ID+"/", map[string]any{"values": []string{" "}})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
	if msg := errorMessage(t, rr); msg != "Title is a required property" {
		t.Errorf("unexpected error %q", msg)
	}
}

func TestDraftIssueValues(t *testing.T) {
	env := newTestEnv(t, Options{})
	notes := env.createProperty(t, map[string]any{"display_name": "Notes", "property_type": "TEXT"})
	draft := property.EntityRef{Kind: property.EntityDraftIssue, ID: uuid.NewString()}
	env.store.entities[draft.String()] = property.Entity{EntityRef: draft, WorkspaceID: testWorkspace, ProjectID: testProject}

	path := "/draft-issues/" + draft.ID + "/issue-property-values/"
	rr := env.do(t, http.MethodPost, path, map[string]any{"property_values": map[string][]any{notes.ID: {"draft"}}})
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}

	var issueValues map[string][]string
	decodeResponse(t, env.do(t, http.MethodGet, env.valuesPath(), nil), &issueValues)
	if len(issueValues) != 0 {
		t.Errorf("draft values leaked to the issue: %v", issueValues)
	}
}

func TestValuesOfUnknownEntity(t *testing.T) {
	env := newTestEnv(t, Options{})
	rr := env.do(t, http.MethodGet, "/issues/"+uuid.NewString()+"/issue-property-values/", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
}

func TestRouteLabel(t *testing.T) {
	cases := []struct {
		path string
		want string
	}{
		{"/api/workspaces/w/projects/p/issues/i/issue-property-values/x/", "/api/workspaces/{id}/projects/{id}/issues/{id}/issue-property-values/{id}"},
		{"/api/health", "/api/health"},
		{"/metrics", "/metrics"},
		{"/random/thing", "other"},
	}
	for _, tc := range cases {
		if got := routeLabel(tc.path); got != tc.want {
			t.Errorf("routeLabel(%q) = %q, want %q", tc.path, got, tc.want)
		}
	}
}

func TestUntypedIssueAcceptsNoProperties(t *testing.T) {
	env := newTestEnv(t, Options{})
	issueType := env.store.issueTypes[env.issueType.ID]
	issueType.IsDefault = false
	env.store.issueTypes[issueType.ID] = issueType
	title := env.createProperty(t, map[string]any{"display_name": "Title", "property_type": "TEXT", "is_required": true})

	rr := env.do(t, http.MethodPost, env.valuesPath(), map[string]any{"property_values": map[string][]any{}})
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}

	rr = env.do(t, http.MethodPost, env.valuesPath(), map[string]any{"property_values": map[string][]any{title.ID: {"x"}}})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d: %s", rr.Code, rr.Body.String())
	}
	if msg := errorMessage(t, rr); !strings.Contains(msg, "not a valid issue property") {
		t.Errorf("unexpected error %q", msg)
	}
	if len(env.store.values) != 0 {
		t.Fatalf("untyped issue stored %d rows", len(env.store.values))
	}

	var values map[string][]string
	decodeResponse(t, env.do(t, http.MethodGet, env.valuesPath(), nil), &values)
	if len(values) != 0 {
		t.Errorf("expected no values, got %v", values)
	}
	if rr := env.do(t, http.MethodGet, env.valuesPath()+title.ID+"/", nil); rr.Code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", rr.Code)
	}
}

func TestInactivePropertyValuesNotFound(t *testing.T) {
	env := newTestEnv(t, Options{})
	notes := env.createProperty(t, map[string]any{"display_name": "Notes", "property_type": "TEXT"})
	path := env.valuesPath() + notes.ID + "/"
	if rr := env.do(t, http.MethodPatch, path, map[string]any{"values": []string{"kept"}}); rr.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d: %s", rr.Code, rr.Body.String())
	}

	rr := env.do(t, http.MethodPatch, "/issue-types/"+env.issueType.ID+"/issue-properties/"+notes.ID+"/", map[string]any{"is_active": false})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if rr := env.do(t, http.MethodGet, path, nil); rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d: %s", rr.Code, rr.Body.String())
	}
	var values map[string][]string
	decodeResponse(t, env.do(t, http.MethodGet, env.valuesPath(), nil), &values)
	if _, ok := values[notes.ID]; ok {
		t.Errorf("inactive property listed: %v", values)
	}
}

func TestInactiveOptionNameCannotBeReused(t *testing.T) {
	env := newTestEnv(t, Options{})
	def := env.createProperty(t, map[string]any{
		"display_name":  "Priority",
		"property_type": "OPTION",
		"options":       []map[string]any{{"name": "Legacy"}},
	})
	optionsPath := "/issue-properties/" + def.ID + "/options/"

	rr := env.do(t, http.MethodPatch, optionsPath+def.Options[0].ID+"/", map[string]any{"is_active": false})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	rr = env.do(t, http.MethodPost, optionsPath, map[string]any{"name": "legacy"})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d: %s", rr.Code, rr.Body.String())
	}
	if msg := errorMessage(t, rr); !strings.Contains(msg, "already exists as an inactive option") {
		t.Errorf("unexpected error %q", msg)
	}
	if rr := env.do(t, http.MethodPatch, optionsPath+def.Options[0].ID+"/", map[string]any{"is_active": true}); rr.Code != http.StatusOK {
		t.Errorf("expected reactivation to succeed, got %d: %s", rr.Code, rr.Body.String())
	}
}
