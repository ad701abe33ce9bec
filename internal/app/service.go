package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"issueprops/api/internal/cache"
	"issueprops/api/internal/events"
	"issueprops/api/internal/property"
	"issueprops/api/internal/store"
	"issueprops/api/internal/util"
)

type dataStore interface {
	Ping(context.Context) error
	CreateIssueType(context.Context, property.IssueType, string) (property.IssueType, error)
	GetIssueType(context.Context, string, string, string) (property.IssueType, error)
	ListIssueTypes(context.Context, string, string) ([]property.IssueType, error)
	UpdateIssueType(context.Context, property.IssueType) (property.IssueType, error)
	DeleteIssueType(context.Context, string, string, string, string) (bool, error)
	CreateProperty(context.Context, property.Definition) (property.Definition, error)
	GetProperty(context.Context, string, string, string) (property.Definition, error)
	ListProperties(context.Context, string, string, string) ([]property.Definition, error)
	UpdateProperty(context.Context, property.Definition) (property.Definition, error)
	DeleteProperty(context.Context, string, string, string) error
	ListOptions(context.Context, string) ([]property.Option, error)
	CreateOption(context.Context, property.Option) (property.Option, error)
	UpdateOption(context.Context, property.Option) (property.Option, error)
	DeleteOption(context.Context, string, string) error
	GetEntity(context.Context, string, string, property.EntityRef) (property.Entity, error)
	ExistingRelations(context.Context, string, property.RelationType, []uuid.UUID) (map[uuid.UUID]bool, error)
	ListValues(context.Context, property.EntityRef, string) ([]property.ValueRow, error)
	ReplaceValues(context.Context, property.Entity, store.ReplaceFunc) (property.Replacement, error)
	ListActivities(context.Context, property.EntityRef, int) ([]property.Activity, error)
}

type schemaCache interface {
	Get(context.Context, string, string, string) ([]property.Definition, string, error)
	Set(context.Context, string, string, string, string, []property.Definition) error
	Invalidate(context.Context, string, string, string) error
	InvalidateProject(context.Context, string, string) error
	Ping(context.Context) error
}

type fileChecker interface {
	property.FileResolver
	Ping(context.Context) error
}

// Options carries the optional collaborators of the service. Nil fields
// disable the corresponding feature.
type Options struct {
	Cache       schemaCache
	Files       fileChecker
	Events      events.Publisher
	Integration property.Integration
	Logger      *slog.Logger
}

type Service struct {
	store       dataStore
	cache       schemaCache
	files       fileChecker
	events      events.Publisher
	integration property.Integration
	validator   *property.Validator
	logger      *slog.Logger
	loads       singleflight.Group
	now         func() time.Time
	newID       func() string
}

func New(dataStore dataStore, opts Options) *Service {
	s := &Service{
		store:       dataStore,
		cache:       opts.Cache,
		files:       opts.Files,
		events:      opts.Events,
		integration: opts.Integration,
		logger:      opts.Logger,
		now:         func() time.Time { return time.Now().UTC() },
		newID:       util.NewID,
	}
	if s.events == nil {
		s.events = events.Noop{}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	var files property.FileResolver
	if s.files != nil {
		files = s.files
	}
	s.validator = property.NewValidator(dataStore, files)
	return s
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Readiness pings every configured dependency. Keys are dependency names.
func (s *Service) Readiness(ctx context.Context) map[string]error {
	checks := map[string]error{"database": s.store.Ping(ctx)}
	if s.cache != nil {
		checks["cache"] = s.cache.Ping(ctx)
	}
	if s.files != nil {
		checks["files"] = s.files.Ping(ctx)
	}
	return checks
}

func (s *Service) ExternalSources() []string {
	return s.integration.Sources()
}

// schema returns the property definitions that scope an entity's values,
// reading through the cache when one is configured. An entity without an
// issue type has no properties; the project-wide listing never scopes values.
func (s *Service) schema(ctx context.Context, workspaceID, projectID, issueTypeID string) (property.Schema, error) {
	if issueTypeID == "" {
		return property.NewSchema(workspaceID, projectID, "", nil), nil
	}
	defs, err := s.definitions(ctx, workspaceID, projectID, issueTypeID)
	if err != nil {
		return property.Schema{}, err
	}
	return property.NewSchema(workspaceID, projectID, issueTypeID, defs), nil
}

// definitions loads the definitions of an issue type. Concurrent misses share
// one store query, which runs detached from any single caller's cancellation.
func (s *Service) definitions(ctx context.Context, workspaceID, projectID, issueTypeID string) ([]property.Definition, error) {
	var version string
	if s.cache != nil {
		defs, v, err := s.cache.Get(ctx, workspaceID, projectID, issueTypeID)
		if err == nil {
			return defs, nil
		}
		if errors.Is(err, cache.ErrMiss) {
			version = v
		} else {
			s.logger.Warn("schema cache read failed", "error", err, "issue_type_id", issueTypeID)
		}
	}

	key := workspaceID + "/" + projectID + "/" + issueTypeID + "@" + version
	loaded, err, _ := s.loads.Do(key, func() (any, error) {
		ctx := context.WithoutCancel(ctx)
		defs, err := s.store.ListProperties(ctx, workspaceID, projectID, issueTypeID)
		if err != nil {
			return nil, err
		}
		if s.cache != nil && version != "" {
			if err := s.cache.Set(ctx, workspaceID, projectID, issueTypeID, version, defs); err != nil {
				s.logger.Warn("schema cache write failed", "error", err, "issue_type_id", issueTypeID)
			}
		}
		return defs, nil
	})
	if err != nil {
		return nil, err
	}
	return loaded.([]property.Definition), nil
}

// freshSchema reloads an issue type's definitions from the store, bypassing
// the cache.
func (s *Service) freshSchema(ctx context.Context, workspaceID, projectID, issueTypeID string) (property.Schema, error) {
	if issueTypeID == "" {
		return property.NewSchema(workspaceID, projectID, "", nil), nil
	}
	defs, err := s.store.ListProperties(ctx, workspaceID, projectID, issueTypeID)
	if err != nil {
		return property.Schema{}, err
	}
	return property.NewSchema(workspaceID, projectID, issueTypeID, defs), nil
}

func (s *Service) invalidateSchema(ctx context.Context, workspaceID, projectID, issueTypeID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, workspaceID, projectID, issueTypeID); err != nil {
		s.logger.Warn("schema cache invalidation failed", "error", err, "issue_type_id", issueTypeID)
	}
}

func (s *Service) invalidateProject(ctx context.Context, workspaceID, projectID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateProject(ctx, workspaceID, projectID); err != nil {
		s.logger.Warn("schema cache invalidation failed", "error", err, "project_id", projectID)
	}
}

// publish never fails the request; a lost event is logged.
func (s *Service) publish(ctx context.Context, event events.Event) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = s.now()
	}
	if err := s.events.Publish(ctx, event); err != nil {
		s.logger.Warn("event publish failed", "error", err, "type", event.Type, "resource_id", event.ResourceID)
	}
}
