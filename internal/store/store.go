package store

import (
	"context"

	"github.com/google/uuid"

	"issueprops/api/internal/property"
)

// Store is the persistence contract of the service. PostgresStore is the
// production implementation; telemetry wraps it with tracing.
type Store interface {
	Ping(ctx context.Context) error

	CreateIssueType(ctx context.Context, issueType property.IssueType, projectID string) (property.IssueType, error)
	GetIssueType(ctx context.Context, workspaceID, projectID, id string) (property.IssueType, error)
	ListIssueTypes(ctx context.Context, workspaceID, projectID string) ([]property.IssueType, error)
	UpdateIssueType(ctx context.Context, issueType property.IssueType) (property.IssueType, error)
	DeleteIssueType(ctx context.Context, workspaceID, projectID, id, actor string) (soft bool, err error)

	CreateProperty(ctx context.Context, def property.Definition) (property.Definition, error)
	GetProperty(ctx context.Context, workspaceID, projectID, id string) (property.Definition, error)
	ListProperties(ctx context.Context, workspaceID, projectID, issueTypeID string) ([]property.Definition, error)
	UpdateProperty(ctx context.Context, def property.Definition) (property.Definition, error)
	DeleteProperty(ctx context.Context, workspaceID, projectID, id string) error

	ListOptions(ctx context.Context, propertyID string) ([]property.Option, error)
	CreateOption(ctx context.Context, opt property.Option) (property.Option, error)
	UpdateOption(ctx context.Context, opt property.Option) (property.Option, error)
	DeleteOption(ctx context.Context, propertyID, id string) error

	GetEntity(ctx context.Context, workspaceID, projectID string, ref property.EntityRef) (property.Entity, error)
	ExistingRelations(ctx context.Context, workspaceID string, rt property.RelationType, ids []uuid.UUID) (map[uuid.UUID]bool, error)
	ListValues(ctx context.Context, ref property.EntityRef, propertyID string) ([]property.ValueRow, error)
	ReplaceValues(ctx context.Context, entity property.Entity, build ReplaceFunc) (property.Replacement, error)
	ListActivities(ctx context.Context, ref property.EntityRef, limit int) ([]property.Activity, error)
}

// ReplaceFunc computes the replacement for an entity from the rows stored
// for it. It runs inside the write transaction after the entity is locked,
// so existing reflects every committed write. Returning an error aborts the
// transaction without writing.
type ReplaceFunc func(ctx context.Context, existing []property.ValueRow) (property.Replacement, error)

var _ Store = (*PostgresStore)(nil)
