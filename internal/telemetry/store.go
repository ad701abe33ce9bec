package telemetry

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"issueprops/api/internal/property"
	"issueprops/api/internal/store"
)

const storeScopeName = "issueprops/api/store"

// InstrumentedStore wraps store.Store with a span and metrics per call.
type InstrumentedStore struct {
	inner  store.Store
	tracer trace.Tracer
	ops    metric.Int64Counter
	dur    metric.Float64Histogram
	errs   metric.Int64Counter
}

// WrapStore returns s decorated with instrumentation, or s itself when
// telemetry is disabled.
func WrapStore(s store.Store) store.Store {
	if !Enabled() {
		return s
	}
	m := Meter(storeScopeName)
	ops, _ := m.Int64Counter("issueprops.store.operations",
		metric.WithDescription("Total store operations executed"),
	)
	dur, _ := m.Float64Histogram("issueprops.store.operation.duration",
		metric.WithDescription("Store operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	errs, _ := m.Int64Counter("issueprops.store.errors",
		metric.WithDescription("Total store operation errors"),
	)
	return &InstrumentedStore{
		inner:  s,
		tracer: Tracer(storeScopeName),
		ops:    ops,
		dur:    dur,
		errs:   errs,
	}
}

func (s *InstrumentedStore) op(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span, time.Time) {
	all := append([]attribute.KeyValue{attribute.String("db.operation", name)}, attrs...)
	ctx, span := s.tracer.Start(ctx, "store."+name,
		trace.WithAttributes(all...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
	s.ops.Add(ctx, 1, metric.WithAttributes(all...))
	return ctx, span, time.Now()
}

func (s *InstrumentedStore) done(ctx context.Context, span trace.Span, start time.Time, err error, attrs ...attribute.KeyValue) {
	ms := float64(time.Since(start).Milliseconds())
	s.dur.Record(ctx, ms, metric.WithAttributes(attrs...))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.errs.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
	span.End()
}

func workspaceAttrs(workspaceID, projectID string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("issueprops.workspace", workspaceID),
		attribute.String("issueprops.project", projectID),
	}
}

func (s *InstrumentedStore) Ping(ctx context.Context) error {
	ctx, span, t := s.op(ctx, "Ping")
	err := s.inner.Ping(ctx)
	s.done(ctx, span, t, err)
	return err
}

// Issue types

func (s *InstrumentedStore) CreateIssueType(ctx context.Context, issueType property.IssueType, projectID string) (property.IssueType, error) {
	attrs := workspaceAttrs(issueType.WorkspaceID, projectID)
	ctx, span, t := s.op(ctx, "CreateIssueType", attrs...)
	v, err := s.inner.CreateIssueType(ctx, issueType, projectID)
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

func (s *InstrumentedStore) GetIssueType(ctx context.Context, workspaceID, projectID, id string) (property.IssueType, error) {
	attrs := workspaceAttrs(workspaceID, projectID)
	ctx, span, t := s.op(ctx, "GetIssueType", attrs...)
	v, err := s.inner.GetIssueType(ctx, workspaceID, projectID, id)
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

func (s *InstrumentedStore) ListIssueTypes(ctx context.Context, workspaceID, projectID string) ([]property.IssueType, error) {
	attrs := workspaceAttrs(workspaceID, projectID)
	ctx, span, t := s.op(ctx, "ListIssueTypes", attrs...)
	v, err := s.inner.ListIssueTypes(ctx, workspaceID, projectID)
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

func (s *InstrumentedStore) UpdateIssueType(ctx context.Context, issueType property.IssueType) (property.IssueType, error) {
	attrs := workspaceAttrs(issueType.WorkspaceID, issueType.ProjectID)
	ctx, span, t := s.op(ctx, "UpdateIssueType", attrs...)
	v, err := s.inner.UpdateIssueType(ctx, issueType)
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

func (s *InstrumentedStore) DeleteIssueType(ctx context.Context, workspaceID, projectID, id, actor string) (bool, error) {
	attrs := workspaceAttrs(workspaceID, projectID)
	ctx, span, t := s.op(ctx, "DeleteIssueType", attrs...)
	soft, err := s.inner.DeleteIssueType(ctx, workspaceID, projectID, id, actor)
	s.done(ctx, span, t, err, attrs...)
	return soft, err
}

// Properties and options

func (s *InstrumentedStore) CreateProperty(ctx context.Context, def property.Definition) (property.Definition, error) {
	attrs := append(workspaceAttrs(def.WorkspaceID, def.ProjectID), attribute.String("issueprops.property.type", string(def.Kind)))
	ctx, span, t := s.op(ctx, "CreateProperty", attrs...)
	v, err := s.inner.CreateProperty(ctx, def)
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

func (s *InstrumentedStore) GetProperty(ctx context.Context, workspaceID, projectID, id string) (property.Definition, error) {
	attrs := workspaceAttrs(workspaceID, projectID)
	ctx, span, t := s.op(ctx, "GetProperty", attrs...)
	v, err := s.inner.GetProperty(ctx, workspaceID, projectID, id)
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

func (s *InstrumentedStore) ListProperties(ctx context.Context, workspaceID, projectID, issueTypeID string) ([]property.Definition, error) {
	attrs := workspaceAttrs(workspaceID, projectID)
	ctx, span, t := s.op(ctx, "ListProperties", attrs...)
	v, err := s.inner.ListProperties(ctx, workspaceID, projectID, issueTypeID)
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

func (s *InstrumentedStore) UpdateProperty(ctx context.Context, def property.Definition) (property.Definition, error) {
	attrs := workspaceAttrs(def.WorkspaceID, def.ProjectID)
	ctx, span, t := s.op(ctx, "UpdateProperty", attrs...)
	v, err := s.inner.UpdateProperty(ctx, def)
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

func (s *InstrumentedStore) DeleteProperty(ctx context.Context, workspaceID, projectID, id string) error {
	attrs := workspaceAttrs(workspaceID, projectID)
	ctx, span, t := s.op(ctx, "DeleteProperty", attrs...)
	err := s.inner.DeleteProperty(ctx, workspaceID, projectID, id)
	s.done(ctx, span, t, err, attrs...)
	return err
}

func (s *InstrumentedStore) ListOptions(ctx context.Context, propertyID string) ([]property.Option, error) {
	ctx, span, t := s.op(ctx, "ListOptions")
	v, err := s.inner.ListOptions(ctx, propertyID)
	s.done(ctx, span, t, err)
	return v, err
}

func (s *InstrumentedStore) CreateOption(ctx context.Context, opt property.Option) (property.Option, error) {
	ctx, span, t := s.op(ctx, "CreateOption")
	v, err := s.inner.CreateOption(ctx, opt)
	s.done(ctx, span, t, err)
	return v, err
}

func (s *InstrumentedStore) UpdateOption(ctx context.Context, opt property.Option) (property.Option, error) {
	ctx, span, t := s.op(ctx, "UpdateOption")
	v, err := s.inner.UpdateOption(ctx, opt)
	s.done(ctx, span, t, err)
	return v, err
}

func (s *InstrumentedStore) DeleteOption(ctx context.Context, propertyID, id string) error {
	ctx, span, t := s.op(ctx, "DeleteOption")
	err := s.inner.DeleteOption(ctx, propertyID, id)
	s.done(ctx, span, t, err)
	return err
}

// Values

func (s *InstrumentedStore) GetEntity(ctx context.Context, workspaceID, projectID string, ref property.EntityRef) (property.Entity, error) {
	attrs := append(workspaceAttrs(workspaceID, projectID), attribute.String("issueprops.entity.kind", string(ref.Kind)))
	ctx, span, t := s.op(ctx, "GetEntity", attrs...)
	v, err := s.inner.GetEntity(ctx, workspaceID, projectID, ref)
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

func (s *InstrumentedStore) ExistingRelations(ctx context.Context, workspaceID string, rt property.RelationType, ids []uuid.UUID) (map[uuid.UUID]bool, error) {
	attrs := []attribute.KeyValue{
		attribute.String("issueprops.relation_type", string(rt)),
		attribute.Int("issueprops.relation.count", len(ids)),
	}
	ctx, span, t := s.op(ctx, "ExistingRelations", attrs...)
	v, err := s.inner.ExistingRelations(ctx, workspaceID, rt, ids)
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

func (s *InstrumentedStore) ListValues(ctx context.Context, ref property.EntityRef, propertyID string) ([]property.ValueRow, error) {
	attrs := []attribute.KeyValue{attribute.String("issueprops.entity.kind", string(ref.Kind))}
	ctx, span, t := s.op(ctx, "ListValues", attrs...)
	v, err := s.inner.ListValues(ctx, ref, propertyID)
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

func (s *InstrumentedStore) ReplaceValues(ctx context.Context, entity property.Entity, build store.ReplaceFunc) (property.Replacement, error) {
	attrs := append(workspaceAttrs(entity.WorkspaceID, entity.ProjectID), attribute.String("issueprops.entity.kind", string(entity.Kind)))
	ctx, span, t := s.op(ctx, "ReplaceValues", attrs...)
	v, err := s.inner.ReplaceValues(ctx, entity, build)
	if err == nil {
		span.SetAttributes(
			attribute.Int("issueprops.values.rows", len(v.Rows)),
			attribute.Int("issueprops.values.activities", len(v.Activities)),
		)
	}
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

func (s *InstrumentedStore) ListActivities(ctx context.Context, ref property.EntityRef, limit int) ([]property.Activity, error) {
	attrs := []attribute.KeyValue{attribute.String("issueprops.entity.kind", string(ref.Kind))}
	ctx, span, t := s.op(ctx, "ListActivities", attrs...)
	v, err := s.inner.ListActivities(ctx, ref, limit)
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

var _ store.Store = (*InstrumentedStore)(nil)
