// Package metadata provides the GORM-backed trace metadata store. It reads
// the trace items of a scope for the check engine and receives the
// annotations, reports, and policies written back by result handlers.
package metadata

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tracelens/dispatch/pkg/dispatch/adapter/database"
	"github.com/tracelens/dispatch/pkg/dispatch/core/application/port"
	model "github.com/tracelens/dispatch/pkg/dispatch/core/domain/model"
	"github.com/tracelens/dispatch/pkg/dispatch/support/util/exception"
)

const moduleName = "metadata_store"

// GormMetadataStore implements the port.TraceSource, port.AnnotationSink,
// port.ReportSink, and port.PolicySink interfaces over a resolved database
// connection.
type GormMetadataStore struct {
	dbResolver database.DBConnectionResolver
	// dbName is the logical name of the database connection used by this
	// store (e.g. "metadata").
	dbName string
}

// NewGormMetadataStore creates a new instance of GormMetadataStore.
//
// Parameters:
//
//	dbResolver: The database connection resolver.
//	dbName: The logical name of the database connection to be used by this store.
//
// Returns:
//
//	A new instance of GormMetadataStore.
func NewGormMetadataStore(dbResolver database.DBConnectionResolver, dbName string) *GormMetadataStore {
	return &GormMetadataStore{
		dbResolver: dbResolver,
		dbName:     dbName,
	}
}

// getDB resolves the store's database connection and returns a GORM handle
// bound to the given context.
func (s *GormMetadataStore) getDB(ctx context.Context) (*gorm.DB, error) {
	conn, err := s.dbResolver.ResolveDBConnection(ctx, s.dbName)
	if err != nil {
		return nil, exception.NewDispatchError(moduleName, fmt.Sprintf("failed to resolve DB connection '%s'", s.dbName), err, true)
	}
	return conn.GormDB().WithContext(ctx), nil
}

// writeSession returns a session that issues single statements without the
// default wrapping transaction.
func writeSession(db *gorm.DB) *gorm.DB {
	return db.Session(&gorm.Session{SkipDefaultTransaction: true})
}

// --- TraceSource implementation ---

func (s *GormMetadataStore) CountItems(ctx context.Context, scopeID string) (int, error) {
	const op = "GormMetadataStore.CountItems"

	db, err := s.getDB(ctx)
	if err != nil {
		return 0, err
	}

	var count int64
	if err := db.Model(&TraceItemEntity{}).Where("scope_id = ?", scopeID).Count(&count).Error; err != nil {
		return 0, exception.NewDispatchError(moduleName, fmt.Sprintf("%s: failed to count items of scope %s", op, scopeID), err, true)
	}
	return int(count), nil
}

func (s *GormMetadataStore) LoadItems(ctx context.Context, scopeID string) ([]model.ScopeItem, error) {
	const op = "GormMetadataStore.LoadItems"

	db, err := s.getDB(ctx)
	if err != nil {
		return nil, err
	}

	var entities []TraceItemEntity
	err = db.Where("scope_id = ?", scopeID).Order("ordinal ASC").Find(&entities).Error
	if err != nil {
		return nil, exception.NewDispatchError(moduleName, fmt.Sprintf("%s: failed to load items of scope %s", op, scopeID), err, true)
	}
	if len(entities) == 0 {
		return nil, fmt.Errorf("%w: %s", port.ErrScopeNotFound, scopeID)
	}

	items := make([]model.ScopeItem, 0, len(entities))
	for i := range entities {
		items = append(items, toDomainScopeItem(&entities[i]))
	}
	return items, nil
}

// --- AnnotationSink implementation ---

func (s *GormMetadataStore) WriteAnnotations(ctx context.Context, scopeID string, annotations []model.Annotation) error {
	const op = "GormMetadataStore.WriteAnnotations"

	if len(annotations) == 0 {
		return nil
	}

	db, err := s.getDB(ctx)
	if err != nil {
		return err
	}

	entities := make([]AnnotationEntity, 0, len(annotations))
	for i := range annotations {
		entity, err := fromDomainAnnotation(scopeID, &annotations[i])
		if err != nil {
			return exception.NewDispatchError(moduleName, fmt.Sprintf("%s: failed to encode annotation '%s' for item %s", op, annotations[i].Key, annotations[i].ItemID), err, false)
		}
		entities = append(entities, *entity)
	}

	onConflict := clause.OnConflict{
		Columns:   []clause.Column{{Name: "scope_id"}, {Name: "item_id"}, {Name: "annotation_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"annotation_value"}),
	}
	if err := writeSession(db).Clauses(onConflict).Create(&entities).Error; err != nil {
		return exception.NewDispatchError(moduleName, fmt.Sprintf("%s: failed to write %d annotations for scope %s", op, len(entities), scopeID), err, true)
	}
	return nil
}

// --- ReportSink implementation ---

func (s *GormMetadataStore) SaveReport(ctx context.Context, report *model.AnalysisReport) error {
	const op = "GormMetadataStore.SaveReport"

	db, err := s.getDB(ctx)
	if err != nil {
		return err
	}

	entity, err := fromDomainReport(report)
	if err != nil {
		return exception.NewDispatchError(moduleName, fmt.Sprintf("%s: failed to encode report of job %s", op, report.JobID), err, false)
	}
	if err := writeSession(db).Create(entity).Error; err != nil {
		return exception.NewDispatchError(moduleName, fmt.Sprintf("%s: failed to save report of job %s", op, report.JobID), err, true)
	}
	return nil
}

// --- PolicySink implementation ---

func (s *GormMetadataStore) AppendGeneratedPolicy(ctx context.Context, policy *model.GeneratedPolicy) error {
	const op = "GormMetadataStore.AppendGeneratedPolicy"

	db, err := s.getDB(ctx)
	if err != nil {
		return err
	}

	if err := writeSession(db).Create(fromDomainPolicy(policy)).Error; err != nil {
		return exception.NewDispatchError(moduleName, fmt.Sprintf("%s: failed to append policy of job %s", op, policy.JobID), err, true)
	}
	return nil
}

var (
	_ port.TraceSource    = (*GormMetadataStore)(nil)
	_ port.AnnotationSink = (*GormMetadataStore)(nil)
	_ port.ReportSink     = (*GormMetadataStore)(nil)
	_ port.PolicySink     = (*GormMetadataStore)(nil)
)
