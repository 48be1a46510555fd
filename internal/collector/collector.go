package collector

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"filesweep/internal/logging"
	"filesweep/internal/refsource"
)

// Options tune reference extraction.
type Options struct {
	Placeholders []string
	LegacyHosts  []string
	PageSize     int
}

// Collector enumerates every place the relational store records an expected
// file. It walks entity tables one at a time to keep load on the database low.
type Collector struct {
	source       refsource.Source
	catalog      Catalog
	pageSize     int
	placeholders map[string]struct{}
	legacyHosts  map[string]struct{}
	logger       *slog.Logger
}

// New builds a collector over source.
func New(source refsource.Source, catalog Catalog, opts Options, logger *slog.Logger) *Collector {
	c := &Collector{
		source:       source,
		catalog:      catalog,
		pageSize:     opts.PageSize,
		placeholders: toSet(opts.Placeholders, false),
		legacyHosts:  toSet(opts.LegacyHosts, true),
		logger:       logging.NewComponentLogger(logger, "collector"),
	}
	return c
}

func toSet(values []string, lower bool) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if lower {
			v = strings.ToLower(v)
		}
		if v != "" {
			set[v] = struct{}{}
		}
	}
	return set
}

// Collect streams references under root (the environment prefix) to emit.
// Per-record problems are logged and counted; only source failures are returned.
func (c *Collector) Collect(ctx context.Context, root string, emit func(FileReference)) (Stats, error) {
	stats := Stats{ByKind: make(map[SourceKind]int)}
	logger := logging.WithContext(ctx, c.logger)

	for _, entity := range c.catalog.Entities {
		before := stats
		query := refsource.Query{
			Table:    entity.Table,
			IDColumn: entity.IDColumn,
			Columns:  entity.Columns(),
			PageSize: c.pageSize,
		}
		err := c.source.Scan(ctx, query, func(row refsource.Row) error {
			stats.Records++
			refs, issues := c.extract(root, entity, Record(row))
			for _, issue := range issues {
				c.report(logger, &stats, issue)
			}
			for _, ref := range refs {
				stats.References++
				stats.ByKind[ref.SourceKind]++
				emit(ref)
			}
			return nil
		})
		if err != nil {
			return stats, fmt.Errorf("collect %s: %w", entity.Type, err)
		}
		logger.Info("entity collected",
			logging.String("entity_type", entity.Type),
			logging.Int("records", stats.Records-before.Records),
			logging.Int("references", stats.References-before.References),
			logging.Int("collection_errors", stats.CollectionErrors-before.CollectionErrors),
			logging.Int("data_quality_warnings", stats.DataQualityWarnings-before.DataQualityWarnings),
		)
	}
	return stats, nil
}

// extract applies every field strategy of entity to rec, resolving polymorphic
// owners first.
func (c *Collector) extract(root string, entity EntitySpec, rec Record) ([]FileReference, []Issue) {
	ec := ExtractContext{
		Root:         root,
		EntityType:   entity.Type,
		EntityID:     stringValue(rec[entity.IDColumn]),
		Visibility:   entity.Visibility,
		AssetClass:   entity.AssetClass,
		Placeholders: c.placeholders,
		LegacyHosts:  c.legacyHosts,
	}

	if entity.Polymorphic != nil {
		owner, ownerID, issue := c.resolveOwner(entity, rec)
		if issue != nil {
			issue.EntityID = ec.EntityID
			return nil, []Issue{*issue}
		}
		ec.EntityType = owner.Type
		ec.EntityID = ownerID
		ec.Visibility = owner.Visibility
		ec.AssetClass = owner.AssetClass
		ec.SourceKind = KindPolymorphic
	}

	var (
		refs   []FileReference
		issues []Issue
	)
	for _, field := range entity.Fields {
		strategy, ok := StrategyFor(field.Kind)
		if !ok {
			issues = append(issues, Issue{Kind: IssueMalformed, EntityType: entity.Type, EntityID: ec.EntityID, FieldName: field.Name, Message: fmt.Sprintf("unknown source kind %q", field.Kind)})
			continue
		}
		fec := ec
		fec.Field = field
		r, i := strategy(fec, rec)
		refs = append(refs, r...)
		issues = append(issues, i...)
	}
	return refs, issues
}

func (c *Collector) resolveOwner(entity EntitySpec, rec Record) (EntitySpec, string, *Issue) {
	poly := entity.Polymorphic
	rawType := strings.TrimSpace(stringValue(rec[poly.TypeColumn]))
	ownerID := strings.TrimSpace(stringValue(rec[poly.OwnerIDColumn]))
	fail := func(format string, args ...any) (EntitySpec, string, *Issue) {
		return EntitySpec{}, "", &Issue{Kind: IssueMalformed, EntityType: entity.Type, FieldName: poly.TypeColumn, Message: fmt.Sprintf(format, args...)}
	}
	if rawType == "" || ownerID == "" {
		return fail("polymorphic owner is incomplete (type %q, id %q)", rawType, ownerID)
	}
	target, ok := poly.TypeMap[rawType]
	if !ok {
		return fail("unknown owner type %q", rawType)
	}
	owner, ok := c.catalog.Lookup(target)
	if !ok {
		return fail("owner type %q maps to unregistered entity %q", rawType, target)
	}
	return owner, ownerID, nil
}

func (c *Collector) report(logger *slog.Logger, stats *Stats, issue Issue) {
	attrs := []logging.Attr{
		logging.String("entity_type", issue.EntityType),
		logging.String("entity_id", issue.EntityID),
		logging.String("field", issue.FieldName),
		logging.String("detail", issue.Message),
	}
	switch issue.Kind {
	case IssueDataQuality:
		stats.DataQualityWarnings++
		logging.WarnWithContext(logger, "data quality warning", logging.EventDataQuality,
			append(attrs,
				logging.String(logging.FieldErrorHint, "fix the row or clear the flag so the file is not reported missing"),
				logging.String(logging.FieldImpact, "no reference emitted for this field"),
			)...)
	default:
		stats.CollectionErrors++
		err := &CollectionError{EntityType: issue.EntityType, EntityID: issue.EntityID, FieldName: issue.FieldName, Reason: issue.Message}
		logging.WarnWithContext(logger, "record skipped", logging.EventCollectionError,
			append(attrs,
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "inspect the record; malformed rows are excluded from reconciliation"),
				logging.String(logging.FieldImpact, "files referenced only by this record may be treated as orphans"),
			)...)
	}
}
