// Package storage implements the source registry and tender store over
// Postgres.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"

	"TenderScanner/internal/domain"
	"TenderScanner/internal/ports"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// PostgresStore persists tender records and serves source configurations.
type PostgresStore struct {
	db *sqlx.DB
}

var _ ports.TenderStore = (*PostgresStore)(nil)
var _ ports.SourceRegistry = (*PostgresStore)(nil)

// NewPostgresStore wires an sqlx database handle.
func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Exists reports whether a record with the given dedup key is already stored.
func (s *PostgresStore) Exists(ctx context.Context, sourceName, url string) (bool, error) {
	query, args, err := psql.Select("1").
		From("tenders").
		Where(sq.Eq{"source_name": sourceName, "source_url": url}).
		Limit(1).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build exists query: %w", err)
	}

	var one int
	err = s.db.GetContext(ctx, &one, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check tender exists: %w", err)
	}
	return true, nil
}

// Insert stores a finalized tender record.
func (s *PostgresStore) Insert(ctx context.Context, record domain.TenderRecord) error {
	builder := psql.Insert("tenders").
		Columns("source_name", "source_url", "original_id", "title", "content",
			"raw_html", "published_at", "project_name", "budget_amount",
			"budget_currency", "deadline", "contact_person", "contact_phone",
			"contact_email", "location", "extracted_data",
			"is_filtered", "filter_reason")

	var extracted domain.ExtractedFields
	var extractedJSON any
	if record.Extracted != nil {
		extracted = *record.Extracted
		raw, err := json.Marshal(record.Extracted)
		if err != nil {
			return fmt.Errorf("marshal extracted fields: %w", err)
		}
		extractedJSON = raw
	}

	builder = builder.Values(
		record.SourceName,
		record.SourceURL,
		nullString(record.OriginalID),
		record.Title,
		record.Content,
		nullString(record.RawHTML),
		record.PublishedAt,
		nullString(extracted.ProjectName),
		extracted.BudgetAmount,
		nullString(extracted.BudgetCurrency),
		extracted.Deadline,
		nullString(extracted.ContactPerson),
		nullString(extracted.ContactPhone),
		nullString(extracted.ContactEmail),
		nullString(extracted.Location),
		extractedJSON,
		record.IsFiltered,
		nullString(record.FilterReason),
	)

	query, args, err := builder.ToSql()
	if err != nil {
		return fmt.Errorf("build insert query: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert tender: %w", err)
	}
	return nil
}

const sourceColumns = "id, name, url, scraper_type, config, filter_rules, is_active, last_run_at"

type sourceRow struct {
	ID          int64           `db:"id"`
	Name        string          `db:"name"`
	URL         string          `db:"url"`
	ScraperType string          `db:"scraper_type"`
	Config      json.RawMessage `db:"config"`
	FilterRules json.RawMessage `db:"filter_rules"`
	Active      bool            `db:"is_active"`
	LastRunAt   *time.Time      `db:"last_run_at"`
}

// Get returns one source configuration or ports.ErrNotFound.
func (s *PostgresStore) Get(ctx context.Context, id int64) (domain.Source, error) {
	query, args, err := psql.Select(sourceColumns).
		From("source_configs").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return domain.Source{}, fmt.Errorf("build source query: %w", err)
	}

	var row sourceRow
	err = s.db.GetContext(ctx, &row, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Source{}, ports.ErrNotFound
	}
	if err != nil {
		return domain.Source{}, fmt.Errorf("select source %d: %w", id, err)
	}

	return row.toDomain()
}

// ListActive enumerates every active source configuration.
func (s *PostgresStore) ListActive(ctx context.Context) ([]domain.Source, error) {
	query, args, err := psql.Select(sourceColumns).
		From("source_configs").
		Where(sq.Eq{"is_active": true}).
		OrderBy("id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build active sources query: %w", err)
	}

	var rows []sourceRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("select active sources: %w", err)
	}

	sources := make([]domain.Source, 0, len(rows))
	for _, row := range rows {
		source, convErr := row.toDomain()
		if convErr != nil {
			return nil, convErr
		}
		sources = append(sources, source)
	}
	return sources, nil
}

// SetLastRun records the end of a source's batch.
func (s *PostgresStore) SetLastRun(ctx context.Context, id int64, at time.Time) error {
	query, args, err := psql.Update("source_configs").
		Set("last_run_at", at).
		Set("updated_at", sq.Expr("NOW()")).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build last run update: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("update last run for source %d: %w", id, err)
	}
	return nil
}

func (r sourceRow) toDomain() (domain.Source, error) {
	source := domain.Source{
		ID:          r.ID,
		Name:        r.Name,
		URL:         r.URL,
		ScraperType: r.ScraperType,
		Active:      r.Active,
		LastRunAt:   r.LastRunAt,
	}

	if len(r.Config) > 0 {
		if err := json.Unmarshal(r.Config, &source.Params); err != nil {
			return domain.Source{}, fmt.Errorf("decode config for source %s: %w", r.Name, err)
		}
	}

	if len(r.FilterRules) > 0 && string(r.FilterRules) != "null" {
		var rules domain.FilterRules
		if err := json.Unmarshal(r.FilterRules, &rules); err != nil {
			return domain.Source{}, fmt.Errorf("decode filter rules for source %s: %w", r.Name, err)
		}
		source.FilterRules = &rules
	}

	return source, nil
}

func nullString(value string) any {
	if value == "" {
		return nil
	}
	return value
}
