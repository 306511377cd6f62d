package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/spherical-ai/spherical/libs/compliance-engine/internal/domain"
	"github.com/spherical-ai/spherical/libs/compliance-engine/internal/observability"
)

const meterColumns = `id, model_name, device_short_name, series_name, product_name, selection_blurb`

// meterMatchers are tried in order; the first row found wins.
var meterMatchers = []struct {
	name    string
	where   string
	partial bool
}{
	{"exact model_name", "model_name = $1", false},
	{"exact device_short_name", "device_short_name = $1", false},
	{"exact series_name", "series_name = $1", false},
	{"case-insensitive model_name", "UPPER(model_name) = UPPER($1)", false},
	{"case-insensitive device_short_name", "UPPER(device_short_name) = UPPER($1)", false},
	{"partial model_name", "model_name LIKE $1", true},
	{"partial device_short_name", "device_short_name LIKE $1", true},
	{"partial product_name", "product_name LIKE $1", true},
}

// DefaultCandidateLimit caps the candidate pool.
const DefaultCandidateLimit = 25

// SQLStore reads meters and products from the relational catalogue.
type SQLStore struct {
	db     DB
	logger *observability.Logger
}

// NewSQLStore creates a store over db.
func NewSQLStore(db DB, logger *observability.Logger) *SQLStore {
	return &SQLStore{db: db, logger: observability.OrNop(logger).WithComponent("sql_store")}
}

type meterRow struct {
	id          int64
	modelName   string
	shortName   sql.NullString
	seriesName  sql.NullString
	productName sql.NullString
	blurb       sql.NullString
}

// Find resolves modelNumber through the match ladder and loads every related table.
func (s *SQLStore) Find(ctx context.Context, modelNumber string) (*domain.MeterSpec, error) {
	modelNumber = strings.TrimSpace(modelNumber)
	if modelNumber == "" {
		return nil, domain.ErrSpecNotFound
	}

	row, matchedBy, err := s.findMeter(ctx, modelNumber)
	if err != nil {
		return nil, err
	}

	spec := &domain.MeterSpec{
		ModelNumber: row.modelName,
		ProductName: row.productName.String,
		Series:      row.seriesName.String,
		Description: row.blurb.String,
		Source:      domain.SourceDatabase,
	}
	if spec.Description == "" {
		spec.Description = row.productName.String
	}

	if err := s.loadRelated(ctx, row.id, spec); err != nil {
		return nil, err
	}

	s.logger.Debug().
		Str("model", modelNumber).
		Str("matched", row.modelName).
		Str("strategy", matchedBy).
		Msg("meter found")
	return spec, nil
}

func (s *SQLStore) findMeter(ctx context.Context, modelNumber string) (*meterRow, string, error) {
	for _, m := range meterMatchers {
		arg := modelNumber
		if m.partial {
			arg = "%" + modelNumber + "%"
		}

		query := `SELECT ` + meterColumns + ` FROM Meters WHERE ` + m.where + ` ORDER BY id LIMIT 1`
		row := &meterRow{}
		err := s.db.QueryRowContext(ctx, query, arg).Scan(
			&row.id, &row.modelName, &row.shortName, &row.seriesName, &row.productName, &row.blurb,
		)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, "", fmt.Errorf("query meters (%s): %w", m.name, err)
		}
		return row, m.name, nil
	}
	return nil, "", fmt.Errorf("%w: %s not in database", domain.ErrSpecNotFound, modelNumber)
}

func (s *SQLStore) loadRelated(ctx context.Context, meterID int64, spec *domain.MeterSpec) error {
	var err error

	if spec.Applications, err = s.stringColumn(ctx, `SELECT application FROM DeviceApplications WHERE meter_id = $1`, meterID); err != nil {
		return err
	}
	if spec.PowerQuality, err = s.stringColumn(ctx, `SELECT analysis_feature FROM PowerQualityAnalysis WHERE meter_id = $1`, meterID); err != nil {
		return err
	}
	if spec.Measurements, err = s.stringColumn(ctx, `SELECT measurement_type FROM Measurements WHERE meter_id = $1`, meterID); err != nil {
		return err
	}
	if spec.AccuracyClasses, err = s.stringColumn(ctx, `SELECT accuracy_class FROM AccuracyClasses WHERE meter_id = $1`, meterID); err != nil {
		return err
	}
	if spec.Certifications, err = s.stringColumn(ctx, `SELECT certification FROM Certifications WHERE meter_id = $1`, meterID); err != nil {
		return err
	}

	pairs, err := s.pairColumns(ctx, `SELECT parameter, accuracy FROM MeasurementAccuracy WHERE meter_id = $1`, meterID)
	if err != nil {
		return err
	}
	for _, p := range pairs {
		spec.Accuracy = append(spec.Accuracy, domain.AccuracyEntry{Parameter: p[0], Accuracy: p[1]})
	}

	pairs, err = s.pairColumns(ctx, `SELECT protocol, support FROM CommunicationProtocols WHERE meter_id = $1`, meterID)
	if err != nil {
		return err
	}
	for _, p := range pairs {
		spec.Communication = append(spec.Communication, joinLabel(p[0], p[1]))
	}

	pairs, err = s.pairColumns(ctx, `SELECT io_type, description FROM InputsOutputs WHERE meter_id = $1`, meterID)
	if err != nil {
		return err
	}
	for _, p := range pairs {
		spec.InputsOutputs = append(spec.InputsOutputs, joinLabel(p[0], p[1]))
	}

	recordings, err := s.stringColumn(ctx, `SELECT recording_type FROM DataRecordings WHERE meter_id = $1`, meterID)
	if err != nil {
		return err
	}
	if len(recordings) > 0 {
		spec.Technical = map[string]string{"Data recording": strings.Join(recordings, "; ")}
	}
	return nil
}

func joinLabel(name, detail string) string {
	if detail == "" {
		return name
	}
	return name + ": " + detail
}

func (s *SQLStore) stringColumn(ctx context.Context, query string, args ...interface{}) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query related: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v sql.NullString
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan related: %w", err)
		}
		if v.Valid && v.String != "" {
			out = append(out, v.String)
		}
	}
	return out, rows.Err()
}

func (s *SQLStore) pairColumns(ctx context.Context, query string, args ...interface{}) ([][2]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query related: %w", err)
	}
	defer rows.Close()

	var out [][2]string
	for rows.Next() {
		var a, b sql.NullString
		if err := rows.Scan(&a, &b); err != nil {
			return nil, fmt.Errorf("scan related: %w", err)
		}
		out = append(out, [2]string{a.String, b.String})
	}
	return out, rows.Err()
}

// Candidates returns catalogue products matching any pattern in filter, ordered by model.
// An empty filter returns the first products in the catalogue.
func (s *SQLStore) Candidates(ctx context.Context, filter domain.CandidateFilter) ([]domain.Candidate, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultCandidateLimit
	}

	var (
		conditions []string
		args       []interface{}
	)
	for _, p := range filter.ModelPatterns {
		args = append(args, strings.ToLower(p))
		conditions = append(conditions, fmt.Sprintf("LOWER(ModelNumber) LIKE $%d", len(args)))
	}
	for _, p := range filter.DescriptionPatterns {
		args = append(args, strings.ToLower(p))
		conditions = append(conditions, fmt.Sprintf("LOWER(ProductDescription) LIKE $%d", len(args)))
	}

	query := `SELECT ProductID, ModelNumber, ProductDescription, MID_Certified FROM Products`
	if len(conditions) > 0 {
		query += ` WHERE ` + strings.Join(conditions, " OR ")
	}
	args = append(args, limit)
	query += fmt.Sprintf(` ORDER BY ModelNumber LIMIT $%d`, len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query products: %w", err)
	}
	defer rows.Close()

	var out []domain.Candidate
	for rows.Next() {
		c, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Product looks up one catalogue entry, exact model first, then partial.
func (s *SQLStore) Product(ctx context.Context, modelNumber string) (*domain.Candidate, error) {
	queries := []struct {
		query string
		arg   string
	}{
		{`SELECT ProductID, ModelNumber, ProductDescription, MID_Certified FROM Products WHERE ModelNumber = $1 LIMIT 1`, modelNumber},
		{`SELECT ProductID, ModelNumber, ProductDescription, MID_Certified FROM Products WHERE ModelNumber LIKE $1 ORDER BY ModelNumber LIMIT 1`, "%" + modelNumber + "%"},
	}

	for _, q := range queries {
		rows, err := s.db.QueryContext(ctx, q.query, q.arg)
		if err != nil {
			return nil, fmt.Errorf("query product: %w", err)
		}
		if rows.Next() {
			c, err := scanProduct(rows)
			rows.Close()
			if err != nil {
				return nil, err
			}
			return &c, nil
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, fmt.Errorf("query product: %w", err)
		}
	}
	return nil, fmt.Errorf("%w: product %s", domain.ErrSpecNotFound, modelNumber)
}

func scanProduct(rows *sql.Rows) (domain.Candidate, error) {
	var (
		id, model, desc sql.NullString
		mid             sql.NullInt64
	)
	if err := rows.Scan(&id, &model, &desc, &mid); err != nil {
		return domain.Candidate{}, fmt.Errorf("scan product: %w", err)
	}
	description := desc.String
	if mid.Valid && mid.Int64 != 0 {
		description = strings.TrimSpace(description + " (MID certified)")
	}
	return domain.Candidate{
		ModelNumber: model.String,
		Description: description,
		ProductID:   id.String,
		Source:      domain.SourceDatabase,
	}, nil
}
