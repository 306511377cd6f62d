package storage

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical-ai/spherical/libs/compliance-engine/internal/cache"
	"github.com/spherical-ai/spherical/libs/compliance-engine/internal/domain"
)

const testKnowledgeBase = `{
  "PM5000_Series": {
    "model": "PowerLogic PM5000",
    "summary": "Mid-range power meter for cost management.",
    "performance_and_accuracy": [
      {"parameter": "Active energy", "standard": "IEC 62053-22", "class_or_accuracy": "Class 0.5S"},
      {"parameter": "Voltage", "standard": "IEC 61557-12", "class_or_accuracy": "±0.1%"},
    ],
    "technical_specifications": {
      "Communication": ["Modbus RTU over RS-485", "Modbus TCP"],
      "Electrical": {"Sampling rate": "64 samples/cycle", "Frequency": "50/60 Hz"},
      "Display": "Backlit LCD",
    },
    "model_breakdown": [
      {"model_name": "PM5560 (Ethernet)", "key_differentiator": "Dual Ethernet ports"},
      {"model_name": "PM53xx", "key_differentiator": "Basic RS-485 models"},
    ]
  },
  "PM8000_Series": {
    "model": "PowerLogic PM8000",
    "summary": "High-end power quality meter.",
    "performance_and_accuracy": [
      {"parameter": "Active energy", "standard": "IEC 62053-22", "class_or_accuracy": "Class 0.2S"}
    ],
    "technical_specifications": {"Power quality": ["Harmonics to 63rd", "Sag/swell"]},
    "model_breakdown": [
      {"model_name": "PM82xx panel", "key_differentiator": "Panel mount"},
      {"model_name": "PM83xx DIN", "key_differentiator": "DIN rail"}
    ]
  },
  "iEM3000_Series": {
    "model": "Acti9 iEM3000",
    "summary": "DIN rail energy meter.",
    "performance_and_accuracy": [],
    "technical_specifications": {},
    "model_breakdown": []
  }
}`

func loadTestKB(t *testing.T) *KnowledgeBase {
	t.Helper()
	kb, err := ParseKnowledgeBase([]byte(testKnowledgeBase), nil)
	require.NoError(t, err)
	return kb
}

func TestKnowledgeBase_Find(t *testing.T) {
	kb := loadTestKB(t)
	ctx := context.Background()

	tests := []struct {
		model   string
		series  string
		variant string
	}{
		{"PM5560", "PM5000_Series", "PM5560 (Ethernet)"},
		{"PM5350", "PM5000_Series", "PM53xx"},
		{"PM5111", "PM5000_Series", ""},
		{"PM8340", "PM8000_Series", "PM83xx DIN"},
		{"PM8240", "PM8000_Series", "PM82xx panel"},
		{"iEM3155", "iEM3000_Series", ""},
		{"pm5350", "PM5000_Series", "PM53xx"},
		{"pm5111", "PM5000_Series", ""},
		{"IEM3155", "iEM3000_Series", ""},
	}

	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			spec, err := kb.Find(ctx, tt.model)
			require.NoError(t, err)
			assert.Equal(t, tt.series, spec.Series)
			assert.Equal(t, tt.variant, spec.Variant)
			assert.Equal(t, tt.model, spec.ModelNumber)
			assert.Equal(t, domain.SourceKnowledgeBase, spec.Source)
		})
	}
}

func TestSeriesKey(t *testing.T) {
	assert.Equal(t, "PM5000_Series", seriesKey("pm5"))
	assert.Equal(t, "PM8000_Series", seriesKey("PM8"))
	assert.Equal(t, "iEM3000_Series", seriesKey("IEM3"))
	assert.Equal(t, "ION9000_Series", seriesKey("Ion9"))
}

func TestKnowledgeBase_Normalize(t *testing.T) {
	kb := loadTestKB(t)
	spec, err := kb.Find(context.Background(), "PM5560")
	require.NoError(t, err)

	assert.Contains(t, spec.Description, "Dual Ethernet ports")
	assert.Equal(t, []string{"Class 0.5S"}, spec.AccuracyClasses)
	require.Len(t, spec.Accuracy, 2)
	assert.Equal(t, "±0.1%", spec.Accuracy[1].Accuracy)
	assert.Equal(t, []string{"Modbus RTU over RS-485", "Modbus TCP"}, spec.Communication)
	assert.Equal(t, "64 samples/cycle", spec.Technical["Electrical / Sampling rate"])
	assert.Equal(t, "Backlit LCD", spec.Technical["Display"])

	pq, err := kb.Find(context.Background(), "PM8340")
	require.NoError(t, err)
	assert.Equal(t, []string{"Harmonics to 63rd", "Sag/swell"}, pq.PowerQuality)
}

func TestKnowledgeBase_Miss(t *testing.T) {
	kb := loadTestKB(t)
	spec, err := kb.Find(context.Background(), "ZZZ9999")
	assert.Nil(t, spec)
	assert.True(t, errors.Is(err, domain.ErrSpecNotFound))
}

func TestKnowledgeBase_Catalogue(t *testing.T) {
	kb := loadTestKB(t)
	assert.Equal(t, 3, kb.Len())

	cat := kb.Catalogue()
	require.Len(t, cat, 3)
	assert.Equal(t, "PM5000_Series", cat[0].Key)
	assert.Equal(t, []string{"PM5560", "PM53xx", "PM82xx", "PM83xx"}, kb.Models())
}

func TestParseKnowledgeBase_Invalid(t *testing.T) {
	_, err := ParseKnowledgeBase([]byte(`{"broken": `), nil)
	require.Error(t, err)
	assert.Equal(t, domain.ErrorTypeParse, domain.ErrorTypeOf(err))
}

func TestLoadKnowledgeBase_MissingFile(t *testing.T) {
	_, err := LoadKnowledgeBase(filepath.Join(t.TempDir(), "kb.json"), nil)
	assert.Equal(t, domain.ErrorTypeIO, domain.ErrorTypeOf(err))
}

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	ctx := context.Background()
	db, err := OpenDB(ctx, "sqlite3", filepath.Join(t.TempDir(), "meters.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, EnsureSchema(ctx, db))
	require.NoError(t, EnsureSchema(ctx, db), "schema must be idempotent")
	seedCatalogue(t, db)
	return db
}

func seedCatalogue(t *testing.T, db *sql.DB) {
	t.Helper()
	stmts := []string{
		`INSERT INTO Meters (id, model_name, device_short_name, series_name, product_name, selection_blurb)
		 VALUES (1, 'PowerLogic PM5560', 'PM5560', 'PM5000', 'PowerLogic PM5000 series meter', 'Advanced metering with Ethernet')`,
		`INSERT INTO Meters (id, model_name, device_short_name, series_name, product_name, selection_blurb)
		 VALUES (2, 'ION9000', 'ION9000', 'ION9000', 'PowerLogic ION9000 power quality meter', NULL)`,
		`INSERT INTO AccuracyClasses (meter_id, accuracy_class) VALUES (1, 'Class 0.5S')`,
		`INSERT INTO MeasurementAccuracy (meter_id, parameter, accuracy) VALUES (1, 'Voltage', '±0.1%')`,
		`INSERT INTO CommunicationProtocols (meter_id, protocol, support) VALUES (1, 'Modbus RTU', 'RS-485')`,
		`INSERT INTO CommunicationProtocols (meter_id, protocol, support) VALUES (1, 'BACnet/IP', '')`,
		`INSERT INTO DataRecordings (meter_id, recording_type) VALUES (1, 'Event log')`,
		`INSERT INTO InputsOutputs (meter_id, io_type, description) VALUES (1, 'Digital input', '4 status inputs')`,
		`INSERT INTO Certifications (meter_id, certification) VALUES (2, 'IEC 61000-4-30 Class A')`,
		`INSERT INTO Products (ProductID, ModelNumber, ProductDescription, MID_Certified) VALUES ('1', 'PM5560', 'Power meter with Ethernet', 1)`,
		`INSERT INTO Products (ProductID, ModelNumber, ProductDescription, MID_Certified) VALUES ('2', 'PM8240', 'Power quality meter with harmonic analysis', 0)`,
		`INSERT INTO Products (ProductID, ModelNumber, ProductDescription, MID_Certified) VALUES ('3', 'iEM3155', 'DIN rail energy meter', 1)`,
		`INSERT INTO Products (ProductID, ModelNumber, ProductDescription, MID_Certified) VALUES ('4', 'CT100', 'Current transformer', 0)`,
	}
	for _, stmt := range stmts {
		_, err := db.Exec(stmt)
		require.NoError(t, err)
	}
}

func TestSQLStore_Find(t *testing.T) {
	store := NewSQLStore(newTestDB(t), nil)
	ctx := context.Background()

	tests := []struct {
		name  string
		query string
		model string
	}{
		{"exact model name", "PowerLogic PM5560", "PowerLogic PM5560"},
		{"exact short name", "PM5560", "PowerLogic PM5560"},
		{"case-insensitive", "ion9000", "ION9000"},
		{"partial product name", "power quality", "ION9000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec, err := store.Find(ctx, tt.query)
			require.NoError(t, err)
			assert.Equal(t, tt.model, spec.ModelNumber)
			assert.Equal(t, domain.SourceDatabase, spec.Source)
		})
	}
}

func TestSQLStore_FindLoadsRelated(t *testing.T) {
	store := NewSQLStore(newTestDB(t), nil)
	spec, err := store.Find(context.Background(), "PM5560")
	require.NoError(t, err)

	assert.Equal(t, "Advanced metering with Ethernet", spec.Description)
	assert.Equal(t, []string{"Class 0.5S"}, spec.AccuracyClasses)
	assert.Equal(t, []domain.AccuracyEntry{{Parameter: "Voltage", Accuracy: "±0.1%"}}, spec.Accuracy)
	assert.ElementsMatch(t, []string{"Modbus RTU: RS-485", "BACnet/IP"}, spec.Communication)
	assert.Equal(t, []string{"Digital input: 4 status inputs"}, spec.InputsOutputs)
	assert.Equal(t, "Event log", spec.Technical["Data recording"])

	ion, err := store.Find(context.Background(), "ION9000")
	require.NoError(t, err)
	assert.Equal(t, "PowerLogic ION9000 power quality meter", ion.Description)
}

func TestSQLStore_Miss(t *testing.T) {
	store := NewSQLStore(newTestDB(t), nil)
	spec, err := store.Find(context.Background(), "ZZZ9999")
	assert.Nil(t, spec)
	assert.ErrorIs(t, err, domain.ErrSpecNotFound)

	_, err = store.Find(context.Background(), "  ")
	assert.ErrorIs(t, err, domain.ErrSpecNotFound)
}

func TestSQLStore_Candidates(t *testing.T) {
	store := NewSQLStore(newTestDB(t), nil)
	ctx := context.Background()

	got, err := store.Candidates(ctx, domain.CandidateFilter{
		ModelPatterns:       []string{"pm8%"},
		DescriptionPatterns: []string{"%HARMONIC%"},
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "PM8240", got[0].ModelNumber)

	got, err = store.Candidates(ctx, domain.CandidateFilter{DescriptionPatterns: []string{"%meter%"}})
	require.NoError(t, err)
	assert.Len(t, got, 3)
	assert.Equal(t, "Power meter with Ethernet (MID certified)", got[0].Description)

	got, err = store.Candidates(ctx, domain.CandidateFilter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestSQLStore_Product(t *testing.T) {
	store := NewSQLStore(newTestDB(t), nil)
	ctx := context.Background()

	p, err := store.Product(ctx, "iEM3155")
	require.NoError(t, err)
	assert.Equal(t, "3", p.ProductID)

	p, err = store.Product(ctx, "8240")
	require.NoError(t, err)
	assert.Equal(t, "PM8240", p.ModelNumber)

	_, err = store.Product(ctx, "ZZZ9999")
	assert.ErrorIs(t, err, domain.ErrSpecNotFound)
}

type failingStore struct{}

func (failingStore) Find(ctx context.Context, model string) (*domain.MeterSpec, error) {
	return nil, errors.New("connection refused")
}

func TestChainStore(t *testing.T) {
	kb := loadTestKB(t)
	sqlStore := NewSQLStore(newTestDB(t), nil)
	chain := NewChainStore(nil, failingStore{}, sqlStore, nil, kb)
	ctx := context.Background()

	spec, err := chain.Find(ctx, "PM5560")
	require.NoError(t, err)
	assert.Equal(t, domain.SourceDatabase, spec.Source)

	spec, err = chain.Find(ctx, "PM8340")
	require.NoError(t, err)
	assert.Equal(t, domain.SourceKnowledgeBase, spec.Source)

	_, err = chain.Find(ctx, "ZZZ9999")
	assert.ErrorIs(t, err, domain.ErrSpecNotFound)
	assert.Contains(t, err.Error(), "connection refused")
}

type countingStore struct {
	inner Store
	calls int
}

func (c *countingStore) Find(ctx context.Context, model string) (*domain.MeterSpec, error) {
	c.calls++
	return c.inner.Find(ctx, model)
}

func TestCachedStore(t *testing.T) {
	mem := cache.NewMemoryClient(10)
	defer mem.Close()

	counter := &countingStore{inner: loadTestKB(t)}
	store := NewCachedStore(counter, mem, time.Hour)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		spec, err := store.Find(ctx, "PM5560")
		require.NoError(t, err)
		assert.Equal(t, "PM5000_Series", spec.Series)
	}
	assert.Equal(t, 1, counter.calls)

	_, err := store.Find(ctx, "ZZZ9999")
	assert.ErrorIs(t, err, domain.ErrSpecNotFound)
	_, _ = store.Find(ctx, "ZZZ9999")
	assert.Equal(t, 3, counter.calls)
}

func TestSQLStore_PostgresIntegration(t *testing.T) {
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if testing.Short() || dsn == "" {
		t.Skip("set TEST_POSTGRES_DSN to run postgres integration test")
	}

	ctx := context.Background()
	db, err := OpenDB(ctx, "postgres", dsn)
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, EnsureSchema(ctx, db))
	_, err = db.ExecContext(ctx, `DELETE FROM Meters WHERE id = 9001`)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `INSERT INTO Meters (id, model_name, device_short_name) VALUES (9001, 'PM2230', 'PM2230')`)
	require.NoError(t, err)
	defer db.ExecContext(ctx, `DELETE FROM Meters WHERE id = 9001`)

	spec, err := NewSQLStore(db, nil).Find(ctx, "pm2230")
	require.NoError(t, err)
	assert.Equal(t, "PM2230", spec.ModelNumber)
}
