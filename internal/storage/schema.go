package storage

import (
	"context"
	"fmt"
)

// schemaStatements create the meter catalogue. The DDL is shared by SQLite and PostgreSQL.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS Meters (
		id INTEGER PRIMARY KEY,
		model_name TEXT NOT NULL,
		device_short_name TEXT,
		series_name TEXT,
		product_name TEXT,
		selection_blurb TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS DeviceApplications (meter_id INTEGER NOT NULL, application TEXT NOT NULL)`,
	`CREATE TABLE IF NOT EXISTS PowerQualityAnalysis (meter_id INTEGER NOT NULL, analysis_feature TEXT NOT NULL)`,
	`CREATE TABLE IF NOT EXISTS Measurements (meter_id INTEGER NOT NULL, measurement_type TEXT NOT NULL)`,
	`CREATE TABLE IF NOT EXISTS AccuracyClasses (meter_id INTEGER NOT NULL, accuracy_class TEXT NOT NULL)`,
	`CREATE TABLE IF NOT EXISTS MeasurementAccuracy (meter_id INTEGER NOT NULL, parameter TEXT NOT NULL, accuracy TEXT)`,
	`CREATE TABLE IF NOT EXISTS CommunicationProtocols (meter_id INTEGER NOT NULL, protocol TEXT NOT NULL, support TEXT)`,
	`CREATE TABLE IF NOT EXISTS DataRecordings (meter_id INTEGER NOT NULL, recording_type TEXT NOT NULL)`,
	`CREATE TABLE IF NOT EXISTS Certifications (meter_id INTEGER NOT NULL, certification TEXT NOT NULL)`,
	`CREATE TABLE IF NOT EXISTS InputsOutputs (meter_id INTEGER NOT NULL, io_type TEXT NOT NULL, description TEXT)`,
	`CREATE TABLE IF NOT EXISTS Products (
		ProductID TEXT PRIMARY KEY,
		ModelNumber TEXT NOT NULL,
		ProductDescription TEXT,
		MID_Certified INTEGER DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_meters_model ON Meters (model_name)`,
	`CREATE INDEX IF NOT EXISTS idx_products_model ON Products (ModelNumber)`,
}

// EnsureSchema creates any missing catalogue tables. Safe to run repeatedly.
func EnsureSchema(ctx context.Context, db DB) error {
	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

// SchemaStatements returns the DDL in application order.
func SchemaStatements() []string {
	out := make([]string, len(schemaStatements))
	copy(out, schemaStatements)
	return out
}
