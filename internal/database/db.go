package database

import (
	"bathguard/internal/metrics"
	"bathguard/internal/models"
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// DB represents the database connection
type DB struct {
	conn *sql.DB
}

// NewDB creates a new database connection and initializes the schema
// dsn format: "username:password@tcp(host:port)/dbname?parseTime=true"
// example: "user:pass@tcp(localhost:3306)/bathguard?parseTime=true"
func NewDB(dsn string) (*DB, error) {
	conn, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test connection
	if err := conn.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Configure connection pool
	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	db := &DB{conn: conn}

	if err := db.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return db, nil
}

// initSchema creates the necessary tables
func (db *DB) initSchema() error {
	// MySQL doesn't support multiple statements in one Exec, so we need to split them
	statements := []string{
		`CREATE TABLE IF NOT EXISTS readings (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			tick_id VARCHAR(64) NOT NULL,
			automation VARCHAR(255) NOT NULL,
			timestamp DATETIME(6) NOT NULL,
			humidity DOUBLE NULL,
			temperature DOUBLE NULL,
			motion BOOLEAN NOT NULL DEFAULT FALSE,
			door_closed BOOLEAN NOT NULL DEFAULT FALSE,
			window_open BOOLEAN NOT NULL DEFAULT FALSE,
			dewpoint DOUBLE NULL,
			risk_level VARCHAR(20) NOT NULL DEFAULT '',
			shower_detected BOOLEAN NOT NULL DEFAULT FALSE,
			dehumidifier_running BOOLEAN NOT NULL DEFAULT FALSE,
			UNIQUE KEY uq_readings_tick (tick_id),
			INDEX idx_readings_automation_time (automation, timestamp)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

		`CREATE TABLE IF NOT EXISTS events (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			automation VARCHAR(255) NOT NULL,
			start_time DATETIME(6) NOT NULL,
			end_time DATETIME(6) NULL,
			start_humidity DOUBLE NOT NULL,
			peak_humidity DOUBLE NOT NULL,
			avg_humidity DOUBLE NOT NULL,
			end_humidity DOUBLE NULL,
			avg_temperature DOUBLE NULL,
			dehumidifier_runtime_minutes DOUBLE NOT NULL DEFAULT 0,
			motion_detected BOOLEAN NOT NULL DEFAULT FALSE,
			door_closed BOOLEAN NOT NULL DEFAULT FALSE,
			INDEX idx_events_automation_start (automation, start_time)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

		`CREATE TABLE IF NOT EXISTS mold_alerts (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			automation VARCHAR(255) NOT NULL,
			timestamp DATETIME(6) NOT NULL,
			temperature DOUBLE NOT NULL,
			humidity DOUBLE NOT NULL,
			dewpoint DOUBLE NOT NULL,
			risk_level VARCHAR(20) NOT NULL,
			risk_score DOUBLE NOT NULL,
			message TEXT NOT NULL,
			INDEX idx_mold_alerts_automation (automation, timestamp)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

		`CREATE TABLE IF NOT EXISTS learned_thresholds (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			automation VARCHAR(255) NOT NULL,
			humidity_high DOUBLE NOT NULL,
			humidity_low DOUBLE NOT NULL,
			confidence DOUBLE NOT NULL,
			samples_used INT NOT NULL,
			reason TEXT NOT NULL,
			learned_at DATETIME(6) NOT NULL,
			accepted BOOLEAN NOT NULL DEFAULT FALSE,
			INDEX idx_learned_thresholds_automation (automation, learned_at)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	}

	for _, stmt := range statements {
		if _, err := db.conn.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}

	return nil
}

func (db *DB) updateConnStats() {
	stats := db.conn.Stats()
	metrics.UpdateDBConnectionStats(stats.OpenConnections, stats.InUse, stats.Idle)
}

// OpenEvent inserts a new event and returns its id
func (db *DB) OpenEvent(ctx context.Context, event *models.Event) (int64, error) {
	defer db.updateConnStats()

	query := `INSERT INTO events (automation, start_time, end_time, start_humidity, peak_humidity, avg_humidity,
	          end_humidity, avg_temperature, dehumidifier_runtime_minutes, motion_detected, door_closed)
	          VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	queryStart := time.Now()
	res, err := db.conn.ExecContext(ctx, query, eventArgs(event)...)
	metrics.RecordDBQuery("INSERT", "events", time.Since(queryStart), err)
	if err != nil {
		return 0, fmt.Errorf("failed to insert event for %s: %w", event.Automation, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read event id: %w", err)
	}
	return id, nil
}

// CloseEvent writes the final statistics of an event
func (db *DB) CloseEvent(ctx context.Context, event *models.Event) error {
	defer db.updateConnStats()

	query := `UPDATE events SET end_time = ?, peak_humidity = ?, avg_humidity = ?, end_humidity = ?,
	          avg_temperature = ?, dehumidifier_runtime_minutes = ?, motion_detected = ?, door_closed = ?
	          WHERE id = ?`
	queryStart := time.Now()
	res, err := db.conn.ExecContext(ctx, query, event.EndTime, event.PeakHumidity, event.AvgHumidity,
		nullFloat(event.EndHumidity), nullFloat(event.AvgTemperature), event.DehumidifierRuntimeMinutes,
		event.MotionDetected, event.DoorClosed, event.ID)
	metrics.RecordDBQuery("UPDATE", "events", time.Since(queryStart), err)
	if err != nil {
		return fmt.Errorf("failed to close event %d: %w", event.ID, err)
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("event %d not found", event.ID)
	}
	return nil
}

// ImportEvents stores historical events in one transaction
func (db *DB) ImportEvents(ctx context.Context, events []models.Event) error {
	if len(events) == 0 {
		log.Printf("No events to import")
		return nil
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() // Will be ignored if committed

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO events (automation, start_time, end_time, start_humidity, peak_humidity,
	          avg_humidity, end_humidity, avg_temperature, dehumidifier_runtime_minutes, motion_detected, door_closed)
	          VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	queryStart := time.Now()
	for i := range events {
		if _, err = stmt.ExecContext(ctx, eventArgs(&events[i])...); err != nil {
			metrics.RecordDBQuery("INSERT", "events", time.Since(queryStart), err)
			return fmt.Errorf("failed to insert event for %s at %s: %w", events[i].Automation, events[i].StartTime, err)
		}
	}

	err = tx.Commit()
	metrics.RecordDBQuery("INSERT", "events", time.Since(queryStart), err)
	if err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	log.Printf("✓ Imported %d events", len(events))
	return nil
}

// RecordAlert stores a mold alert
func (db *DB) RecordAlert(ctx context.Context, alert *models.MoldAlert) error {
	query := `INSERT INTO mold_alerts (automation, timestamp, temperature, humidity, dewpoint, risk_level, risk_score, message)
	          VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	queryStart := time.Now()
	_, err := db.conn.ExecContext(ctx, query, alert.Automation, alert.Timestamp, alert.Temperature, alert.Humidity,
		alert.Dewpoint, string(alert.RiskLevel), alert.RiskScore, alert.Message)
	metrics.RecordDBQuery("INSERT", "mold_alerts", time.Since(queryStart), err)
	return err
}

// StoreTicks persists tick records. Records already stored are skipped, so a
// redelivered stream batch is safe to write again.
func (db *DB) StoreTicks(ctx context.Context, ticks []models.TickRecord) error {
	if len(ticks) == 0 {
		return nil
	}
	defer db.updateConnStats()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT IGNORE INTO readings (tick_id, automation, timestamp, humidity, temperature,
	          motion, door_closed, window_open, dewpoint, risk_level, shower_detected, dehumidifier_running)
	          VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	queryStart := time.Now()
	for _, t := range ticks {
		r := t.Reading
		_, err = stmt.ExecContext(ctx, t.ID, t.Automation, r.Timestamp, nullFloat(r.Humidity), nullFloat(r.Temperature),
			r.Motion, r.DoorClosed, r.WindowOpen, nullFloat(t.Dewpoint), string(t.RiskLevel), t.ShowerDetected, t.DehumidifierRunning)
		if err != nil {
			metrics.RecordDBQuery("INSERT", "readings", time.Since(queryStart), err)
			return fmt.Errorf("failed to insert reading %s: %w", t.ID, err)
		}
	}

	err = tx.Commit()
	metrics.RecordDBQuery("INSERT", "readings", time.Since(queryStart), err)
	if err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	log.Printf("✓ Stored %d readings", len(ticks))
	return nil
}

// GetClosedEvents retrieves finished events for an automation started since the given time
func (db *DB) GetClosedEvents(ctx context.Context, automation string, since time.Time) ([]models.Event, error) {
	query := `SELECT id, automation, start_time, end_time, start_humidity, peak_humidity, avg_humidity, end_humidity,
	          avg_temperature, dehumidifier_runtime_minutes, motion_detected, door_closed
	          FROM events WHERE automation = ? AND start_time >= ? AND end_time IS NOT NULL ORDER BY start_time`
	queryStart := time.Now()
	rows, err := db.conn.QueryContext(ctx, query, automation, since)
	metrics.RecordDBQuery("SELECT", "events", time.Since(queryStart), err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []models.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}

	return events, rows.Err()
}

// GetRecentEvents retrieves the latest events for an automation, open ones included
func (db *DB) GetRecentEvents(ctx context.Context, automation string, limit int) ([]models.Event, error) {
	query := `SELECT id, automation, start_time, end_time, start_humidity, peak_humidity, avg_humidity, end_humidity,
	          avg_temperature, dehumidifier_runtime_minutes, motion_detected, door_closed
	          FROM events WHERE automation = ? ORDER BY start_time DESC LIMIT ?`
	queryStart := time.Now()
	rows, err := db.conn.QueryContext(ctx, query, automation, limit)
	metrics.RecordDBQuery("SELECT", "events", time.Since(queryStart), err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []models.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}

	return events, rows.Err()
}

// GetAutomationsWithEvents returns every automation that has at least one closed event
func (db *DB) GetAutomationsWithEvents(ctx context.Context) (map[string]bool, error) {
	query := `SELECT DISTINCT automation FROM events WHERE end_time IS NOT NULL`
	rows, err := db.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to get automations with events: %w", err)
	}
	defer rows.Close()

	automations := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan automation: %w", err)
		}
		automations[name] = true
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating automations: %w", err)
	}

	return automations, nil
}

// StoreLearnedThresholds stores a threshold proposal and whether it was accepted
func (db *DB) StoreLearnedThresholds(ctx context.Context, lt *models.LearnedThresholds, accepted bool) error {
	query := `INSERT INTO learned_thresholds (automation, humidity_high, humidity_low, confidence, samples_used, reason, learned_at, accepted)
	          VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	queryStart := time.Now()
	_, err := db.conn.ExecContext(ctx, query, lt.Automation, lt.HumidityHigh, lt.HumidityLow, lt.Confidence,
		lt.SamplesUsed, lt.Reason, lt.LearnedAt, accepted)
	metrics.RecordDBQuery("INSERT", "learned_thresholds", time.Since(queryStart), err)
	return err
}

// GetLatestLearnedThresholds returns the newest accepted proposal, or nil when there is none
func (db *DB) GetLatestLearnedThresholds(ctx context.Context, automation string) (*models.LearnedThresholds, error) {
	query := `SELECT automation, humidity_high, humidity_low, confidence, samples_used, reason, learned_at
	          FROM learned_thresholds WHERE automation = ? AND accepted = TRUE ORDER BY learned_at DESC LIMIT 1`
	queryStart := time.Now()
	row := db.conn.QueryRowContext(ctx, query, automation)

	var lt models.LearnedThresholds
	err := row.Scan(&lt.Automation, &lt.HumidityHigh, &lt.HumidityLow, &lt.Confidence, &lt.SamplesUsed, &lt.Reason, &lt.LearnedAt)
	if err == sql.ErrNoRows {
		metrics.RecordDBQuery("SELECT", "learned_thresholds", time.Since(queryStart), nil)
		return nil, nil
	}
	metrics.RecordDBQuery("SELECT", "learned_thresholds", time.Since(queryStart), err)
	if err != nil {
		return nil, fmt.Errorf("failed to scan learned thresholds: %w", err)
	}
	return &lt, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanEvent(s scanner) (models.Event, error) {
	var e models.Event
	var end sql.NullTime
	var endHumidity, avgTemp sql.NullFloat64

	err := s.Scan(&e.ID, &e.Automation, &e.StartTime, &end, &e.StartHumidity, &e.PeakHumidity, &e.AvgHumidity,
		&endHumidity, &avgTemp, &e.DehumidifierRuntimeMinutes, &e.MotionDetected, &e.DoorClosed)
	if err != nil {
		return models.Event{}, err
	}

	if end.Valid {
		t := end.Time
		e.EndTime = &t
	}
	e.EndHumidity = floatPtr(endHumidity)
	e.AvgTemperature = floatPtr(avgTemp)
	return e, nil
}

func eventArgs(e *models.Event) []interface{} {
	var end sql.NullTime
	if e.EndTime != nil {
		end = sql.NullTime{Time: *e.EndTime, Valid: true}
	}
	return []interface{}{
		e.Automation, e.StartTime, end, e.StartHumidity, e.PeakHumidity, e.AvgHumidity,
		nullFloat(e.EndHumidity), nullFloat(e.AvgTemperature), e.DehumidifierRuntimeMinutes,
		e.MotionDetected, e.DoorClosed,
	}
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
