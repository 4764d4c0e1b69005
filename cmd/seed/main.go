package main

import (
	"bathguard/internal/config"
	"bathguard/internal/database"
	"bathguard/internal/models"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// CSV columns, in order
const (
	colAutomation = iota
	colStartTime
	colEndTime
	colStartHumidity
	colPeakHumidity
	colAvgHumidity
	colEndHumidity
	colAvgTemperature
	colRuntime
	colMotion
	colDoor
	numColumns
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment")
	}

	// Initialize database
	db, err := database.NewDB(config.GetDatabaseDSN())
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	csvPath := "events_seed.csv"
	if len(os.Args) > 1 {
		csvPath = os.Args[1]
	}
	file, err := os.Open(csvPath)
	if err != nil {
		log.Fatalf("Failed to open CSV file: %v", err)
	}
	defer file.Close()

	events, skipped, err := parseEvents(file)
	if err != nil {
		log.Fatalf("Failed to read events: %v", err)
	}

	if err := db.ImportEvents(context.Background(), events); err != nil {
		log.Fatalf("Failed to import events: %v", err)
	}

	log.Printf("Import complete! Successfully inserted %d events, skipped %d", len(events), skipped)
}

// parseEvents reads the header row and then one event per row. Rows that do
// not parse are logged and counted as skipped.
func parseEvents(r io.Reader) ([]models.Event, int, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	// Read header row
	header, err := reader.Read()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read CSV header: %w", err)
	}
	log.Printf("CSV Header: %v", header)

	var events []models.Event
	skipped := 0
	line := 1

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, skipped, fmt.Errorf("failed to read CSV record: %w", err)
		}
		line++

		e, err := parseEvent(record)
		if err != nil {
			log.Printf("Skipping line %d: %v", line, err)
			skipped++
			continue
		}
		events = append(events, e)
	}

	return events, skipped, nil
}

func parseEvent(record []string) (models.Event, error) {
	if len(record) < numColumns {
		return models.Event{}, fmt.Errorf("expected %d columns, got %d", numColumns, len(record))
	}

	e := models.Event{Automation: record[colAutomation]}
	if e.Automation == "" {
		return e, fmt.Errorf("automation is empty")
	}

	var err error
	if e.StartTime, err = time.Parse(time.RFC3339, record[colStartTime]); err != nil {
		return e, fmt.Errorf("invalid start_time: %w", err)
	}
	if record[colEndTime] != "" {
		end, err := time.Parse(time.RFC3339, record[colEndTime])
		if err != nil {
			return e, fmt.Errorf("invalid end_time: %w", err)
		}
		if end.Before(e.StartTime) {
			return e, fmt.Errorf("end_time %s is before start_time", record[colEndTime])
		}
		e.EndTime = &end
	}

	floats := []struct {
		col int
		dst *float64
	}{
		{colStartHumidity, &e.StartHumidity},
		{colPeakHumidity, &e.PeakHumidity},
		{colAvgHumidity, &e.AvgHumidity},
		{colRuntime, &e.DehumidifierRuntimeMinutes},
	}
	for _, f := range floats {
		if *f.dst, err = strconv.ParseFloat(record[f.col], 64); err != nil {
			return e, fmt.Errorf("invalid value %q in column %d: %w", record[f.col], f.col+1, err)
		}
	}

	if e.EndHumidity, err = optionalFloat(record[colEndHumidity]); err != nil {
		return e, fmt.Errorf("invalid end_humidity: %w", err)
	}
	if e.AvgTemperature, err = optionalFloat(record[colAvgTemperature]); err != nil {
		return e, fmt.Errorf("invalid avg_temperature: %w", err)
	}

	if e.MotionDetected, err = strconv.ParseBool(record[colMotion]); err != nil {
		return e, fmt.Errorf("invalid motion_detected: %w", err)
	}
	if e.DoorClosed, err = strconv.ParseBool(record[colDoor]); err != nil {
		return e, fmt.Errorf("invalid door_closed: %w", err)
	}

	return e, nil
}

func optionalFloat(raw string) (*float64, error) {
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, err
	}
	return &v, nil
}
