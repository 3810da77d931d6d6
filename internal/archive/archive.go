package archive

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/mixelka/cvharvest/pkg/models"
)

// Archive keeps a per-run history of structured records so query tooling can
// read past results without reparsing the CV files.
type Archive struct {
	*sqlx.DB
}

// Open connects to the sqlite archive, creating the file and schema as
// needed.
func Open(path string) (*Archive, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000", path)
	db, err := sqlx.Connect("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to archive: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create archive schema: %w", err)
	}

	return &Archive{db}, nil
}

// SaveRun stores the result set of one processing run and returns the run
// ID. Duplicate sources within a run are upserted last-write-wins.
func (a *Archive) SaveRun(ctx context.Context, records []models.StructuredRecord) (int64, error) {
	tx, err := a.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `INSERT INTO runs (record_count) VALUES (?)`, len(records))
	if err != nil {
		return 0, fmt.Errorf("failed to insert run: %w", err)
	}
	runID, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get run id: %w", err)
	}

	const insert = `
		INSERT INTO records (run_id, source, sent_time, name, age, email, phone, address, education, experience, skills)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, source) DO UPDATE SET
			sent_time = excluded.sent_time,
			name = excluded.name,
			age = excluded.age,
			email = excluded.email,
			phone = excluded.phone,
			address = excluded.address,
			education = excluded.education,
			experience = excluded.experience,
			skills = excluded.skills
	`
	for _, record := range records {
		_, err := tx.ExecContext(ctx, insert,
			runID,
			record.Source,
			record.SentTime,
			record.Name,
			record.Age,
			record.Email,
			record.Phone,
			record.Address,
			record.Education,
			record.Experience,
			record.Skills,
		)
		if err != nil {
			return 0, fmt.Errorf("failed to insert record %s: %w", record.Source, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit run: %w", err)
	}
	return runID, nil
}

// RecordsByRun returns the records stored for one run.
func (a *Archive) RecordsByRun(ctx context.Context, runID int64) ([]models.StructuredRecord, error) {
	var records []models.StructuredRecord
	const query = `
		SELECT source, sent_time, name, age, email, phone, address, education, experience, skills
		FROM records WHERE run_id = ? ORDER BY sent_time DESC
	`
	if err := a.SelectContext(ctx, &records, query, runID); err != nil {
		return nil, fmt.Errorf("failed to load run %d: %w", runID, err)
	}
	return records, nil
}

// SearchRecords matches a substring against name, email and skills across
// all runs, newest run first.
func (a *Archive) SearchRecords(ctx context.Context, term string) ([]models.StructuredRecord, error) {
	var records []models.StructuredRecord
	like := "%" + term + "%"
	const query = `
		SELECT source, sent_time, name, age, email, phone, address, education, experience, skills
		FROM records
		WHERE name LIKE ? OR email LIKE ? OR skills LIKE ?
		ORDER BY run_id DESC, sent_time DESC
	`
	if err := a.SelectContext(ctx, &records, query, like, like, like); err != nil {
		return nil, fmt.Errorf("failed to search records: %w", err)
	}
	return records, nil
}
