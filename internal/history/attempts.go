package history

import (
	"database/sql"
	"fmt"
	"time"
)

// Outcomes
const (
	OutcomeMounted = "mounted"
	OutcomeDryRun  = "dry_run"
	OutcomeFailed  = "failed"
)

// Attempt is one recorded mount attempt
type Attempt struct {
	ID          int64
	Specifier   string
	UUID        string
	Devices     string
	Target      string
	Options     string
	UnlockState string
	Outcome     string
	Error       string
	Timestamp   time.Time
}

// RecordAttempt stores a mount attempt, filling in ID and Timestamp
func (d *DB) RecordAttempt(a *Attempt) error {
	if a.Timestamp.IsZero() {
		a.Timestamp = time.Now().UTC()
	}

	result, err := d.conn.Exec(`
		INSERT INTO mount_attempts (
			specifier, fs_uuid, devices, target, options, unlock_state, outcome, error, timestamp
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		a.Specifier, nullString(a.UUID), nullString(a.Devices), nullString(a.Target),
		nullString(a.Options), nullString(a.UnlockState), a.Outcome, nullString(a.Error), a.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to record attempt: %w", err)
	}

	if id, err := result.LastInsertId(); err == nil {
		a.ID = id
	}
	return nil
}

// RecentAttempts returns the most recent attempts, newest first
func (d *DB) RecentAttempts(limit int) ([]*Attempt, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := d.conn.Query(`
		SELECT id, specifier, fs_uuid, devices, target, options, unlock_state, outcome, error, timestamp
		FROM mount_attempts
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query attempts: %w", err)
	}
	defer rows.Close()

	return scanAttempts(rows)
}

// AttemptsForUUID returns attempts on one filesystem, newest first
func (d *DB) AttemptsForUUID(fsUUID string, limit int) ([]*Attempt, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := d.conn.Query(`
		SELECT id, specifier, fs_uuid, devices, target, options, unlock_state, outcome, error, timestamp
		FROM mount_attempts
		WHERE fs_uuid = ?
		ORDER BY id DESC
		LIMIT ?
	`, fsUUID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query attempts: %w", err)
	}
	defer rows.Close()

	return scanAttempts(rows)
}

func scanAttempts(rows *sql.Rows) ([]*Attempt, error) {
	var attempts []*Attempt

	for rows.Next() {
		var a Attempt
		var fsUUID, devices, target, options, unlockState, errText sql.NullString

		if err := rows.Scan(&a.ID, &a.Specifier, &fsUUID, &devices, &target, &options,
			&unlockState, &a.Outcome, &errText, &a.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan attempt: %w", err)
		}

		a.UUID = fsUUID.String
		a.Devices = devices.String
		a.Target = target.String
		a.Options = options.String
		a.UnlockState = unlockState.String
		a.Error = errText.String
		attempts = append(attempts, &a)
	}

	return attempts, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
