// Package queries holds hand-written SQL against pkg/db's schema, kept
// separate from DB's CRUD methods so the cost-achievement history (which
// the orchestrator appends to at a much higher rate than filesystems are
// added or removed) can evolve its query shapes independently.
package queries

import (
	"database/sql"
	"time"
)

// CostHistoryEntry is one row of cost_history: a single file's
// before/after defrag cost, used to recompute a class's threshold and
// average cost (spec §4.3/§4.1).
type CostHistoryEntry struct {
	FSUUID      string
	Class       int
	InitialCost float64
	FinalCost   float64
	SizeBytes   int64
	RecordedAt  time.Time
}

// InsertCostHistory records one historize_cost_achievement call.
func InsertCostHistory(db *sql.DB, e *CostHistoryEntry) error {
	_, err := db.Exec(`
		INSERT INTO cost_history (fs_uuid, class, initial_cost, final_cost, size_bytes, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, e.FSUUID, e.Class, e.InitialCost, e.FinalCost, e.SizeBytes, e.RecordedAt.Unix())
	return err
}

// ListCostHistory returns the most recent limit entries for a filesystem's
// class, newest first. limit <= 0 means unlimited.
func ListCostHistory(db *sql.DB, fsUUID string, class int, limit int) ([]*CostHistoryEntry, error) {
	query := `
		SELECT fs_uuid, class, initial_cost, final_cost, size_bytes, recorded_at
		FROM cost_history
		WHERE fs_uuid = ? AND class = ?
		ORDER BY recorded_at DESC
	`
	args := []interface{}{fsUUID, class}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*CostHistoryEntry
	for rows.Next() {
		var e CostHistoryEntry
		var recordedAt int64
		if err := rows.Scan(&e.FSUUID, &e.Class, &e.InitialCost, &e.FinalCost, &e.SizeBytes, &recordedAt); err != nil {
			return nil, err
		}
		e.RecordedAt = time.Unix(recordedAt, 0)
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// PruneCostHistory deletes all but the newest keep entries for a
// filesystem's class, mirroring pkg/filesstate's in-memory
// MaxHistoryEntries cap so the on-disk table does not grow unbounded.
func PruneCostHistory(db *sql.DB, fsUUID string, class int, keep int) error {
	_, err := db.Exec(`
		DELETE FROM cost_history
		WHERE fs_uuid = ? AND class = ? AND id NOT IN (
			SELECT id FROM cost_history
			WHERE fs_uuid = ? AND class = ?
			ORDER BY recorded_at DESC
			LIMIT ?
		)
	`, fsUUID, class, fsUUID, class, keep)
	return err
}
