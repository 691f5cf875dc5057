// Package store is the local SQLite cache of member availability slots and
// per-event attendance history.
package store

import (
	"context"
	"database/sql"
	"sort"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"groupsched/internal/model"
)

// Repository is what the HTTP layer needs from storage.
type Repository interface {
	ListSlots(ctx context.Context, groupID, memberID string) ([]model.Slot, error)
	ReplaceSlots(ctx context.Context, groupID, memberID string, slots []model.Slot) error
	GroupSlots(ctx context.Context, groupID string) (map[string][]model.Slot, error)
	RecordHistory(ctx context.Context, groupID string, pair model.HistoryPair) error
	HistorySince(ctx context.Context, groupID string, since time.Time) ([]model.HistoryPair, error)
	Groups(ctx context.Context) ([]string, error)
	Close() error
}

// SQLiteRepository implements Repository on database/sql.
type SQLiteRepository struct {
	db *sql.DB
}

var _ Repository = (*SQLiteRepository)(nil)

// NewSQLiteRepository wraps an already-open database.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Open opens (creating if needed) the SQLite file at path and ensures the
// schema exists.
func Open(ctx context.Context, path string) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, errors.Wrapf(err, "open sqlite %s", path)
	}
	// One writer at a time; sqlite serializes anyway.
	db.SetMaxOpenConns(1)

	r := NewSQLiteRepository(db)
	if err := r.CreateTables(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return r, nil
}

// CreateTables creates the slot and history tables.
func (r *SQLiteRepository) CreateTables(ctx context.Context) error {
	slotTable := `CREATE TABLE IF NOT EXISTS slots (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		group_id TEXT NOT NULL,
		member_id TEXT NOT NULL,
		day TEXT NOT NULL,
		start_time TEXT NOT NULL,
		end_time TEXT NOT NULL
	);`

	slotIndex := `CREATE INDEX IF NOT EXISTS slots_by_member ON slots (group_id, member_id);`

	historyTable := `CREATE TABLE IF NOT EXISTS history (
		group_id TEXT NOT NULL,
		event_id TEXT NOT NULL,
		event_date DATETIME NOT NULL,
		PRIMARY KEY (group_id, event_id)
	);`

	memberTable := `CREATE TABLE IF NOT EXISTS history_members (
		group_id TEXT NOT NULL,
		event_id TEXT NOT NULL,
		member_id TEXT NOT NULL,
		going INTEGER DEFAULT 0,
		attended INTEGER DEFAULT 0,
		PRIMARY KEY (group_id, event_id, member_id),
		FOREIGN KEY (group_id, event_id) REFERENCES history (group_id, event_id) ON DELETE CASCADE
	);`

	for _, stmt := range []string{slotTable, slotIndex, historyTable, memberTable} {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrap(err, "create tables")
		}
	}
	return nil
}

// Close closes the underlying database.
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

// ListSlots returns a member's slots in the order they were added. Unknown
// members have no slots.
func (r *SQLiteRepository) ListSlots(ctx context.Context, groupID, memberID string) ([]model.Slot, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT day, start_time, end_time FROM slots WHERE group_id = ? AND member_id = ? ORDER BY id",
		groupID, memberID)
	if err != nil {
		return nil, errors.Wrap(err, "list slots")
	}
	defer rows.Close()

	slots := make([]model.Slot, 0)
	for rows.Next() {
		var s model.Slot
		var day string
		if err := rows.Scan(&day, &s.StartTime, &s.EndTime); err != nil {
			return nil, errors.Wrap(err, "scan slot")
		}
		s.Day = model.Weekday(day)
		slots = append(slots, s)
	}
	return slots, errors.Wrap(rows.Err(), "list slots")
}

// ReplaceSlots overwrites a member's slots with slots in one transaction.
func (r *SQLiteRepository) ReplaceSlots(ctx context.Context, groupID, memberID string, slots []model.Slot) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM slots WHERE group_id = ? AND member_id = ?", groupID, memberID); err != nil {
		return errors.Wrap(err, "clear slots")
	}

	stmt, err := tx.PrepareContext(ctx, "INSERT INTO slots (group_id, member_id, day, start_time, end_time) VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		return errors.Wrap(err, "prepare slot insert")
	}
	defer stmt.Close()

	for _, s := range slots {
		if _, err := stmt.ExecContext(ctx, groupID, memberID, string(s.Day), s.StartTime, s.EndTime); err != nil {
			return errors.Wrap(err, "insert slot")
		}
	}
	return errors.Wrap(tx.Commit(), "commit slots")
}

// GroupSlots returns every member's slots in a group keyed by member id.
func (r *SQLiteRepository) GroupSlots(ctx context.Context, groupID string) (map[string][]model.Slot, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT member_id, day, start_time, end_time FROM slots WHERE group_id = ? ORDER BY member_id, id",
		groupID)
	if err != nil {
		return nil, errors.Wrap(err, "group slots")
	}
	defer rows.Close()

	out := make(map[string][]model.Slot)
	for rows.Next() {
		var member, day string
		var s model.Slot
		if err := rows.Scan(&member, &day, &s.StartTime, &s.EndTime); err != nil {
			return nil, errors.Wrap(err, "scan slot")
		}
		s.Day = model.Weekday(day)
		out[member] = append(out[member], s)
	}
	return out, errors.Wrap(rows.Err(), "group slots")
}

// RecordHistory stores (or replaces) the going and attended sets for one
// past event.
func (r *SQLiteRepository) RecordHistory(ctx context.Context, groupID string, pair model.HistoryPair) error {
	if pair.EventID == "" {
		return errors.New("history: event id is empty")
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO history (group_id, event_id, event_date) VALUES (?, ?, ?)
		ON CONFLICT (group_id, event_id) DO UPDATE SET event_date = excluded.event_date`,
		groupID, pair.EventID, pair.Date.UTC().Format(time.RFC3339))
	if err != nil {
		return errors.Wrapf(err, "upsert history %s", pair.EventID)
	}
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM history_members WHERE group_id = ? AND event_id = ?", groupID, pair.EventID); err != nil {
		return errors.Wrap(err, "clear history members")
	}

	flags := make(map[string][2]int)
	for _, id := range pair.Going {
		f := flags[id]
		f[0] = 1
		flags[id] = f
	}
	for _, id := range pair.Attended {
		f := flags[id]
		f[1] = 1
		flags[id] = f
	}

	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO history_members (group_id, event_id, member_id, going, attended) VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		return errors.Wrap(err, "prepare member insert")
	}
	defer stmt.Close()

	for id, f := range flags {
		if _, err := stmt.ExecContext(ctx, groupID, pair.EventID, id, f[0], f[1]); err != nil {
			return errors.Wrap(err, "insert history member")
		}
	}
	return errors.Wrap(tx.Commit(), "commit history")
}

// HistorySince returns the group's events dated at or after since, oldest
// first. Member lists are sorted.
func (r *SQLiteRepository) HistorySince(ctx context.Context, groupID string, since time.Time) ([]model.HistoryPair, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT h.event_id, h.event_date, m.member_id, m.going, m.attended
		FROM history h
		LEFT JOIN history_members m ON m.group_id = h.group_id AND m.event_id = h.event_id
		WHERE h.group_id = ? AND h.event_date >= ?
		ORDER BY h.event_date, h.event_id, m.member_id`,
		groupID, since.UTC().Format(time.RFC3339))
	if err != nil {
		return nil, errors.Wrap(err, "query history")
	}
	defer rows.Close()

	out := make([]model.HistoryPair, 0)
	for rows.Next() {
		var (
			eventID, dateStr string
			member           sql.NullString
			going, attended  sql.NullInt64
		)
		if err := rows.Scan(&eventID, &dateStr, &member, &going, &attended); err != nil {
			return nil, errors.Wrap(err, "scan history")
		}

		if len(out) == 0 || out[len(out)-1].EventID != eventID {
			date, err := time.Parse(time.RFC3339, dateStr)
			if err != nil {
				return nil, errors.Wrapf(err, "history %s date", eventID)
			}
			out = append(out, model.HistoryPair{
				EventID:  eventID,
				Date:     date,
				Going:    []string{},
				Attended: []string{},
			})
		}
		if !member.Valid {
			continue
		}
		cur := &out[len(out)-1]
		if going.Int64 == 1 {
			cur.Going = append(cur.Going, member.String)
		}
		if attended.Int64 == 1 {
			cur.Attended = append(cur.Attended, member.String)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "query history")
	}
	return out, nil
}

// Groups lists every group id that has slots or history.
func (r *SQLiteRepository) Groups(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT group_id FROM history UNION SELECT group_id FROM slots")
	if err != nil {
		return nil, errors.Wrap(err, "list groups")
	}
	defer rows.Close()

	groups := make([]string, 0)
	for rows.Next() {
		var g string
		if err := rows.Scan(&g); err != nil {
			return nil, errors.Wrap(err, "scan group")
		}
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "list groups")
	}
	sort.Strings(groups)
	return groups, nil
}
