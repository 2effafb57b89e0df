package db

import (
	"database/sql"
	"time"

	"github.com/hpungsan/kaia/internal/errors"
)

// Settings keys.
const (
	SettingToken    = "token"
	SettingLanguage = "language"
)

// CacheRow is one stored availability-cache entry.
type CacheRow struct {
	Key      string
	Payload  string
	StoredAt int64 // unix milliseconds
}

// HistoryRow is one locally recorded analysis.
type HistoryRow struct {
	ID               string
	Tier             string
	View             string
	Timeframe        string
	Strategy         string
	Language         string
	Bias             string
	Phase            string
	Confidence       string
	Narrative        string
	RiskNote         *string
	FieldsJSON       *string
	RemainingCredits *int64
	CreatedAt        int64
}

// GetSetting returns the value stored under key.
// The boolean is false when the key is not set.
func GetSetting(db *sql.DB, key string) (string, bool, error) {
	var value string
	err := db.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.NewInternal(err)
	}
	return value, true, nil
}

// SetSetting upserts a setting.
func SetSetting(db *sql.DB, key, value string) error {
	query := `
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`
	if _, err := db.Exec(query, key, value, time.Now().Unix()); err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// DeleteSetting removes a setting. Missing keys are not an error.
func DeleteSetting(db *sql.DB, key string) error {
	if _, err := db.Exec(`DELETE FROM settings WHERE key = ?`, key); err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// GetCacheEntry returns the cache row for key, or nil when absent.
func GetCacheEntry(db *sql.DB, key string) (*CacheRow, error) {
	row := &CacheRow{Key: key}
	err := db.QueryRow(`SELECT payload, stored_at FROM cache_entries WHERE key = ?`, key).
		Scan(&row.Payload, &row.StoredAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return row, nil
}

// PutCacheEntry supersedes the entry for row.Key.
func PutCacheEntry(db *sql.DB, row CacheRow) error {
	query := `
		INSERT INTO cache_entries (key, payload, stored_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET payload = excluded.payload, stored_at = excluded.stored_at
	`
	if _, err := db.Exec(query, row.Key, row.Payload, row.StoredAt); err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// InsertHistory records a completed analysis.
func InsertHistory(db *sql.DB, h *HistoryRow) error {
	query := `
		INSERT INTO history (
			id, tier, view, timeframe, strategy, language,
			bias, phase, confidence, narrative, risk_note, fields_json,
			remaining_credits, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := db.Exec(query,
		h.ID, h.Tier, h.View, h.Timeframe, h.Strategy, h.Language,
		h.Bias, h.Phase, h.Confidence, h.Narrative,
		toNullString(h.RiskNote), toNullString(h.FieldsJSON),
		toNullInt64(h.RemainingCredits), h.CreatedAt,
	)
	if err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// ListHistory returns history rows newest first.
func ListHistory(db *sql.DB, limit, offset int) ([]HistoryRow, error) {
	query := `
		SELECT id, tier, view, timeframe, strategy, language,
			bias, phase, confidence, narrative, risk_note, fields_json,
			remaining_credits, created_at
		FROM history
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?
	`
	rows, err := db.Query(query, limit, offset)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	var result []HistoryRow
	for rows.Next() {
		h, err := scanHistory(rows)
		if err != nil {
			return nil, errors.NewInternal(err)
		}
		result = append(result, *h)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return result, nil
}

// CountHistory returns the number of recorded analyses.
func CountHistory(db *sql.DB) (int, error) {
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM history`).Scan(&n); err != nil {
		return 0, errors.NewInternal(err)
	}
	return n, nil
}

// GetHistory retrieves one history row by its ULID.
func GetHistory(db *sql.DB, id string) (*HistoryRow, error) {
	query := `
		SELECT id, tier, view, timeframe, strategy, language,
			bias, phase, confidence, narrative, risk_note, fields_json,
			remaining_credits, created_at
		FROM history
		WHERE id = ?
	`
	h, err := scanHistory(db.QueryRow(query, id))
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound(id)
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return h, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanHistory(s scanner) (*HistoryRow, error) {
	var (
		h         HistoryRow
		riskNote  sql.NullString
		fields    sql.NullString
		remaining sql.NullInt64
	)
	err := s.Scan(
		&h.ID, &h.Tier, &h.View, &h.Timeframe, &h.Strategy, &h.Language,
		&h.Bias, &h.Phase, &h.Confidence, &h.Narrative, &riskNote, &fields,
		&remaining, &h.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	h.RiskNote = fromNullString(riskNote)
	h.FieldsJSON = fromNullString(fields)
	if remaining.Valid {
		v := remaining.Int64
		h.RemainingCredits = &v
	}
	return &h, nil
}

func toNullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func fromNullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func toNullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}
