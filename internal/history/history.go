// Package history keeps a local log of completed analyses.
package history

import (
	"crypto/rand"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/hpungsan/kaia/internal/db"
	"github.com/hpungsan/kaia/internal/errors"
	"github.com/hpungsan/kaia/internal/normalize"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// Entry is one recorded analysis.
type Entry struct {
	ID               string           `json:"id"`
	Tier             string           `json:"tier"`
	View             string           `json:"view"`
	Timeframe        string           `json:"timeframe"`
	Strategy         string           `json:"strategy"`
	Language         string           `json:"language"`
	Result           normalize.Result `json:"result"`
	RemainingCredits *int             `json:"remaining_credits,omitempty"`
	CreatedAt        int64            `json:"created_at"`
}

// Log records entries in the history table.
type Log struct {
	db  *sql.DB
	now func() time.Time
}

// New creates a log over an initialized database.
func New(database *sql.DB) *Log {
	return &Log{db: database, now: time.Now}
}

// Record stores e, assigning ID and CreatedAt when they are unset.
func (l *Log) Record(e *Entry) error {
	now := l.now()
	if e.ID == "" {
		id, err := ulid.New(ulid.Timestamp(now), ulid.Monotonic(rand.Reader, 0))
		if err != nil {
			return errors.NewInternal(err)
		}
		e.ID = id.String()
	}
	if e.CreatedAt == 0 {
		e.CreatedAt = now.Unix()
	}

	row := &db.HistoryRow{
		ID:         e.ID,
		Tier:       e.Tier,
		View:       e.View,
		Timeframe:  e.Timeframe,
		Strategy:   e.Strategy,
		Language:   e.Language,
		Bias:       e.Result.Bias,
		Phase:      e.Result.Phase,
		Confidence: e.Result.Confidence,
		Narrative:  e.Result.Narrative,
		RiskNote:   e.Result.RiskNote,
		CreatedAt:  e.CreatedAt,
	}
	if len(e.Result.Fields) > 0 {
		data, err := json.Marshal(e.Result.Fields)
		if err != nil {
			return errors.NewInternal(err)
		}
		s := string(data)
		row.FieldsJSON = &s
	}
	if e.RemainingCredits != nil {
		n := int64(*e.RemainingCredits)
		row.RemainingCredits = &n
	}
	return db.InsertHistory(l.db, row)
}

// Page is one page of entries.
type Page struct {
	Items   []Entry `json:"items"`
	Total   int     `json:"total"`
	Limit   int     `json:"limit"`
	Offset  int     `json:"offset"`
	HasMore bool    `json:"has_more"`
}

// List returns entries newest first.
func (l *Log) List(limit, offset int) (*Page, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := db.ListHistory(l.db, limit, offset)
	if err != nil {
		return nil, err
	}
	total, err := db.CountHistory(l.db)
	if err != nil {
		return nil, err
	}

	items := make([]Entry, 0, len(rows))
	for i := range rows {
		items = append(items, fromRow(&rows[i]))
	}
	return &Page{
		Items:   items,
		Total:   total,
		Limit:   limit,
		Offset:  offset,
		HasMore: offset+len(items) < total,
	}, nil
}

// Latest returns the most recent entry, or NOT_FOUND when the log is empty.
func (l *Log) Latest() (*Entry, error) {
	rows, err := db.ListHistory(l.db, 1, 0)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, errors.NewNotFound("latest analysis")
	}
	e := fromRow(&rows[0])
	return &e, nil
}

// Get returns the entry with id.
func (l *Log) Get(id string) (*Entry, error) {
	row, err := db.GetHistory(l.db, id)
	if err != nil {
		return nil, err
	}
	e := fromRow(row)
	return &e, nil
}

func fromRow(r *db.HistoryRow) Entry {
	e := Entry{
		ID:        r.ID,
		Tier:      r.Tier,
		View:      r.View,
		Timeframe: r.Timeframe,
		Strategy:  r.Strategy,
		Language:  r.Language,
		Result: normalize.Result{
			Bias:       r.Bias,
			Phase:      r.Phase,
			Confidence: r.Confidence,
			Narrative:  r.Narrative,
			RiskNote:   r.RiskNote,
			Fields:     map[string]string{},
		},
		CreatedAt: r.CreatedAt,
	}
	if r.FieldsJSON != nil {
		// A corrupt blob leaves Fields empty; the primary fields still show.
		_ = json.Unmarshal([]byte(*r.FieldsJSON), &e.Result.Fields)
	}
	if r.RemainingCredits != nil {
		n := int(*r.RemainingCredits)
		e.RemainingCredits = &n
	}
	return e
}
