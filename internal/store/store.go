// Package store records diagnostic events in SQLite so rollback and clock
// behaviour can be inspected after a session.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"rewind/logging"
	loggingclocksync "rewind/logging/clocksync"
	loggingprediction "rewind/logging/prediction"
)

var ErrClosed = errors.New("store closed")

// Record is one persisted event.
type Record struct {
	UUID      string    `gorm:"primaryKey" json:"uuid"`
	Type      string    `gorm:"not null;index" json:"type"`
	Category  string    `gorm:"index" json:"category"`
	Tick      uint64    `gorm:"index" json:"tick"`
	Severity  string    `gorm:"not null" json:"severity"`
	ActorID   string    `json:"actorId"`
	SessionID string    `gorm:"index" json:"sessionId,omitempty"`
	Payload   string    `json:"payload,omitempty"`
	CreatedAt time.Time `gorm:"not null;index" json:"createdAt"`
}

// DiagnosticTypes are the event types persisted when no filter is given.
var DiagnosticTypes = []logging.EventType{
	loggingprediction.EventRollbackStarted,
	loggingprediction.EventRollbackEnded,
	loggingprediction.EventRollbackClamped,
	loggingprediction.EventDivergentLoop,
	loggingclocksync.EventTickSnap,
}

// Store is a logging.Sink backed by GORM.
type Store struct {
	db    *gorm.DB
	types map[logging.EventType]struct{}
}

// Open creates or migrates the database at path. Only events whose type is
// listed are persisted; an empty list selects DiagnosticTypes.
func Open(path string, types ...logging.EventType) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", path, err)
	}
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("migrate store: %w", err)
	}
	if len(types) == 0 {
		types = DiagnosticTypes
	}
	selected := make(map[logging.EventType]struct{}, len(types))
	for _, t := range types {
		selected[t] = struct{}{}
	}
	return &Store{db: db, types: selected}, nil
}

// Write satisfies logging.Sink. Events outside the selected types are
// skipped without error.
func (s *Store) Write(event logging.Event) error {
	if s.db == nil {
		return ErrClosed
	}
	if _, ok := s.types[event.Type]; !ok {
		return nil
	}
	record := Record{
		UUID:      uuid.NewString(),
		Type:      string(event.Type),
		Category:  event.Category,
		Tick:      event.Tick,
		Severity:  event.Severity.String(),
		ActorID:   event.Actor.ID,
		SessionID: event.SessionID,
		CreatedAt: event.Time,
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}
	if event.Payload != nil {
		data, err := json.Marshal(event.Payload)
		if err != nil {
			return fmt.Errorf("encode %s payload: %w", event.Type, err)
		}
		record.Payload = string(data)
	}
	if err := s.db.Create(&record).Error; err != nil {
		return fmt.Errorf("insert %s: %w", event.Type, err)
	}
	return nil
}

// Recent returns up to limit records, newest first.
func (s *Store) Recent(limit int) ([]Record, error) {
	if s.db == nil {
		return nil, ErrClosed
	}
	var records []Record
	query := s.db.Order("created_at desc")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&records).Error; err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	return records, nil
}

// CountByType reports how many records of each type were stored.
func (s *Store) CountByType() (map[string]int64, error) {
	if s.db == nil {
		return nil, ErrClosed
	}
	var rows []struct {
		Type  string
		Count int64
	}
	err := s.db.Model(&Record{}).
		Select("type, count(*) as count").
		Group("type").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("count records: %w", err)
	}
	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		counts[row.Type] = row.Count
	}
	return counts, nil
}

// Close releases the database handle.
func (s *Store) Close(context.Context) error {
	if s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("close store: %w", err)
	}
	s.db = nil
	return sqlDB.Close()
}
