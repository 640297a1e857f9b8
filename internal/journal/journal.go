// Package journal appends TradeRecords to external sinks. The bot never
// reads records back; sinks are for audit only.
package journal

import (
	"context"
	"errors"
	"sync"

	"snipebot/internal/logger"
	"snipebot/internal/models"
)

type Recorder interface {
	Record(ctx context.Context, rec models.TradeRecord) error
}

var (
	ErrDuplicate    = errors.New("Запись с таким id уже есть в журнале")
	ErrInvalidInput = errors.New("Некорректная запись журнала")
)

// Memory keeps records in process. Used for dry runs and tests.
type Memory struct {
	mu      sync.RWMutex
	records []models.TradeRecord
	ids     map[string]struct{}
}

func NewMemory() *Memory {
	return &Memory{ids: make(map[string]struct{})}
}

func (m *Memory) Record(_ context.Context, rec models.TradeRecord) error {
	if rec.ID == "" {
		return ErrInvalidInput
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.ids[rec.ID]; exists {
		return ErrDuplicate
	}
	m.ids[rec.ID] = struct{}{}
	m.records = append(m.records, rec)
	return nil
}

func (m *Memory) Records() []models.TradeRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.TradeRecord, len(m.records))
	copy(out, m.records)
	return out
}

// Log writes every record as a structured log line.
type Log struct {
	log *logger.Logger
}

func NewLog(log *logger.Logger) *Log {
	return &Log{log: log}
}

func (l *Log) Record(_ context.Context, rec models.TradeRecord) error {
	entry := l.log.WithComponent("journal").WithFields(map[string]interface{}{
		"position_id": rec.PositionID,
		"mint":        rec.Mint,
		"action":      rec.Action,
		"attempt":     rec.Attempt,
		"outcome":     rec.Outcome,
		"reason":      rec.Reason,
		"tx":          rec.TxRef,
		"in":          rec.InAmount,
		"out":         rec.OutAmount,
		"price":       rec.Price,
		"latency_ms":  rec.LatencyMs,
	})
	if rec.Error != "" {
		entry = entry.WithField("error", rec.Error)
	}
	entry.Info("Запись журнала сделок.")
	return nil
}

// Multi fans a record out to every sink and joins their errors.
type Multi []Recorder

func (m Multi) Record(ctx context.Context, rec models.TradeRecord) error {
	var errs []error
	for _, r := range m {
		if err := r.Record(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
