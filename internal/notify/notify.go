// Package notify delivers operator alerts about position lifecycle events.
// Delivery is asynchronous and lossy: a full queue drops the event rather
// than blocking the trading path.
package notify

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"snipebot/internal/logger"
)

type Kind string

const (
	PositionOpened  Kind = "position_opened"
	PositionReduced Kind = "position_reduced"
	PositionClosed  Kind = "position_closed"
	PositionFailed  Kind = "position_failed"
	BuyFailed       Kind = "buy_failed"
	Report          Kind = "report"
)

type Event struct {
	Kind       Kind
	PositionID string
	Mint       string
	Symbol     string
	Title      string
	Lines      []string
}

func (e Event) Text() string {
	var b strings.Builder
	b.WriteString(e.Title)
	for _, l := range e.Lines {
		b.WriteByte('\n')
		b.WriteString(l)
	}
	return b.String()
}

type Sender interface {
	Send(ctx context.Context, ev Event) error
	Name() string
}

type Notifier interface {
	Notify(ev Event)
}

// Nop discards everything.
type Nop struct{}

func (Nop) Notify(Event) {}

// Dispatcher queues events and fans them out to senders from a single
// goroutine. An empty event filter allows every kind.
type Dispatcher struct {
	senders []Sender
	allowed map[Kind]bool
	queue   chan Event
	log     *logger.Logger

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

func NewDispatcher(senders []Sender, events []string, buffer int, log *logger.Logger) *Dispatcher {
	if buffer <= 0 {
		buffer = 64
	}
	allowed := make(map[Kind]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[Kind(e)] = true
		}
	}
	d := &Dispatcher{
		senders: senders,
		allowed: allowed,
		queue:   make(chan Event, buffer),
		log:     log,
		done:    make(chan struct{}),
	}
	go d.loop()
	return d
}

func (d *Dispatcher) Notify(ev Event) {
	if len(d.allowed) > 0 && !d.allowed[ev.Kind] {
		return
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}
	select {
	case d.queue <- ev:
	default:
		d.log.WithComponent("notify").WithField("kind", ev.Kind).Warn("Очередь уведомлений переполнена, событие отброшено.")
	}
}

// Close stops accepting events and waits until the queue is flushed or ctx
// expires.
func (d *Dispatcher) Close(ctx context.Context) {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	select {
	case <-d.done:
	case <-ctx.Done():
		d.log.WithComponent("notify").Warn("Не все уведомления доставлены до остановки.")
	}
}

func (d *Dispatcher) loop() {
	defer close(d.done)
	for ev := range d.queue {
		d.dispatch(ev)
	}
}

func (d *Dispatcher) dispatch(ev Event) {
	for _, s := range d.senders {
		if err := s.Send(context.Background(), ev); err != nil {
			d.log.WithComponent("notify").WithFields(map[string]interface{}{
				"sender": s.Name(),
				"kind":   ev.Kind,
			}).WithError(err).Error("Не удалось отправить уведомление.")
		}
	}
}

// LogSender writes events to the log. It is always attached so that alerts
// are visible even without Telegram.
type LogSender struct {
	log *logger.Logger
}

func NewLogSender(log *logger.Logger) *LogSender {
	return &LogSender{log: log}
}

func (s *LogSender) Send(_ context.Context, ev Event) error {
	s.log.WithComponent("notify").WithFields(map[string]interface{}{
		"kind":        ev.Kind,
		"position_id": ev.PositionID,
		"mint":        ev.Mint,
	}).Info(ev.Text())
	return nil
}

func (s *LogSender) Name() string { return "log" }

func shortMint(mint string) string {
	if len(mint) <= 10 {
		return mint
	}
	return fmt.Sprintf("%s…%s", mint[:4], mint[len(mint)-4:])
}
