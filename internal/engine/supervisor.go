// Package engine runs the position supervisor: a single control loop that
// re-evaluates every active position on its own cadence and drives sells
// through the execution client.
//
// Scheduling uses a due-time heap with at most one entry per position.
// A position is never evaluated concurrently with itself; the claim set
// and the store's state guard make sure only one sell is in flight.
package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"snipebot/internal/config"
	"snipebot/internal/exchange"
	"snipebot/internal/exit"
	"snipebot/internal/journal"
	"snipebot/internal/logger"
	"snipebot/internal/market"
	"snipebot/internal/metrics"
	"snipebot/internal/models"
	"snipebot/internal/notify"
	"snipebot/internal/store"

	"golang.org/x/sync/errgroup"
)

type Config struct {
	QuoteMint           string
	QuoteDecimals       int
	SlippageBps         int
	PollInterval        time.Duration
	ConfirmInterval     time.Duration
	ConfirmTimeout      time.Duration
	MaxSellAttempts     int
	SellBackoff         time.Duration
	SellBackoffMax      time.Duration
	Concurrency         int
	DrainTimeout        time.Duration
	MaxMissingSnapshots int
}

func ConfigFrom(cfg *config.Config) Config {
	return Config{
		QuoteMint:           cfg.Trading.QuoteMint,
		QuoteDecimals:       cfg.Trading.QuoteDecimals,
		SlippageBps:         cfg.Trading.SlippageBps,
		PollInterval:        cfg.Supervisor.PollInterval,
		ConfirmInterval:     cfg.Supervisor.ConfirmInterval,
		ConfirmTimeout:      cfg.Supervisor.ConfirmTimeout,
		MaxSellAttempts:     cfg.Supervisor.MaxSellAttempts,
		SellBackoff:         cfg.Supervisor.SellBackoff,
		SellBackoffMax:      cfg.Supervisor.SellBackoffMax,
		Concurrency:         cfg.Supervisor.Concurrency,
		DrainTimeout:        cfg.Supervisor.DrainTimeout,
		MaxMissingSnapshots: cfg.Supervisor.MaxMissingSnapshots,
	}
}

type Deps struct {
	Store    *store.Store
	Market   market.Client
	Exchange exchange.Client
	Policy   *exit.Engine
	Journal  journal.Recorder
	Notifier notify.Notifier
	Metrics  *metrics.Metrics
	Log      *logger.Logger
}

var ErrAlreadyRunning = errors.New("Супервизор уже запущен")

type Supervisor struct {
	cfg      Config
	store    *store.Store
	market   market.Client
	exchange exchange.Client
	policy   *exit.Engine
	journal  journal.Recorder
	notifier notify.Notifier
	metrics  *metrics.Metrics
	log      *logger.Logger
	now      func() time.Time

	mu       sync.Mutex
	sched    *schedule
	claimed  map[string]struct{}
	draining bool

	wake       chan struct{}
	cancelCh   chan struct{}
	cancelOnce sync.Once
	running    atomic.Bool
	done       chan struct{}
}

func New(cfg Config, deps Deps) *Supervisor {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.MaxSellAttempts < 1 {
		cfg.MaxSellAttempts = 1
	}
	if deps.Journal == nil {
		deps.Journal = journal.NewMemory()
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.Nop{}
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewNop()
	}
	return &Supervisor{
		cfg:      cfg,
		store:    deps.Store,
		market:   deps.Market,
		exchange: deps.Exchange,
		policy:   deps.Policy,
		journal:  deps.Journal,
		notifier: deps.Notifier,
		metrics:  deps.Metrics,
		log:      deps.Log,
		now:      time.Now,
		sched:    newSchedule(),
		claimed:  make(map[string]struct{}),
		wake:     make(chan struct{}, 1),
		cancelCh: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Register stores a freshly bought position and schedules its first
// evaluation immediately. After Cancel the position is stored but not
// supervised.
func (s *Supervisor) Register(p models.Position) error {
	if p.State == "" {
		p.State = models.PositionOpen
	}
	if err := s.store.Insert(p); err != nil {
		return err
	}
	s.metrics.OpenPositions.Set(float64(s.store.Exposure().Count))

	s.mu.Lock()
	draining := s.draining
	if !draining {
		s.sched.set(p.ID, s.now())
	}
	s.mu.Unlock()

	if draining {
		s.positionEntry(p).Warn("Позиция зарегистрирована во время остановки и не будет сопровождаться.")
		return nil
	}
	s.positionEntry(p).Info("Позиция принята на сопровождение.")
	s.signal()
	return nil
}

// Run drives the loop until Cancel finishes draining or ctx is canceled.
func (s *Supervisor) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer close(s.done)

	for _, p := range s.store.ListOpen() {
		s.mu.Lock()
		s.sched.set(p.ID, s.now())
		s.mu.Unlock()
	}

	evalCtx, evalCancel := context.WithCancel(ctx)
	defer evalCancel()

	var g errgroup.Group
	g.SetLimit(s.cfg.Concurrency)

	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	cancelCh := s.cancelCh
	var drainDeadline <-chan time.Time

	s.logEntry().WithField("concurrency", s.cfg.Concurrency).Info("Супервизор запущен.")

loop:
	for {
		if s.isDraining() && s.drained() {
			s.logEntry().Info("Все продажи подтверждены, супервизор остановлен.")
			break
		}

		for _, id := range s.takeDue() {
			id := id
			g.Go(func() error {
				s.complete(id, s.evaluateClaimed(evalCtx, id))
				return nil
			})
		}

		resetTimer(timer, s.nextWait())

		select {
		case <-ctx.Done():
			s.logEntry().Warn("Контекст супервизора отменён.")
			break loop
		case <-cancelCh:
			cancelCh = nil
			drainDeadline = time.After(s.cfg.DrainTimeout)
			s.pruneForDrain()
			s.logEntry().Info("Остановка супервизора: ожидание подтверждения отправленных продаж.")
		case <-drainDeadline:
			s.logEntry().WithField("pending", s.pendingConfirmations()).Warn("Истёк таймаут остановки, неподтверждённые продажи оставлены в EXITING.")
			evalCancel()
			break loop
		case <-s.wake:
		case <-timer.C:
		}
	}

	_ = g.Wait()
	return nil
}

// Cancel stops new evaluations and new sell submissions, then blocks until
// in-flight sell confirmations resolve or the drain timeout elapses.
func (s *Supervisor) Cancel() {
	s.cancelOnce.Do(func() {
		s.mu.Lock()
		s.draining = true
		s.mu.Unlock()
		close(s.cancelCh)
	})
	if !s.running.Load() {
		return
	}
	<-s.done
}

func (s *Supervisor) isDraining() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draining
}

func (s *Supervisor) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// takeDue pops due ids and claims them for evaluation.
func (s *Supervisor) takeDue() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var out, busy []string
	for _, id := range s.sched.popDue(now) {
		if _, ok := s.claimed[id]; ok {
			busy = append(busy, id)
			continue
		}
		s.claimed[id] = struct{}{}
		out = append(out, id)
	}
	for _, id := range busy {
		s.sched.set(id, now.Add(s.cfg.ConfirmInterval))
	}
	return out
}

// complete re-queues id at next and releases its claim in one step, so the
// drain check never sees a position that is neither queued nor claimed.
// A zero next drops the position from the schedule.
func (s *Supervisor) complete(id string, next time.Time) {
	s.metrics.OpenPositions.Set(float64(s.store.Exposure().Count))

	if !next.IsZero() && s.isDraining() && !s.awaitingConfirmation(id) {
		next = time.Time{}
	}

	s.mu.Lock()
	if !next.IsZero() {
		s.sched.set(id, next)
	}
	delete(s.claimed, id)
	s.mu.Unlock()

	s.signal()
}

func (s *Supervisor) nextWait() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	due, ok := s.sched.next()
	if !ok {
		return time.Hour
	}
	wait := due.Sub(s.now())
	if wait < 0 {
		return 0
	}
	return wait
}

// awaitingConfirmation reports whether id has a submitted sell that must
// be resolved before shutdown.
func (s *Supervisor) awaitingConfirmation(id string) bool {
	p, err := s.store.Get(id)
	return err == nil && p.State == models.PositionExiting && p.SellTxRef != ""
}

func (s *Supervisor) pruneForDrain() {
	s.mu.Lock()
	ids := s.sched.ids()
	s.mu.Unlock()

	for _, id := range ids {
		if s.awaitingConfirmation(id) {
			continue
		}
		s.mu.Lock()
		s.sched.remove(id)
		s.mu.Unlock()
	}
}

func (s *Supervisor) drained() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sched.len() == 0 && len(s.claimed) == 0
}

func (s *Supervisor) pendingConfirmations() int {
	n := 0
	for _, p := range s.store.ListOpen() {
		if p.State == models.PositionExiting && p.SellTxRef != "" {
			n++
		}
	}
	return n
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}
