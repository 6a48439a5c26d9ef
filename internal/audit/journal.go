package audit

/*
Journal — асинхронный журнал оценок оркестратора.

- Log не блокирует вызывающего: запись уходит в буферизованный канал,
  при переполнении запись сбрасывается с ошибкой в логе (load shedding).
- Воркер копит пачку и пишет её в AssessmentSink по таймеру или по лимиту пачки.
- Stop закрывает канал и ждёт, пока воркер вычитает остаток и сделает финальный flush.
  Отправка в канал и его закрытие разведены RWMutex-ом: Log после Stop только отбрасывает запись.
*/

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xela07ax/delegation-governance/internal/infra"
	"go.uber.org/zap"
)

// AssessmentSink — куда физически пишутся оценки (Postgres, память)
type AssessmentSink interface {
	WriteBatch(ctx context.Context, batch []Assessment) error
}

// AssessmentLogger — то, что нужно оркестратору.
type AssessmentLogger interface {
	Log(a Assessment)
}

type JournalOptions struct {
	BufferSize    int
	BatchSize     int
	FlushInterval time.Duration
}

func (o JournalOptions) withDefaults() JournalOptions {
	if o.BufferSize <= 0 {
		o.BufferSize = 10000
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 100
	}
	if o.FlushInterval <= 0 {
		o.FlushInterval = 500 * time.Millisecond
	}
	return o
}

type Journal struct {
	ch      chan Assessment
	sink    AssessmentSink
	opts    JournalOptions
	metrics *infra.Metrics
	logger  *zap.Logger
	wg      sync.WaitGroup

	mu      sync.RWMutex // RLock на отправку, Lock на close(ch)
	closed  bool
	started atomic.Bool
}

func NewJournal(sink AssessmentSink, opts JournalOptions, metrics *infra.Metrics, logger *zap.Logger) *Journal {
	opts = opts.withDefaults()
	if metrics == nil {
		metrics = infra.NewMetrics(nil)
	}
	return &Journal{
		ch:      make(chan Assessment, opts.BufferSize),
		sink:    sink,
		opts:    opts,
		metrics: metrics,
		logger:  infra.OrNop(logger).Named("journal"),
	}
}

func (j *Journal) Start() {
	if !j.started.CompareAndSwap(false, true) {
		return
	}
	j.wg.Add(1)
	go j.worker()
}

// Stop «запирает» вход и ждёт, пока воркер всё допишет. Повторный вызов безопасен.
func (j *Journal) Stop() {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return
	}
	j.closed = true
	j.logger.Info("stopping journal: closing channel and flushing buffer...")
	close(j.ch)
	j.mu.Unlock()

	if j.started.Load() {
		j.wg.Wait()
	}
	j.logger.Info("journal stopped gracefully")
}

func (j *Journal) Log(a Assessment) {
	if a.Timestamp.IsZero() {
		a.Timestamp = time.Now().UTC()
	}
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		j.logger.Warn("assessment dropped: journal is stopping", zap.String("id", a.ID))
		return
	}

	select {
	case j.ch <- a:
		j.metrics.JournalBufferFill.Set(float64(len(j.ch)))
	default:
		j.logger.Error("journal_buffer_overflow",
			zap.String("kind", a.Kind),
			zap.String("delegation_id", a.DelegationID),
		)
	}
}

func (j *Journal) worker() {
	defer j.wg.Done()

	batch := make([]Assessment, 0, j.opts.BatchSize)
	ticker := time.NewTicker(j.opts.FlushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		// Background: контекст сервиса к этому моменту может быть закрыт
		if err := j.sink.WriteBatch(context.Background(), batch); err != nil {
			j.logger.Error("journal flush failed", zap.Int("batch", len(batch)), zap.Error(err))
		}
		batch = make([]Assessment, 0, j.opts.BatchSize)
		j.metrics.JournalBufferFill.Set(float64(len(j.ch)))
	}

	for {
		select {
		case a, ok := <-j.ch:
			if !ok {
				flush() // финальный сброс
				j.logger.Info("journal worker finished")
				return
			}
			batch = append(batch, a)
			if len(batch) >= j.opts.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}
