package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vowsuite/notify/internal/domain"
	"github.com/vowsuite/notify/internal/queue"
)

// lanePriorities is the reverse of Priority.LaneIndex.
var lanePriorities = [domain.NumLanes]domain.Priority{
	domain.PriorityCritical,
	domain.PriorityHigh,
	domain.PriorityMedium,
	domain.PriorityLow,
}

// Pool runs the dispatch workers. Each worker is bound to exactly one lane;
// priorities compete only through pool sizing, never through a shared select,
// so a flood on the low lane cannot delay critical items.
type Pool struct {
	lanes      *queue.Lanes
	dispatcher *Dispatcher
	sizes      [domain.NumLanes]int
	onDepths   func(priority domain.Priority, depth int)
	logger     *zap.Logger

	wg sync.WaitGroup
}

// NewPool wires the lanes to the dispatcher. sizes holds the worker count per
// lane, indexed by LaneIndex. onDepths, if non-nil, receives periodic lane
// depth samples for the gauges.
func NewPool(
	lanes *queue.Lanes,
	dispatcher *Dispatcher,
	sizes [domain.NumLanes]int,
	onDepths func(priority domain.Priority, depth int),
	logger *zap.Logger,
) *Pool {
	return &Pool{
		lanes:      lanes,
		dispatcher: dispatcher,
		sizes:      sizes,
		onDepths:   onDepths,
		logger:     logger,
	}
}

// Start launches every worker goroutine. Workers run until ctx is cancelled;
// call Wait to block until they have all drained their in-flight item.
func (p *Pool) Start(ctx context.Context) {
	total := 0
	for lane, size := range p.sizes {
		priority := lanePriorities[lane]
		for i := 0; i < size; i++ {
			p.wg.Add(1)
			go p.work(ctx, priority, i)
		}
		total += size
	}
	if p.onDepths != nil {
		p.wg.Add(1)
		go p.sampleDepths(ctx)
	}
	p.logger.Info("dispatch pool started", zap.Int("workers", total))
}

// Wait blocks until every worker has exited.
func (p *Pool) Wait() {
	p.wg.Wait()
	p.logger.Info("dispatch pool stopped")
}

func (p *Pool) work(ctx context.Context, priority domain.Priority, id int) {
	defer p.wg.Done()
	logger := p.logger.With(zap.String("lane", string(priority)), zap.Int("worker", id))
	logger.Debug("worker started")
	for {
		item, ok := p.lanes.Dequeue(ctx, priority)
		if !ok {
			logger.Debug("worker stopping")
			return
		}
		p.dispatcher.process(ctx, item)
	}
}

func (p *Pool) sampleDepths(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			depths := p.lanes.Depths()
			for lane, depth := range depths {
				p.onDepths(lanePriorities[lane], depth)
			}
		}
	}
}
