package account

import (
	"context"
	"sync"
	"time"

	"github.com/mailhoard/mailhoard/pkg/config"
	"github.com/mailhoard/mailhoard/pkg/task"
	"github.com/rs/zerolog"
)

// Thread owns one account's worker goroutine.  Tasks may be queued before
// Start; they are buffered and executed in submission order once the loop
// runs.  Results are delivered on the Events channel.
type Thread struct {
	acc    *Account
	conf   config.IMAP
	worker *Worker
	queue  *task.Queue
	events chan Event
	logger zerolog.Logger

	mu      sync.Mutex
	started bool
	pending []task.Item

	cancel  context.CancelFunc
	session Session
	done    chan struct{}
}

// NewThread wires a thread around the given session and sender.  Nothing
// runs until Start.
func NewThread(acc *Account, conf config.IMAP, session Session, sender Sender,
	local LocalState, logger zerolog.Logger) *Thread {
	t := &Thread{
		acc:     acc,
		conf:    conf,
		queue:   task.NewQueue(),
		events:  make(chan Event, 64),
		session: session,
		logger:  logger.With().Str("module", "thread").Str("account", acc.Name).Logger(),
		done:    make(chan struct{}),
	}
	t.worker = NewWorker(acc, session, sender, local, t.events, logger)
	return t
}

// Events returns the channel carrying worker results.  Closed after Stop
// once the loop has fully wound down.
func (t *Thread) Events() <-chan Event {
	return t.events
}

// AddTask submits an operation.  Before Start the item is buffered; order
// relative to other buffered items is preserved when the loop begins.
func (t *Thread) AddTask(item task.Item) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.started {
		t.pending = append(t.pending, item)
		return
	}
	t.queue.Add(item)
}

// Start launches the worker loop and drains any buffered tasks into the
// queue ahead of future submissions.
func (t *Thread) Start(ctx context.Context) {
	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		return
	}
	t.started = true
	for _, item := range t.pending {
		t.queue.Add(item)
	}
	t.pending = nil
	ctx, t.cancel = context.WithCancel(ctx)
	t.mu.Unlock()

	go t.run(ctx)
}

// Stop cancels the loop and waits for it to finish.  A loop stuck in a
// network operation past the grace period has its connection closed from
// outside, which unblocks it.
func (t *Thread) Stop() {
	t.mu.Lock()
	if !t.started {
		t.started = true // reject future submissions into the buffer
		t.mu.Unlock()
		close(t.events)
		return
	}
	cancel := t.cancel
	t.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	select {
	case <-t.done:
	case <-time.After(t.conf.StopGrace):
		t.logger.Warn().Msg("Worker did not stop in time, forcing connection closed")
		_ = t.session.Close()
		<-t.done
	}
}

// run is the worker loop: pop a task, execute it, repeat.  When the queue
// stays empty past the keep-alive period and a connection is up, a noop is
// injected to hold the session open.  Real tasks always win over the
// keep-alive.
func (t *Thread) run(ctx context.Context) {
	defer func() {
		t.worker.Disconnect()
		close(t.events)
		close(t.done)
	}()
	t.logger.Info().Msg("Worker loop started")

	timer := time.NewTimer(t.conf.KeepAlivePeriod)
	defer timer.Stop()
	for {
		item, ok := t.queue.TryPop()
		if !ok {
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(t.conf.KeepAlivePeriod)
			select {
			case <-ctx.Done():
				t.logger.Info().Msg("Worker loop stopping")
				return
			case <-timer.C:
				// The wake channel may be ready at the same instant; a
				// task that just arrived still beats the keep-alive.
				if item, ok := t.queue.TryPop(); ok {
					t.worker.Execute(ctx, item)
				} else if t.worker.Connected() {
					t.worker.Execute(ctx, task.New(task.KindNoop))
				}
				continue
			case <-t.queue.Wake():
				continue
			}
		}
		select {
		case <-ctx.Done():
			t.logger.Info().Msg("Worker loop stopping")
			return
		default:
		}
		t.worker.Execute(ctx, item)
	}
}
