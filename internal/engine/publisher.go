package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/wesleyorama2/surge/internal/payload"
	"github.com/wesleyorama2/surge/internal/rate"
	"github.com/wesleyorama2/surge/internal/session"
)

// taskSet tracks the publisher tasks of a run. Tasks may still be writing
// after the grace period expires, so results are only read through snapshot.
type taskSet struct {
	mu      sync.Mutex
	results []TaskResult
	done    chan struct{}
}

func newTaskSet(n int) *taskSet {
	return &taskSet{
		results: make([]TaskResult, n),
		done:    make(chan struct{}),
	}
}

func (ts *taskSet) update(i int, fn func(*TaskResult)) {
	ts.mu.Lock()
	fn(&ts.results[i])
	ts.mu.Unlock()
}

func (ts *taskSet) setState(i int, state TaskState) {
	ts.update(i, func(r *TaskResult) { r.State = state })
}

func (ts *taskSet) snapshot() []TaskResult {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	out := make([]TaskResult, len(ts.results))
	copy(out, ts.results)
	return out
}

// startPublishers launches one task per publisher session. The returned
// set's done channel closes when every task has terminated.
func (e *Engine) startPublishers(ctx context.Context) *taskSet {
	n := e.cfg.Publisher.Sessions
	tasks := newTaskSet(n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		id := e.cfg.PublisherID(i + 1)
		tasks.update(i, func(r *TaskResult) { r.ClientID = id })

		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			e.runPublisher(ctx, i, id, tasks)
		}(i, id)
	}

	go func() {
		wg.Wait()
		close(tasks.done)
	}()
	return tasks
}

// runPublisher is the publisher task. Whatever happens inside, the task
// ends Terminated with its session disconnected.
func (e *Engine) runPublisher(ctx context.Context, i int, id string, tasks *taskSet) {
	log := e.logger.With().Str("client_id", id).Logger()

	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("Publisher task panicked")
			tasks.update(i, func(tr *TaskResult) {
				tr.Outcome = OutcomeFailed
				tr.Error = fmt.Sprintf("panic: %v", r)
			})
		}
		tasks.setState(i, TaskTerminated)
	}()

	tasks.setState(i, TaskConnecting)

	t, err := e.factory(id)
	if err != nil {
		e.agg.RecordConnectFailure()
		log.Error().Err(err).Msg("Failed to create transport")
		tasks.update(i, func(tr *TaskResult) {
			tr.State = TaskConnectFailed
			tr.Outcome = OutcomeConnectFailed
			tr.Error = err.Error()
		})
		return
	}

	s := session.New(id, session.RolePublisher, t, e.pool, session.Options{
		KeepAlive:    e.cfg.Broker.KeepAlive.Std(),
		PollInterval: e.cfg.Broker.PollInterval.Std(),
		Logger:       &log,
	})
	defer func() {
		tasks.setState(i, TaskDisconnecting)
		s.Disconnect()
	}()

	if err := e.gate.connect(ctx, s); err != nil {
		e.agg.RecordConnectFailure()
		tasks.update(i, func(tr *TaskResult) {
			tr.State = TaskConnectFailed
			tr.Outcome = OutcomeConnectFailed
			tr.Error = err.Error()
		})
		return
	}
	tasks.update(i, func(tr *TaskResult) {
		tr.State = TaskConnected
		tr.Connected = true
	})

	outcome, err := e.publishLoop(ctx, s, i, tasks, log)
	tasks.update(i, func(tr *TaskResult) {
		tr.Outcome = outcome
		if err != nil {
			tr.Error = err.Error()
		}
	})
	if outcome == OutcomeCompleted {
		log.Debug().Msg("Publisher finished sending messages")
	}
}

// publishLoop sends the session's messages, pacing between sends.
func (e *Engine) publishLoop(ctx context.Context, s *session.Session, i int, tasks *taskSet, log zerolog.Logger) (Outcome, error) {
	tasks.setState(i, TaskPublishing)

	topic := e.cfg.PublisherTopic(s.ID)
	qos := byte(e.cfg.Publisher.QoS)
	pacer := rate.NewPacer(e.cfg.Publisher.Interval.Std())

	for seq := int64(1); seq <= int64(e.cfg.Publisher.Messages); seq++ {
		if e.signal.IsSet() {
			return OutcomeInterrupted, nil
		}

		if !s.IsConnected() {
			log.Warn().Int64("msg_num", seq).Msg("Not connected, waiting before retry")
			if !e.waitReconnect(ctx) {
				return OutcomeInterrupted, nil
			}
			if !s.IsConnected() {
				log.Error().Int64("msg_num", seq).Msg("Still not connected, aborting publisher")
				return OutcomeDisconnected, session.ErrNotConnected
			}
		}

		raw, err := payload.NewMessage(s.ID, seq, time.Now(), e.cfg.Publisher.PayloadBytes).Encode()
		if err != nil {
			log.Error().Err(err).Msg("Failed to encode message")
			return OutcomeFailed, err
		}

		if err := s.Publish(topic, raw, qos); err != nil {
			e.agg.RecordPublishError()
			if !errors.Is(err, session.ErrNotConnected) {
				log.Error().Err(err).Msg("Publish failed, aborting publisher")
				return OutcomeFailed, err
			}
		} else {
			e.agg.RecordPublish()
			tasks.update(i, func(tr *TaskResult) { tr.Published++ })
		}

		if err := pacer.Wait(ctx); err != nil {
			return OutcomeInterrupted, nil
		}
	}
	return OutcomeCompleted, nil
}

// waitReconnect sleeps for the reconnect wait. It returns false if the run
// was shut down first.
func (e *Engine) waitReconnect(ctx context.Context) bool {
	timer := time.NewTimer(e.cfg.Publisher.ReconnectWait.Std())
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// collectTasks copies task outcomes into res.
func (e *Engine) collectTasks(res *Result, tasks *taskSet) {
	res.Tasks = tasks.snapshot()
	for _, tr := range res.Tasks {
		switch {
		case tr.Connected:
			res.Publishers.Connected++
		case tr.Outcome == OutcomeConnectFailed:
			res.Publishers.Failed++
		}
	}
}
