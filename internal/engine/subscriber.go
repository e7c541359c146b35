package engine

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wesleyorama2/surge/internal/metrics"
	"github.com/wesleyorama2/surge/internal/session"
)

// connectSubscribers creates every subscriber session and connects them all
// concurrently. It returns once every attempt has resolved.
func (e *Engine) connectSubscribers(ctx context.Context) SessionCounts {
	n := e.cfg.Subscriber.Sessions
	counts := SessionCounts{Requested: n}

	e.logger.Info().
		Int("subscribers", n).
		Str("filter", e.cfg.SubscriberFilter()).
		Msg("Connecting subscribers")

	var connected, failed atomic.Int64

	g := new(errgroup.Group)
	if limit := e.cfg.Run.ConnectConcurrency; limit > 0 {
		g.SetLimit(limit)
	}
	for i := 1; i <= n; i++ {
		id := e.cfg.SubscriberID(i)
		g.Go(func() error {
			if e.connectSubscriber(ctx, id) {
				connected.Add(1)
			} else {
				failed.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	counts.Connected = int(connected.Load())
	counts.Failed = int(failed.Load())

	e.logger.Info().
		Int("connected", counts.Connected).
		Int("failed", counts.Failed).
		Msg("Subscriber connect phase complete")
	return counts
}

// connectSubscriber connects and subscribes one session. A session that
// cannot subscribe is disconnected and counted as a connect failure.
func (e *Engine) connectSubscriber(ctx context.Context, id string) (ok bool) {
	log := e.logger.With().Str("client_id", id).Logger()

	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("Subscriber setup panicked")
			e.agg.RecordConnectFailure()
			ok = false
		}
	}()

	t, err := e.factory(id)
	if err != nil {
		log.Error().Err(err).Msg("Failed to create transport")
		e.agg.RecordConnectFailure()
		return false
	}

	s := session.New(id, session.RoleSubscriber, t, e.pool, session.Options{
		KeepAlive:    e.cfg.Broker.KeepAlive.Std(),
		PollInterval: e.cfg.Broker.PollInterval.Std(),
		OnMessage:    e.receiveHandler(id),
		Logger:       &log,
	})

	if err := e.gate.connect(ctx, s); err != nil {
		e.agg.RecordConnectFailure()
		s.Disconnect()
		return false
	}

	if err := s.Subscribe(e.cfg.SubscriberFilter(), byte(e.cfg.Subscriber.QoS)); err != nil {
		log.Error().Err(err).Msg("Subscribe failed")
		e.agg.RecordConnectFailure()
		s.Disconnect()
		return false
	}

	log.Debug().Str("filter", e.cfg.SubscriberFilter()).Msg("Subscriber ready")
	return true
}

// receiveHandler decodes and records every arrival for subscriber id.
func (e *Engine) receiveHandler(id string) session.MessageHandler {
	return func(topic string, raw []byte, receivedAt time.Time) {
		ev := metrics.DecodeEvent(e.decoder, id, topic, raw, receivedAt)
		if ev.Malformed {
			e.logger.Warn().
				Err(ev.Err).
				Str("client_id", id).
				Str("topic", topic).
				Int("bytes", len(raw)).
				Msg("Could not decode payload")
		}
		e.agg.RecordReceive(ev)
	}
}

// monitor polls the received count until expected is reached, the run is
// shut down or the drain timeout expires.
//
// With pubDone nil the drain timeout starts immediately. Otherwise it starts
// once pubDone closes, and a zero timeout falls back to defaultRunDrain.
func (e *Engine) monitor(ctx context.Context, mode Mode, expected int64, pubDone <-chan struct{}) Outcome {
	if expected > 0 {
		e.logger.Info().Int64("expected", expected).Msg("Awaiting messages")
	} else {
		e.logger.Info().Msg("Awaiting messages until interrupted")
	}

	ticker := time.NewTicker(e.monitorInterval())
	defer ticker.Stop()

	var drain drainDeadline
	defer drain.stop()

	if pubDone == nil {
		drain.start(e.cfg.Subscriber.DrainTimeout.Std())
	}

	for {
		if expected > 0 && e.agg.Received() >= expected {
			e.emitProgress(mode, expected)
			e.logger.Info().Msg("All expected messages received")
			return OutcomeCompleted
		}

		select {
		case <-ctx.Done():
			e.emitProgress(mode, expected)
			e.logger.Info().Msg("Monitoring stopped by shutdown signal")
			return OutcomeInterrupted
		case <-pubDone:
			pubDone = nil
			drain.start(e.cfg.Subscriber.DrainTimeout.GetDuration(defaultRunDrain))
		case <-drain.C():
			e.emitProgress(mode, expected)
			e.logger.Warn().
				Int64("received", e.agg.Received()).
				Int64("expected", expected).
				Msg("Monitoring ended by drain timeout")
			return OutcomeTimedOut
		case <-ticker.C:
			e.emitProgress(mode, expected)
		}
	}
}

// drainDeadline bounds monitoring. It is armed at most once; until then C
// is nil and never fires.
type drainDeadline struct {
	timer *time.Timer
}

func (d *drainDeadline) start(after time.Duration) {
	if after <= 0 || d.timer != nil {
		return
	}
	d.timer = time.NewTimer(after)
}

func (d *drainDeadline) C() <-chan time.Time {
	if d.timer == nil {
		return nil
	}
	return d.timer.C
}

// stop releases the timer and reports whether it was still pending.
func (d *drainDeadline) stop() bool {
	if d.timer == nil {
		return false
	}
	return d.timer.Stop()
}
