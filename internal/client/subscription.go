package client

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/rocketscienceinc/tilegrid/internal/codec"
	"github.com/rocketscienceinc/tilegrid/internal/entity"
)

// subscribeLoop - owns the broadcast connection. Each resubscription first fetches a
// snapshot, then forwards broadcasts; both travel over the events channel so the
// dispatcher sees them in order. The first subscription was bootstrapped by Dial.
func (that *Client) subscribeLoop(ctx context.Context, conn *websocket.Conn) {
	log := that.logger.With("method", "subscribeLoop")

	defer that.wg.Done()
	defer close(that.events)

	bootstrap := false

	for {
		err := that.consume(ctx, conn, bootstrap)
		if ctx.Err() != nil {
			return
		}

		log.Warn("subscription lost, resubscribing", "error", err)

		if conn, err = that.reconnect(ctx); err != nil {
			return
		}

		that.resubscribe.Add(1)
		bootstrap = true
	}
}

// consume - optionally bootstraps the mirror, then reads broadcasts until the connection fails.
func (that *Client) consume(ctx context.Context, conn *websocket.Conn, bootstrap bool) error {
	log := that.logger.With("method", "consume")

	stop := context.AfterFunc(ctx, func() {
		_ = conn.Close()
	})
	defer stop()
	defer conn.Close()

	if bootstrap {
		grid, err := that.fetch(ctx)
		if err != nil {
			return fmt.Errorf("failed to bootstrap mirror: %w", err)
		}

		if !that.emit(ctx, event{snapshot: grid}) {
			return ctx.Err()
		}
	}

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return classify(err)
		}

		raw := string(payload)

		cmd, err := codec.DecodeCommand(raw)
		if err != nil {
			log.Warn("ignoring malformed broadcast", "error", err)
			continue
		}

		self := cmd.ClientID == that.id
		if self {
			that.echoes.Add(1)
		}

		if !that.emit(ctx, event{change: &entity.Change{Command: cmd, Raw: raw}, self: self}) {
			return ctx.Err()
		}
	}
}

func (that *Client) emit(ctx context.Context, ev event) bool {
	select {
	case that.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// reconnect - dials the broadcast channel with exponential backoff until it succeeds or ctx ends.
func (that *Client) reconnect(ctx context.Context) (*websocket.Conn, error) {
	log := that.logger.With("method", "reconnect")

	policy := backoff.NewExponentialBackOff()
	policy.MaxInterval = that.opts.MaxBackoff
	policy.MaxElapsedTime = 0

	var conn *websocket.Conn

	operation := func() error {
		c, err := that.dial(ctx, that.subscribeURL)
		if err != nil {
			return err
		}
		conn = c

		return nil
	}

	notify := func(err error, wait time.Duration) {
		log.Warn("subscribe failed, retrying", "error", err, "wait", wait)
	}

	if err := backoff.RetryNotify(operation, backoff.WithContext(policy, ctx), notify); err != nil {
		return nil, fmt.Errorf("failed to resubscribe: %w", err)
	}

	return conn, nil
}

// dispatch - applies events to the mirror and runs callbacks, one event at a time.
// Own echoes are applied to the mirror on purpose, to keep it in broadcast order, but they
// never reach the callbacks.
func (that *Client) dispatch() {
	log := that.logger.With("method", "dispatch")

	defer that.wg.Done()

	for ev := range that.events {
		if ev.snapshot != nil {
			that.mirror.Replace(ev.snapshot)
			that.notifyResync(ev.snapshot)
			continue
		}

		if ev.self {
			if err := that.mirror.ApplyEcho(ev.change.Raw, ev.change.Command); err != nil {
				log.Debug("failed to apply own echo", "error", err)
			}
			continue
		}

		if err := that.mirror.Apply(ev.change.Command); err != nil {
			log.Warn("failed to apply remote change", "command", ev.change.Name, "error", err)
			continue
		}

		that.notifyChange(*ev.change)
	}
}

func (that *Client) notifyChange(change entity.Change) {
	that.cbMu.Lock()
	callbacks := append([]func(entity.Change){}, that.onChange...)
	that.cbMu.Unlock()

	for _, fn := range callbacks {
		fn(change)
	}
}

func (that *Client) notifyResync(grid *entity.Grid) {
	that.cbMu.Lock()
	callbacks := append([]func(*entity.Grid){}, that.onResync...)
	that.cbMu.Unlock()

	for _, fn := range callbacks {
		fn(grid.Clone())
	}
}
