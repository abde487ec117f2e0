package store

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/jackc/pgx/v5"
)

// channelNamePattern is the only shape Postgres LISTEN/NOTIFY accepts
// as a bare identifier; channel names are never parameterizable in
// that grammar, so every name is validated before interpolation (spec
// §6, §9 design notes).
var channelNamePattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// PairCreatedChannel is the internal notification channel name.
const PairCreatedChannel = "pair_created"

// Notify publishes a JSON payload on the given channel via pg_notify,
// which (unlike NOTIFY channel, 'payload') accepts the channel name as
// a bound parameter and therefore needs no interpolation at all — but
// the name is still validated defensively since callers may later wire
// other channel names in.
func (s *Store) Notify(ctx context.Context, channel string, payload any) error {
	if !channelNamePattern.MatchString(channel) {
		return fmt.Errorf("store: invalid channel name %q", channel)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("store: marshal notify payload: %w", err)
	}
	_, err = s.Pool.Exec(ctx, `SELECT pg_notify($1, $2)`, channel, string(body))
	if err != nil {
		return fmt.Errorf("store: notify %s: %w", channel, err)
	}
	return nil
}

// Listener consumes NOTIFY payloads on one channel over a dedicated
// connection held out of the pool for the lifetime of Listen.
type Listener struct {
	s       *Store
	channel string
}

// Listen returns a Listener bound to channel after validating its name
// against the LISTEN/NOTIFY identifier grammar.
func (s *Store) Listen(channel string) (*Listener, error) {
	if !channelNamePattern.MatchString(channel) {
		return nil, fmt.Errorf("store: invalid channel name %q", channel)
	}
	return &Listener{s: s, channel: channel}, nil
}

// Run acquires a dedicated connection, issues LISTEN, and invokes fn
// for every notification payload until ctx is canceled. An error from
// fn is logged and does not stop the loop. Acquire, LISTEN and wait
// errors are logged and the connection is re-established.
func (l *Listener) Run(ctx context.Context, fn func(ctx context.Context, payload string) error) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := l.runOnce(ctx, fn); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			l.s.log.Warn().Err(err).Str("channel", l.channel).Msg("store: listener connection lost, reconnecting")
			continue
		}
	}
}

func (l *Listener) runOnce(ctx context.Context, fn func(ctx context.Context, payload string) error) error {
	conn, err := l.s.Pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("store: acquire listen conn: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+l.channel); err != nil {
		return fmt.Errorf("store: LISTEN %s: %w", l.channel, err)
	}

	for {
		notif, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			if err == pgx.ErrNoRows {
				continue
			}
			return err
		}
		if err := fn(ctx, notif.Payload); err != nil {
			l.s.log.Error().Err(err).Str("channel", l.channel).Msg("store: listener callback failed")
		}
	}
}
