package events

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/ytget/ytjobs/internal/model"
)

// PostgresPublisher sends events with pg_notify on the shared channel
type PostgresPublisher struct {
	pool    *pgxpool.Pool
	channel string
}

// NewPostgresPublisher creates a publisher over pool
func NewPostgresPublisher(pool *pgxpool.Pool) *PostgresPublisher {
	return &PostgresPublisher{pool: pool, channel: Channel}
}

// Publish implements Publisher
func (p *PostgresPublisher) Publish(ctx context.Context, ev model.Event) error {
	msg, err := Encode(ev)
	if err != nil {
		return err
	}
	_, err = p.pool.Exec(ctx, `SELECT pg_notify($1, $2);`, p.channel, string(msg))
	return err
}

// PostgresListener relays notifications of the shared channel into a Hub
type PostgresListener struct {
	pool    *pgxpool.Pool
	hub     *Hub
	channel string
	backoff time.Duration
	log     zerolog.Logger
}

// NewPostgresListener creates a listener feeding hub
func NewPostgresListener(pool *pgxpool.Pool, hub *Hub, log zerolog.Logger) *PostgresListener {
	return &PostgresListener{
		pool:    pool,
		hub:     hub,
		channel: Channel,
		backoff: 2 * time.Second,
		log:     log.With().Str("component", "events").Logger(),
	}
}

// Run listens until ctx is canceled, reconnecting after connection errors
func (l *PostgresListener) Run(ctx context.Context) error {
	for {
		err := l.listen(ctx)
		if ctx.Err() != nil {
			return nil
		}
		l.log.Warn().Err(err).Dur("retry_in", l.backoff).Msg("events: listener disconnected")
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(l.backoff):
		}
	}
}

func (l *PostgresListener) listen(ctx context.Context) error {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{l.channel}.Sanitize()); err != nil {
		return err
	}
	l.log.Info().Str("channel", l.channel).Msg("events: listening")

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		l.hub.Broadcast([]byte(n.Payload))
	}
}
