package ingest

import (
	"context"
	"time"

	"github.com/gorilla/websocket"

	"github.com/avikram/metalpulse/pkg/logger"
)

// StreamSubscriber consumes a pushed upstream feed over websocket and runs
// every message through the same parse, gate, persist pipeline as the
// poller. Reconnects with capped backoff; a bad message drops, it never
// kills the connection loop.
type StreamSubscriber struct {
	url       string
	scheduler *Scheduler
	logger    *logger.Logger

	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewStreamSubscriber creates a subscriber for the given websocket URL.
func NewStreamSubscriber(url string, scheduler *Scheduler, log *logger.Logger) *StreamSubscriber {
	return &StreamSubscriber{
		url:            url,
		scheduler:      scheduler,
		logger:         log.WithField("module", "stream"),
		initialBackoff: time.Second,
		maxBackoff:     time.Minute,
	}
}

// Run consumes the stream until the context is cancelled.
func (s *StreamSubscriber) Run(ctx context.Context) {
	s.logger.WithField("url", s.url).Info("Stream subscriber started")

	backoff := s.initialBackoff
	for {
		if err := s.consume(ctx); err != nil {
			s.logger.WithError(err).Warn("Stream connection lost")
		}

		select {
		case <-ctx.Done():
			s.logger.Info("Stream subscriber stopped")
			return
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > s.maxBackoff {
			backoff = s.maxBackoff
		}
	}
}

// consume dials the feed and ingests messages until the connection drops or
// the context is cancelled.
func (s *StreamSubscriber) consume(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	s.logger.Info("Stream connected")

	// Unblock ReadMessage on shutdown. done releases the watcher when this
	// connection ends first, so reconnects do not accumulate parked goroutines.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		result, err := s.scheduler.IngestStream(ctx, raw)
		if err != nil {
			s.logger.WithError(err).Debug("Stream message dropped")
			continue
		}

		s.logger.WithFields(map[string]interface{}{
			"inserted":   result.Inserted,
			"duplicates": result.Duplicates,
			"upserted":   result.Upserted,
		}).Debug("Stream message ingested")
	}
}
