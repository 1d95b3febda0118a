// Package websocket provides a streaming source over a websocket
// connection. Messages arrive as raw items until the peer closes or the
// run is stopped. The feed is live, so there is no resume cursor; each
// message gets a fresh UUID identity because identical payloads at
// different times are distinct events.
package websocket

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/conveyr/conveyr/pkg/config"
	"github.com/conveyr/conveyr/pkg/connector/core"
	"github.com/conveyr/conveyr/pkg/connector/registry"
	"github.com/conveyr/conveyr/pkg/errors"
	"github.com/conveyr/conveyr/pkg/logger"
	"github.com/conveyr/conveyr/pkg/models"
)

func init() {
	registry.RegisterSource("websocket", func(cfg *config.ConnectorConfig, pc *config.PipelineConfig) (core.Source, error) {
		url := cfg.Option("url", "")
		if url == "" {
			return nil, errors.New(errors.ErrorTypeConfig, "websocket source requires a url option")
		}
		handshake, err := time.ParseDuration(cfg.Option("handshake_timeout", "10s"))
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid handshake_timeout option")
		}
		return &Source{
			name: cfg.BindingName(),
			url:  url,
			dialer: &websocket.Dialer{
				HandshakeTimeout: handshake,
			},
		}, nil
	})
}

// Source consumes a live websocket feed.
type Source struct {
	name   string
	url    string
	dialer *websocket.Dialer

	conn *websocket.Conn
}

// Name implements core.Source.
func (s *Source) Name() string { return s.name }

// Open implements core.Source. The cursor is ignored: a live feed
// cannot be replayed, so resumed runs simply continue from now.
func (s *Source) Open(ctx context.Context, cursor string) (*core.ItemStream, error) {
	conn, _, err := s.dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrorTypeConnection, "failed to dial %s", s.url)
	}
	s.conn = conn

	items := make(chan *models.Item)
	errs := make(chan error, 1)

	// The read loop owns the connection; cancelling ctx closes it so the
	// blocked ReadMessage returns.
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	go func() {
		defer close(items)
		defer close(errs)

		log := logger.Get().With(zap.String("source", s.name), zap.String("url", s.url))
		for {
			_, payload, err := conn.ReadMessage()
			if err != nil {
				if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					log.Debug("feed closed")
					return
				}
				errs <- errors.Wrap(err, errors.ErrorTypeConnection, "read failed")
				return
			}
			item := models.NewRaw(s.name, payload)
			item.ID = uuid.NewString()
			select {
			case items <- item:
			case <-ctx.Done():
				return
			}
		}
	}()

	return &core.ItemStream{Items: items, Errors: errs}, nil
}

// Close implements core.Source.
func (s *Source) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}
