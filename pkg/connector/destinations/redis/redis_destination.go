// Package redis provides a destination that pushes items onto a Redis
// list, for handoff to downstream consumers that BRPOP their work.
package redis

import (
	"context"

	json "github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"github.com/conveyr/conveyr/pkg/config"
	"github.com/conveyr/conveyr/pkg/connector/core"
	"github.com/conveyr/conveyr/pkg/connector/registry"
	"github.com/conveyr/conveyr/pkg/errors"
	"github.com/conveyr/conveyr/pkg/models"
)

func init() {
	registry.RegisterDestination("redis", func(cfg *config.ConnectorConfig, pc *config.PipelineConfig) (core.Destination, error) {
		key := cfg.Option("key", "")
		if key == "" {
			return nil, errors.New(errors.ErrorTypeConfig, "redis destination requires a key option")
		}
		return &Destination{
			name: cfg.BindingName(),
			key:  key,
			opts: &redis.Options{
				Addr:     cfg.Option("address", "localhost:6379"),
				Password: cfg.Option("password", ""),
			},
		}, nil
	})
}

// Destination LPUSHes serialized items onto a list.
type Destination struct {
	name string
	key  string
	opts *redis.Options

	client *redis.Client
}

// Name implements core.Destination.
func (d *Destination) Name() string { return d.name }

// Open implements core.Destination.
func (d *Destination) Open(ctx context.Context) error {
	client := redis.NewClient(d.opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return errors.Wrapf(err, errors.ErrorTypeConnection, "failed to reach redis at %s", d.opts.Addr)
	}
	d.client = client
	return nil
}

// Send implements core.Destination.
func (d *Destination) Send(ctx context.Context, item *models.Item) error {
	if d.client == nil {
		return errors.New(errors.ErrorTypeInternal, "destination not open")
	}
	payload, err := json.Marshal(item)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "item not serializable")
	}
	if err := d.client.LPush(ctx, d.key, payload).Err(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "lpush failed")
	}
	return nil
}

// Close implements core.Destination.
func (d *Destination) Close() error {
	if d.client != nil {
		return d.client.Close()
	}
	return nil
}
