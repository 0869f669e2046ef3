package kafka

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/route-beacon/wirecodec/internal/config"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"
)

// Consumer reads OpenBMP records from a consumer group. Offsets are only
// committed for records handed back on the flushed channel.
type Consumer struct {
	client *kgo.Client
	logger *zap.Logger
	joined atomic.Bool
}

// ClientOptions returns the connection options shared by every client built
// from cfg: brokers, client ID, fetch size, TLS and SASL.
func ClientOptions(cfg *config.KafkaConfig) ([]kgo.Opt, error) {
	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ClientID(cfg.ClientID),
		kgo.FetchMaxBytes(cfg.FetchMaxBytes),
	}
	tlsCfg, err := cfg.BuildTLSConfig()
	if err != nil {
		return nil, fmt.Errorf("kafka tls: %w", err)
	}
	if tlsCfg != nil {
		opts = append(opts, kgo.DialTLSConfig(tlsCfg))
	}
	mech, err := cfg.BuildSASLMechanism()
	if err != nil {
		return nil, fmt.Errorf("kafka sasl: %w", err)
	}
	if mech != nil {
		opts = append(opts, kgo.SASL(mech))
	}
	return opts, nil
}

// NewConsumer joins the raw consumer group of cfg.
func NewConsumer(cfg *config.KafkaConfig, logger *zap.Logger, extra ...kgo.Opt) (*Consumer, error) {
	c := &Consumer{logger: logger.With(zap.String("group", cfg.Raw.GroupID))}

	opts, err := ClientOptions(cfg)
	if err != nil {
		return nil, err
	}
	opts = append(opts,
		kgo.ConsumerGroup(cfg.Raw.GroupID),
		kgo.ConsumeTopics(cfg.Raw.Topics...),
		kgo.DisableAutoCommit(),
		kgo.OnPartitionsAssigned(func(_ context.Context, _ *kgo.Client, assigned map[string][]int32) {
			c.joined.Store(true)
			c.logger.Info("consumer: partitions assigned", zap.Any("partitions", assigned))
		}),
		kgo.OnPartitionsRevoked(func(_ context.Context, _ *kgo.Client, revoked map[string][]int32) {
			c.joined.Store(false)
			c.logger.Info("consumer: partitions revoked", zap.Any("partitions", revoked))
		}),
	)
	opts = append(opts, extra...)

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, err
	}
	c.client = client
	return c, nil
}

// Run fetches records and sends them to the records channel until ctx is
// cancelled. It reads from flushed to commit offsets after successful DB
// writes. records is closed on return.
func (c *Consumer) Run(ctx context.Context, records chan<- []*kgo.Record, flushed <-chan []*kgo.Record) {
	defer close(records)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case recs, ok := <-flushed:
				if !ok {
					return
				}
				c.commit(ctx, recs)
			}
		}
	}()

	for {
		batch, ok := c.Poll(ctx)
		if !ok {
			return
		}
		if len(batch) == 0 {
			continue
		}
		select {
		case records <- batch:
		case <-ctx.Done():
			return
		}
	}
}

// Poll fetches the next records. It returns false once ctx is done or the
// client is closed. Fetch errors are logged and skipped.
func (c *Consumer) Poll(ctx context.Context) ([]*kgo.Record, bool) {
	fetches := c.client.PollFetches(ctx)
	if ctx.Err() != nil || fetches.IsClientClosed() {
		return nil, false
	}
	for _, e := range fetches.Errors() {
		c.logger.Error("consumer: fetch error",
			zap.String("topic", e.Topic),
			zap.Int32("partition", e.Partition),
			zap.Error(e.Err),
		)
	}
	var batch []*kgo.Record
	fetches.EachRecord(func(r *kgo.Record) {
		batch = append(batch, r)
	})
	return batch, true
}

func (c *Consumer) commit(ctx context.Context, recs []*kgo.Record) {
	for _, r := range recs {
		c.client.MarkCommitRecords(r)
	}
	if err := c.client.CommitMarkedOffsets(ctx); err != nil {
		c.logger.Error("consumer: commit offsets failed", zap.Error(err))
	}
}

func (c *Consumer) IsJoined() bool {
	return c.joined.Load()
}

func (c *Consumer) Close() {
	c.client.Close()
}
