package main

import (
	"context"
	"fmt"
	"time"

	"github.com/route-beacon/wirecodec/internal/decode"
	"github.com/route-beacon/wirecodec/internal/extension"
	"github.com/route-beacon/wirecodec/internal/kafka"
	"github.com/spf13/cobra"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"
)

type dumpOptions struct {
	max     int
	timeout time.Duration
	output  string
	brokers []string
	topics  []string
}

func newDumpCmd(o *rootOptions) *cobra.Command {
	d := &dumpOptions{}
	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Decode and print raw OpenBMP records from Kafka",
		Long: `Read the raw topics from the beginning with a throwaway consumer group and
print every decoded record. Nothing is committed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := o.loadTool()
			if err != nil {
				return err
			}
			defer logger.Sync()

			if len(d.brokers) > 0 {
				cfg.Kafka.Brokers = d.brokers
			}
			if len(d.topics) > 0 {
				cfg.Kafka.Raw.Topics = d.topics
			}
			cfg.Kafka.Raw.GroupID = fmt.Sprintf("%s-dump-%d", cfg.Kafka.ClientID, time.Now().UnixNano())

			p, err := extension.NewDefault(logger)
			if err != nil {
				return err
			}
			defer p.Close()

			c, err := kafka.NewConsumer(&cfg.Kafka, logger,
				kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()))
			if err != nil {
				return err
			}
			defer c.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), d.timeout)
			defer cancel()
			return d.run(ctx, cmd, c, p, logger)
		},
	}
	cmd.Flags().IntVarP(&d.max, "max", "n", 100, "Stop after this many records (0 for no limit)")
	cmd.Flags().DurationVar(&d.timeout, "timeout", 10*time.Second, "Stop after this long")
	cmd.Flags().StringVarP(&d.output, "output", "o", "yaml", "Output format: yaml or json")
	cmd.Flags().StringSliceVar(&d.brokers, "brokers", nil, "Override kafka.brokers")
	cmd.Flags().StringSliceVar(&d.topics, "topics", nil, "Override kafka.raw.topics")
	return cmd
}

func (d *dumpOptions) run(ctx context.Context, cmd *cobra.Command, c *kafka.Consumer, p *extension.Provider, logger *zap.Logger) error {
	n := 0
	for d.max == 0 || n < d.max {
		recs, ok := c.Poll(ctx)
		if !ok {
			break
		}
		for _, rec := range recs {
			n++
			fmt.Fprintf(cmd.OutOrStdout(), "# record %d topic=%s partition=%d offset=%d bytes=%d\n",
				n, rec.Topic, rec.Partition, rec.Offset, len(rec.Value))
			items, err := decode.Decode(p, "openbmp", rec.Value)
			if err != nil {
				logger.Warn("record did not fully decode", zap.Int64("offset", rec.Offset), zap.Error(err))
			}
			out, err := decode.Marshal(items, d.output)
			if err != nil {
				return err
			}
			cmd.OutOrStdout().Write(out)
			if d.max != 0 && n >= d.max {
				break
			}
		}
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "%d records\n", n)
	return nil
}
