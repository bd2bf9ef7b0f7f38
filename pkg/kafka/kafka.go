package kafka

import (
	"context"
	"log"

	"github.com/IBM/sarama"
)

type Config struct {
	Addrs []string `envconfig:"KAFKA_ADDRS"`
}

const ReplicationConsumerGroup = "bookclub-replication"

// Enabled reports whether a broker list is configured.
func (c Config) Enabled() bool {
	return len(c.Addrs) > 0
}

func NewConsumer(cfg Config, group string) (sarama.ConsumerGroup, error) {
	defaultCfg := sarama.NewConfig()

	defaultCfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	defaultCfg.Consumer.Return.Errors = false

	return sarama.NewConsumerGroup(cfg.Addrs, group, defaultCfg)
}

// Consume runs the consumer-group session loop until ctx is canceled.
// Consume returns on every rebalance, so the handler's Setup fires
// again after each reconnect.
func Consume(ctx context.Context, consumer sarama.ConsumerGroup, handler sarama.ConsumerGroupHandler, topics ...string) {
	for {
		if err := consumer.Consume(ctx, topics, handler); err != nil {
			log.Printf("kafka consume: %v", err)
		}
		if ctx.Err() != nil {
			return
		}
	}
}
