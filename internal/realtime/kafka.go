package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog"

	"newsmesh/internal/model"
)

// KafkaIntakeConfig configures the Kafka job intake.
type KafkaIntakeConfig struct {
	Brokers []string
	Topic   string
	GroupID string
}

// KafkaIntake consumes processing jobs from a Kafka topic and feeds them to
// the realtime processor. Jobs are JSON-encoded model.ProcessingJob payloads.
type KafkaIntake struct {
	group     sarama.ConsumerGroup
	processor *Processor
	topic     string
	groupID   string
	ready     chan struct{}
	log       zerolog.Logger
}

// NewKafkaIntake builds a consumer group reading from the newest offset.
func NewKafkaIntake(cfg KafkaIntakeConfig, processor *Processor, logger zerolog.Logger) (*KafkaIntake, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}

	saramaCfg := sarama.NewConfig()
	saramaCfg.Version = sarama.V3_6_0_0
	saramaCfg.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	saramaCfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	saramaCfg.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, saramaCfg)
	if err != nil {
		return nil, fmt.Errorf("create consumer group: %w", err)
	}

	return &KafkaIntake{
		group:     group,
		processor: processor,
		topic:     cfg.Topic,
		groupID:   cfg.GroupID,
		ready:     make(chan struct{}),
		log:       logger.With().Str("component", "kafka_intake").Logger(),
	}, nil
}

// Start begins consuming and blocks until the first session is established.
// Consumption continues in the background until ctx is cancelled.
func (k *KafkaIntake) Start(ctx context.Context) error {
	handler := &intakeHandler{intake: k, ready: k.ready}

	go func() {
		for {
			if err := k.group.Consume(ctx, []string{k.topic}, handler); err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				k.log.Error().Err(err).Msg("consumer session failed")
			}
			if ctx.Err() != nil {
				return
			}
			handler.ready = make(chan struct{})
		}
	}()

	select {
	case <-k.ready:
	case <-ctx.Done():
		return ctx.Err()
	}
	k.log.Info().Str("topic", k.topic).Str("group", k.groupID).Msg("kafka intake started")

	go func() {
		for err := range k.group.Errors() {
			k.log.Error().Err(err).Msg("consumer error")
		}
	}()
	return nil
}

// Close shuts down the consumer group.
func (k *KafkaIntake) Close() error {
	return k.group.Close()
}

// intakeHandler implements sarama.ConsumerGroupHandler.
type intakeHandler struct {
	intake *KafkaIntake
	ready  chan struct{}
}

func (h *intakeHandler) Setup(sarama.ConsumerGroupSession) error {
	close(h.ready)
	return nil
}

func (h *intakeHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *intakeHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message := <-claim.Messages():
			if message == nil {
				return nil
			}
			if h.handle(message.Value) {
				session.MarkMessage(message, "")
			}
		case <-session.Context().Done():
			return nil
		}
	}
}

// handle decodes and submits one message, reporting whether to mark it.
// Malformed payloads are marked so they are skipped rather than retried;
// a full queue leaves the message unmarked for redelivery.
func (h *intakeHandler) handle(payload []byte) bool {
	var job model.ProcessingJob
	if err := json.Unmarshal(payload, &job); err != nil {
		h.intake.log.Warn().Err(err).Msg("discarding malformed job payload")
		return true
	}
	if len(job.Items) == 0 {
		return true
	}

	if err := h.intake.processor.Submit(&job); err != nil {
		if errors.Is(err, ErrQueueFull) {
			h.intake.log.Warn().Str("job", job.ID).Msg("queue full, leaving message for redelivery")
			return false
		}
		h.intake.log.Error().Err(err).Str("job", job.ID).Msg("submit failed")
		return false
	}
	return true
}
