// Package kafka publishes normalized observations to a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/humanitarian-data-etl/internal/config"
	"github.com/couchcryptid/humanitarian-data-etl/internal/domain"
)

// Writer produces observation messages to the sink topic.
// It implements pipeline.Publisher.
type Writer struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewWriter creates a Kafka producer for the configured sink topic.
func NewWriter(cfg *config.Config, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:                   kafkago.TCP(cfg.KafkaBrokers...),
		Topic:                  cfg.KafkaSinkTopic,
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireAll,
		AllowAutoTopicCreation: true,
	}
	return &Writer{writer: w, logger: logger}
}

// Publish serializes and writes observations in a single WriteMessages call.
// Keys are stable per (variable, record), so updates land on the same partition.
func (w *Writer) Publish(ctx context.Context, obs []domain.Observation) error {
	if len(obs) == 0 {
		return nil
	}
	msgs := make([]kafkago.Message, len(obs))
	for i := range obs {
		msg, err := serializeToMessage(obs[i])
		if err != nil {
			return err
		}
		msgs[i] = msg
	}
	if err := w.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("write observations: %w", err)
	}
	w.logger.Debug("observations published", "count", len(msgs), "topic", w.writer.Topic)
	return nil
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// MessageKey is the partition key for an observation.
func MessageKey(o domain.Observation) string {
	return o.VariableCode + "|" + o.SourceRecordID
}

func serializeToMessage(o domain.Observation) (kafkago.Message, error) {
	data, err := json.Marshal(o)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize observation %s: %w", o.SourceRecordID, err)
	}
	return kafkago.Message{
		Key:   []byte(MessageKey(o)),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "source", Value: []byte(o.Source)},
			{Key: "variable_code", Value: []byte(o.VariableCode)},
			{Key: "processed_at", Value: []byte(o.ProcessedAt.Format(time.RFC3339))},
		},
	}, nil
}
