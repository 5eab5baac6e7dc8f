package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

// DefaultWriteTimeout bounds a single publish attempt.
const DefaultWriteTimeout = 10 * time.Second

// messageWriter is the part of *kafka.Writer the notifier uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaNotifier publishes notifications as JSON messages keyed by import ID.
type KafkaNotifier struct {
	writer  messageWriter
	topic   string
	timeout time.Duration
	logger  *slog.Logger
}

// NewKafkaNotifier returns a notifier writing to topic on brokers.
func NewKafkaNotifier(brokers []string, topic string, logger *slog.Logger) *KafkaNotifier {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("kafka notifier initialized", "topic", topic, "brokers", brokers)
	return &KafkaNotifier{writer: w, topic: topic, timeout: DefaultWriteTimeout, logger: logger}
}

// Notify publishes n. Failures are logged.
func (k *KafkaNotifier) Notify(ctx context.Context, n Notification) {
	msg, err := buildMessage(n)
	if err != nil {
		k.logger.Error("encode import notification", "import_id", n.ImportID, "error", err)
		return
	}

	// The run context may already be done; delivery gets its own deadline.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), k.timeout)
	defer cancel()

	if err := k.writer.WriteMessages(writeCtx, msg); err != nil {
		k.logger.Error("publish import notification",
			"import_id", n.ImportID,
			"topic", k.topic,
			"error", err,
		)
		return
	}
	k.logger.Debug("import notification published", "import_id", n.ImportID, "topic", k.topic)
}

// Close flushes and closes the writer.
func (k *KafkaNotifier) Close() error {
	return k.writer.Close()
}

// buildMessage encodes n. The report travels base64-encoded in the JSON body.
func buildMessage(n Notification) (kafka.Message, error) {
	body, err := json.Marshal(n)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("marshal notification: %w", err)
	}
	return kafka.Message{
		Key:   []byte(n.ImportID),
		Value: body,
		Headers: []kafka.Header{
			{Key: "status", Value: []byte(n.Status)},
		},
		Time: n.FinishedAt,
	}, nil
}
