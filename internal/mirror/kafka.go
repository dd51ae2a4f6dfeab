package mirror

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/lucaslui/resilientroute/internal/model"
)

// KafkaSink publishes each report as one message keyed by subject id.
type KafkaSink struct {
	w *kafka.Writer
}

func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	return &KafkaSink{w: &kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Topic:    topic,
		Balancer: &kafka.Hash{},

		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,

		RequiredAcks: kafka.RequireOne,
		Compression:  kafka.Snappy,
	}}
}

func (k *KafkaSink) Name() string { return "kafka:" + k.w.Topic }

func (k *KafkaSink) Write(ctx context.Context, reports []model.Report) error {
	msgs, err := kafkaMessages(reports, time.Now().UTC())
	if err != nil {
		return err
	}
	return k.w.WriteMessages(ctx, msgs...)
}

func (k *KafkaSink) Close() error { return k.w.Close() }

func kafkaMessages(reports []model.Report, syncedAt time.Time) ([]kafka.Message, error) {
	msgs := make([]kafka.Message, 0, len(reports))
	for _, r := range reports {
		value, err := json.Marshal(r)
		if err != nil {
			return nil, fmt.Errorf("encode report %s: %w", r.SubjectID, err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(r.SubjectID),
			Value: value,
			Headers: []kafka.Header{
				{Key: "syncedAt", Value: []byte(syncedAt.Format(time.RFC3339Nano))},
			},
		})
	}
	return msgs, nil
}

// EnsureKafkaTopic creates topic through the cluster controller if it does
// not exist yet.
func EnsureKafkaTopic(ctx context.Context, brokers []string, topic string, partitions, replication int, logger *zap.Logger) error {
	bootstrap := brokers[0]
	logger.Info("[mirror] kafka ensuring topic", zap.String("bootstrap", bootstrap), zap.String("topic", topic))

	conn, err := kafka.DialContext(ctx, "tcp", bootstrap)
	if err != nil {
		return err
	}
	defer conn.Close()

	if parts, err := conn.ReadPartitions(topic); err == nil && len(parts) > 0 {
		logger.Info("[mirror] kafka topic already exists", zap.String("topic", topic))
		return nil
	}

	controller, err := conn.Controller()
	if err != nil {
		return err
	}
	ctrlConn, err := kafka.DialContext(ctx, "tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	if err != nil {
		return err
	}
	defer ctrlConn.Close()

	logger.Info("[mirror] kafka creating topic",
		zap.String("topic", topic), zap.Int("partitions", partitions), zap.Int("rf", replication))
	return ctrlConn.CreateTopics(kafka.TopicConfig{
		Topic:             topic,
		NumPartitions:     partitions,
		ReplicationFactor: replication,
	})
}
