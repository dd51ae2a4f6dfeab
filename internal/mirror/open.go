package mirror

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lucaslui/resilientroute/internal/config"
	"github.com/lucaslui/resilientroute/internal/remote"
)

const ensureTimeout = 10 * time.Second

// FromConfig builds the sinks enabled in cfg. store is the relay's remote
// store; the archive sink needs it to be the MinIO backend. A Kafka topic
// that cannot be ensured at boot is logged, not fatal: the relay may start
// offline.
func FromConfig(ctx context.Context, cfg *config.RelayConfig, store remote.Store, logger *zap.Logger) (*Fanout, error) {
	var sinks []Sink

	if len(cfg.KafkaBrokers) > 0 {
		ectx, cancel := context.WithTimeout(ctx, ensureTimeout)
		err := EnsureKafkaTopic(ectx, cfg.KafkaBrokers, cfg.KafkaTopic, cfg.KafkaTopicPartitions, cfg.KafkaReplicationFactor, logger)
		cancel()
		if err != nil {
			logger.Warn("[mirror] kafka topic not ensured", zap.String("topic", cfg.KafkaTopic), zap.Error(err))
		}
		sinks = append(sinks, NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaTopic))
	}
	if cfg.InfluxURL != "" {
		sinks = append(sinks, NewInfluxSink(cfg.InfluxURL, cfg.InfluxToken, cfg.InfluxOrg, cfg.InfluxBucket, cfg.InfluxMeasurement))
	}
	if cfg.MQTTBrokerURL != "" {
		sinks = append(sinks, NewMQTTSink(MQTTOptions{
			BrokerURL: cfg.MQTTBrokerURL,
			ClientID:  cfg.MQTTClientID,
			Username:  cfg.MQTTUsername,
			Password:  cfg.MQTTPassword,
			Topic:     cfg.MQTTTopic,
			QoS:       cfg.MQTTQoS,
		}, logger))
	}
	if cfg.ArchiveEnabled {
		up, ok := store.(*remote.MinIOStore)
		if !ok {
			return nil, fmt.Errorf("archive requires the minio remote backend, got %T", store)
		}
		sinks = append(sinks, NewArchiveSink(up, cfg.ArchiveBasePath, cfg.ParquetCompression))
	}

	for _, s := range sinks {
		logger.Info("[mirror] sink enabled", zap.String("sink", s.Name()))
	}
	return NewFanout(logger, DefaultSinkTimeout, sinks...), nil
}
