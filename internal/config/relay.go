package config

import (
	"fmt"
	"time"

	"go.uber.org/zap"
)

// RelayConfig drives the mule process.
type RelayConfig struct {
	LogLevel  string
	LogFormat string

	// Discovery
	DiscoveryPort  int
	BroadcastAddr  string
	BeaconInterval time.Duration
	AdvertiseIP    string

	// Servidores TCP
	IngestPort        int
	QueryPort         int
	IngestIdleTimeout time.Duration
	QueryTimeout      time.Duration
	MaxFrameBytes     int64
	MaxConns          int

	// Armazenamento local
	QueuePath string
	InboxPath string

	// Sync
	SyncInterval  time.Duration
	ProbeAddr     string
	ProbeTimeout  time.Duration
	DrainAttempts int
	DrainBackoff  time.Duration
	PullLimit     int

	Remote RemoteConfig

	// Mirrors (opcionais; vazio desliga)
	KafkaBrokers           []string
	KafkaTopic             string
	KafkaTopicPartitions   int
	KafkaReplicationFactor int

	InfluxURL         string
	InfluxToken       string
	InfluxOrg         string
	InfluxBucket      string
	InfluxMeasurement string

	MQTTBrokerURL string
	MQTTClientID  string
	MQTTUsername  string
	MQTTPassword  string
	MQTTTopic     string
	MQTTQoS       byte

	ArchiveEnabled     bool
	ArchiveBasePath    string
	ParquetCompression string
}

func relayDefaults() map[string]any {
	d := map[string]any{
		"log_level":  "info",
		"log_format": "json",

		"discovery_port":  5005,
		"broadcast_addr":  "255.255.255.255",
		"beacon_interval": "2s",

		"ingest_port":         6008,
		"query_port":          6009,
		"ingest_idle_timeout": "10s",
		"query_timeout":       "10s",
		"max_frame_bytes":     16 << 20,
		"max_conns":           64,

		"queue_path": "mule_storage.jsonl",
		"inbox_path": "mule_inbox.msgpack",

		"sync_interval":  "5s",
		"probe_addr":     "8.8.8.8:53",
		"probe_timeout":  "3s",
		"drain_attempts": 5,
		"drain_backoff":  "2s",
		"pull_limit":     100,

		"kafka_topic":              "sos-reports",
		"kafka_topic_partitions":   1,
		"kafka_replication_factor": 1,
		"influx_measurement":       "sos",
		"mqtt_client_id":           "resilientroute-mule",
		"mqtt_topic":               "resilientroute/reports",
		"mqtt_qos":                 1,
		"archive_enabled":          false,
		"archive_base_path":        "archive/reports",
		"parquet_compression":      "SNAPPY",
	}
	remoteDefaults(d)
	return d
}

// LoadRelayConfig reads the relay configuration from defaults, the optional
// file at path and the environment. Every problem found is logged before the
// aggregated error is returned.
func LoadRelayConfig(path string, logger *zap.Logger) (*RelayConfig, error) {
	v, err := newViper(path, relayDefaults())
	if err != nil {
		return nil, err
	}
	var errs errList

	cfg := &RelayConfig{
		LogLevel:  v.GetString("log_level"),
		LogFormat: v.GetString("log_format"),

		DiscoveryPort:  v.GetInt("discovery_port"),
		BroadcastAddr:  getRequired(v, "broadcast_addr", &errs),
		BeaconInterval: v.GetDuration("beacon_interval"),
		AdvertiseIP:    v.GetString("advertise_ip"),

		IngestPort:        v.GetInt("ingest_port"),
		QueryPort:         v.GetInt("query_port"),
		IngestIdleTimeout: v.GetDuration("ingest_idle_timeout"),
		QueryTimeout:      v.GetDuration("query_timeout"),
		MaxFrameBytes:     v.GetInt64("max_frame_bytes"),
		MaxConns:          v.GetInt("max_conns"),

		QueuePath: getRequired(v, "queue_path", &errs),
		InboxPath: getRequired(v, "inbox_path", &errs),

		SyncInterval:  v.GetDuration("sync_interval"),
		ProbeAddr:     getRequired(v, "probe_addr", &errs),
		ProbeTimeout:  v.GetDuration("probe_timeout"),
		DrainAttempts: v.GetInt("drain_attempts"),
		DrainBackoff:  v.GetDuration("drain_backoff"),
		PullLimit:     v.GetInt("pull_limit"),

		Remote: loadRemote(v, &errs),

		KafkaBrokers:           parseList(v.GetString("kafka_brokers")),
		KafkaTopic:             v.GetString("kafka_topic"),
		KafkaTopicPartitions:   v.GetInt("kafka_topic_partitions"),
		KafkaReplicationFactor: v.GetInt("kafka_replication_factor"),

		InfluxURL:         v.GetString("influx_url"),
		InfluxToken:       v.GetString("influx_token"),
		InfluxOrg:         v.GetString("influx_org"),
		InfluxBucket:      v.GetString("influx_bucket"),
		InfluxMeasurement: v.GetString("influx_measurement"),

		MQTTBrokerURL: v.GetString("mqtt_broker_url"),
		MQTTClientID:  v.GetString("mqtt_client_id"),
		MQTTUsername:  v.GetString("mqtt_username"),
		MQTTPassword:  v.GetString("mqtt_password"),
		MQTTTopic:     v.GetString("mqtt_topic"),
		MQTTQoS:       clampQoS(v.GetInt("mqtt_qos")),

		ArchiveEnabled:     v.GetBool("archive_enabled"),
		ArchiveBasePath:    v.GetString("archive_base_path"),
		ParquetCompression: v.GetString("parquet_compression"),
	}

	ensurePort("discovery_port", cfg.DiscoveryPort, &errs)
	ensurePort("ingest_port", cfg.IngestPort, &errs)
	ensurePort("query_port", cfg.QueryPort, &errs)
	if cfg.IngestPort == cfg.QueryPort {
		errs.add("INGEST_PORT e QUERY_PORT devem ser diferentes")
	}
	ensurePositive("beacon_interval", int64(cfg.BeaconInterval), &errs)
	ensurePositive("ingest_idle_timeout", int64(cfg.IngestIdleTimeout), &errs)
	ensurePositive("query_timeout", int64(cfg.QueryTimeout), &errs)
	ensurePositive("max_frame_bytes", cfg.MaxFrameBytes, &errs)
	ensurePositive("max_conns", int64(cfg.MaxConns), &errs)
	ensurePositive("sync_interval", int64(cfg.SyncInterval), &errs)
	ensurePositive("probe_timeout", int64(cfg.ProbeTimeout), &errs)
	ensurePositive("drain_attempts", int64(cfg.DrainAttempts), &errs)
	ensurePositive("pull_limit", int64(cfg.PullLimit), &errs)
	if cfg.DrainBackoff < 0 {
		errs.add("DRAIN_BACKOFF deve ser >= 0")
	}

	if len(cfg.KafkaBrokers) > 0 {
		if cfg.KafkaTopic == "" {
			errs.add("KAFKA_TOPIC não pode ser vazio quando KAFKA_BROKERS está definido")
		}
		ensurePositive("kafka_topic_partitions", int64(cfg.KafkaTopicPartitions), &errs)
		if cfg.KafkaReplicationFactor <= 0 || cfg.KafkaReplicationFactor > len(cfg.KafkaBrokers) {
			errs.add("KAFKA_REPLICATION_FACTOR deve estar entre 1 e o número de brokers em KAFKA_BROKERS")
		}
	}
	if cfg.InfluxURL != "" {
		getRequired(v, "influx_org", &errs)
		getRequired(v, "influx_bucket", &errs)
		getRequired(v, "influx_measurement", &errs)
	}
	if cfg.MQTTBrokerURL != "" {
		getRequired(v, "mqtt_client_id", &errs)
		getRequired(v, "mqtt_topic", &errs)
	}
	if cfg.ArchiveEnabled {
		if cfg.Remote.Backend != BackendMinIO {
			errs.add("ARCHIVE_ENABLED requer REMOTE_BACKEND=minio")
		}
		ensureOneOf("parquet_compression", cfg.ParquetCompression, []string{"SNAPPY", "ZSTD", "GZIP"}, &errs)
	}

	if errs.has() {
		for _, e := range errs {
			logger.Error("[config] " + e)
		}
		return nil, joinErrs(errs)
	}
	return cfg, nil
}

func (c *RelayConfig) String() string {
	return fmt.Sprintf(`
Discovery:
  Port:              %d
  BroadcastAddr:     %s
  BeaconInterval:    %s
  AdvertiseIP:       %s

Servers:
  IngestPort:        %d
  QueryPort:         %d
  IngestIdle:        %s
  QueryTimeout:      %s
  MaxFrameBytes:     %d
  MaxConns:          %d

Storage:
  Queue:             %s
  Inbox:             %s

Sync:
  Interval:          %s
  ProbeAddr:         %s
  ProbeTimeout:      %s
  DrainAttempts:     %d
  DrainBackoff:      %s
  PullLimit:         %d
%s
Mirrors:
  KafkaBrokers:      %v
  KafkaTopic:        %s
  InfluxURL:         %s
  InfluxToken:       %s
  InfluxBucket:      %s
  MQTTBrokerURL:     %s
  MQTTTopic:         %s
  MQTTPassword:      %s
  Archive:           %t (%s, %s)
`,
		c.DiscoveryPort, c.BroadcastAddr, c.BeaconInterval, c.AdvertiseIP,
		c.IngestPort, c.QueryPort, c.IngestIdleTimeout, c.QueryTimeout, c.MaxFrameBytes, c.MaxConns,
		c.QueuePath, c.InboxPath,
		c.SyncInterval, c.ProbeAddr, c.ProbeTimeout, c.DrainAttempts, c.DrainBackoff, c.PullLimit,
		c.Remote.String(),
		c.KafkaBrokers, c.KafkaTopic, c.InfluxURL, mask(c.InfluxToken), c.InfluxBucket,
		c.MQTTBrokerURL, c.MQTTTopic, mask(c.MQTTPassword),
		c.ArchiveEnabled, c.ArchiveBasePath, c.ParquetCompression)
}
