package config

import (
	"fmt"

	"github.com/spf13/viper"
)

const (
	BackendMemory = "memory"
	BackendMinIO  = "minio"
	BackendRedis  = "redis"
)

// RemoteConfig selects and parameterizes the Remote Store backend. It is
// shared by the relay and the command-side tool.
type RemoteConfig struct {
	Backend          string
	ReportCollection string
	OrderCollection  string

	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
	S3UseTLS    bool
	S3Bucket    string

	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	RedisNamespace string
}

func remoteDefaults(d map[string]any) {
	d["remote_backend"] = BackendMemory
	d["report_collection"] = "disaster_reports"
	d["order_collection"] = "courier_bag"
	d["s3_use_tls"] = false
	d["s3_bucket"] = "resilientroute"
	d["redis_addr"] = "localhost:6379"
	d["redis_db"] = 0
	d["redis_namespace"] = "resilientroute"
}

func loadRemote(v *viper.Viper, errs *errList) RemoteConfig {
	rc := RemoteConfig{
		Backend:          v.GetString("remote_backend"),
		ReportCollection: getRequired(v, "report_collection", errs),
		OrderCollection:  getRequired(v, "order_collection", errs),

		S3Endpoint:  v.GetString("s3_endpoint"),
		S3AccessKey: v.GetString("s3_access_key"),
		S3SecretKey: v.GetString("s3_secret_key"),
		S3UseTLS:    v.GetBool("s3_use_tls"),
		S3Bucket:    v.GetString("s3_bucket"),

		RedisAddr:      v.GetString("redis_addr"),
		RedisPassword:  v.GetString("redis_password"),
		RedisDB:        v.GetInt("redis_db"),
		RedisNamespace: v.GetString("redis_namespace"),
	}

	ensureOneOf("remote_backend", rc.Backend, []string{BackendMemory, BackendMinIO, BackendRedis}, errs)
	if rc.ReportCollection != "" && rc.ReportCollection == rc.OrderCollection {
		errs.add("REPORT_COLLECTION e ORDER_COLLECTION devem ser diferentes")
	}

	switch rc.Backend {
	case BackendMinIO:
		getRequired(v, "s3_endpoint", errs)
		getRequired(v, "s3_access_key", errs)
		getRequired(v, "s3_secret_key", errs)
		getRequired(v, "s3_bucket", errs)
	case BackendRedis:
		getRequired(v, "redis_addr", errs)
		if rc.RedisDB < 0 {
			errs.add("REDIS_DB deve ser >= 0")
		}
	}
	return rc
}

func (r RemoteConfig) String() string {
	return fmt.Sprintf(`
Remote:
  Backend:           %s
  ReportCollection:  %s
  OrderCollection:   %s
  S3Endpoint:        %s
  S3AccessKey:       %s
  S3SecretKey:       %s
  S3UseTLS:          %t
  S3Bucket:          %s
  RedisAddr:         %s
  RedisPassword:     %s
  RedisDB:           %d
  RedisNamespace:    %s
`,
		r.Backend, r.ReportCollection, r.OrderCollection,
		r.S3Endpoint, r.S3AccessKey, mask(r.S3SecretKey), r.S3UseTLS, r.S3Bucket,
		r.RedisAddr, mask(r.RedisPassword), r.RedisDB, r.RedisNamespace)
}
