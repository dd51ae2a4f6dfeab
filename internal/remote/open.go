package remote

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lucaslui/resilientroute/internal/config"
)

const callTimeout = 5 * time.Second

// Open builds the backend selected by rc without touching the network; a relay
// starts offline and only reaches the store once the sync probe succeeds. A
// returned store that implements io.Closer must be closed by the caller.
func Open(rc config.RemoteConfig, logger *zap.Logger) (Store, error) {
	switch rc.Backend {
	case config.BackendMemory, "":
		logger.Warn("[remote] using in-memory store; synced data is lost on exit")
		return NewMemoryStore(), nil

	case config.BackendMinIO:
		s, err := NewMinIOStore(rc.S3Endpoint, rc.S3AccessKey, rc.S3SecretKey, rc.S3UseTLS, rc.S3Bucket)
		if err != nil {
			return nil, fmt.Errorf("minio client: %w", err)
		}
		logger.Info("[remote] minio backend", zap.String("endpoint", rc.S3Endpoint), zap.String("bucket", rc.S3Bucket))
		return s, nil

	case config.BackendRedis:
		s := NewRedisStore(RedisOpts{
			Addr:      rc.RedisAddr,
			Password:  rc.RedisPassword,
			DB:        rc.RedisDB,
			Namespace: rc.RedisNamespace,
			Timeout:   callTimeout,
		})
		logger.Info("[remote] redis backend", zap.String("addr", rc.RedisAddr), zap.String("namespace", rc.RedisNamespace))
		return s, nil
	}
	return nil, fmt.Errorf("unknown remote backend %q", rc.Backend)
}
