package mirror

import (
	"context"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/lucaslui/resilientroute/internal/model"
)

// InfluxSink writes one point per report so the command side can map them.
type InfluxSink struct {
	client      influxdb2.Client
	writeAPI    api.WriteAPIBlocking
	measurement string
}

func NewInfluxSink(url, token, org, bucket, measurement string) *InfluxSink {
	client := influxdb2.NewClient(url, token)
	return &InfluxSink{
		client:      client,
		writeAPI:    client.WriteAPIBlocking(org, bucket),
		measurement: measurement,
	}
}

func (s *InfluxSink) Name() string { return "influx:" + s.measurement }

func (s *InfluxSink) Write(ctx context.Context, reports []model.Report) error {
	points := make([]*write.Point, 0, len(reports))
	now := time.Now().UTC()
	for _, r := range reports {
		points = append(points, buildPoint(s.measurement, r, now))
	}
	return s.writeAPI.WritePoint(ctx, points...)
}

func (s *InfluxSink) Close() error {
	s.client.Close()
	return nil
}

func buildPoint(measurement string, r model.Report, now time.Time) *write.Point {
	ts := r.CreatedAt.Time
	if ts.IsZero() {
		ts = now
	}
	tags := map[string]string{
		"subjectId": r.SubjectID,
		"kind":      r.Kind,
	}
	fields := map[string]interface{}{
		"lat":          r.Location.Lat,
		"lon":          r.Location.Lon,
		"sealed_bytes": int64(len(r.SealedContent)),
		"synced_at":    now.Format(time.RFC3339Nano),
	}
	return write.NewPoint(measurement, tags, fields, ts)
}
