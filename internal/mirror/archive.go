package mirror

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/lucaslui/resilientroute/internal/model"
	"github.com/lucaslui/resilientroute/internal/remote"
)

// Uploader stores one object; *remote.MinIOStore satisfies it.
type Uploader interface {
	Upload(ctx context.Context, objectName string, r io.Reader, size int64, contentType string) error
}

type ArchiveRecord struct {
	SubjectID     string  `parquet:"name=subject_id, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	Kind          string  `parquet:"name=kind, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	Lat           float64 `parquet:"name=lat, type=DOUBLE"`
	Lon           float64 `parquet:"name=lon, type=DOUBLE"`
	CreatedAt     int64   `parquet:"name=created_at, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
	SyncedAt      int64   `parquet:"name=synced_at, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
	SealedContent string  `parquet:"name=sealed_content, type=BYTE_ARRAY, convertedtype=UTF8"`
}

func ToArchiveRecord(r model.Report, syncedAt time.Time) ArchiveRecord {
	rec := ArchiveRecord{
		SubjectID:     r.SubjectID,
		Kind:          r.Kind,
		Lat:           r.Location.Lat,
		Lon:           r.Location.Lon,
		SyncedAt:      toMillis(syncedAt),
		SealedContent: r.SealedContent,
	}
	if !r.CreatedAt.IsZero() {
		rec.CreatedAt = toMillis(r.CreatedAt.Time)
	}
	return rec
}

// ArchiveSink writes every drained batch as one Parquet object, partitioned
// by day under BasePath.
type ArchiveSink struct {
	up          Uploader
	basePath    string
	compression string
	tmpDir      string
}

func NewArchiveSink(up Uploader, basePath, compression string) *ArchiveSink {
	return &ArchiveSink{up: up, basePath: basePath, compression: compression, tmpDir: os.TempDir()}
}

func (a *ArchiveSink) Name() string { return "archive:" + a.basePath }

func (a *ArchiveSink) Close() error { return nil }

func (a *ArchiveSink) Write(ctx context.Context, reports []model.Report) error {
	ts := time.Now().UTC()
	fn := fmt.Sprintf("part-%s-%s.parquet", ts.Format("2006-01-02T15-04-05Z"), uuid.NewString())
	tmp := filepath.Join(a.tmpDir, fn)
	defer os.Remove(tmp)

	pw, closeFn, err := newLocalParquetWriter[ArchiveRecord](tmp, 4, a.compression)
	if err != nil {
		return err
	}
	for _, r := range reports {
		if err := pw.Write(ToArchiveRecord(r, ts)); err != nil {
			_ = closeFn()
			return err
		}
	}
	if err := closeFn(); err != nil {
		return err
	}

	f, err := os.Open(tmp)
	if err != nil {
		return err
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return err
	}
	return a.up.Upload(ctx, remote.BuildObjectPath(a.basePath, ts, fn), f, fi.Size(), "application/octet-stream")
}

type closeFunc func() error

// newLocalParquetWriter returns a typed writer over a local file and the
// function that finishes the file. The file itself is left in place.
func newLocalParquetWriter[T any](path string, parallel int64, compression string) (*writer.ParquetWriter, closeFunc, error) {
	fw, err := local.NewLocalFileWriter(path)
	if err != nil {
		return nil, nil, err
	}
	pw, err := writer.NewParquetWriter(fw, new(T), parallel)
	if err != nil {
		_ = fw.Close()
		return nil, nil, err
	}
	switch compression {
	case "ZSTD":
		pw.CompressionType = parquet.CompressionCodec_ZSTD
	case "GZIP":
		pw.CompressionType = parquet.CompressionCodec_GZIP
	default:
		pw.CompressionType = parquet.CompressionCodec_SNAPPY
	}
	closeFn := func() error {
		if err := pw.WriteStop(); err != nil {
			_ = fw.Close()
			return err
		}
		return fw.Close()
	}
	return pw, closeFn, nil
}

func toMillis(t time.Time) int64 { return t.UTC().UnixNano() / 1e6 }
