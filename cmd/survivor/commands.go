package main

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/lucaslui/resilientroute/internal/client"
	"github.com/lucaslui/resilientroute/internal/model"
	"github.com/lucaslui/resilientroute/internal/queue"
	"github.com/lucaslui/resilientroute/internal/seal"
)

func keygenCmd(_ *pflag.FlagSet) action {
	return func(_ context.Context, e *env) error {
		codec, err := seal.GenerateKey(e.cfg.KeyPath)
		if err != nil {
			return err
		}
		fmt.Fprintf(e.out, "key written to %s (recipient %s)\n", e.cfg.KeyPath, codec.Recipient())
		return nil
	}
}

func composeCmd(fs *pflag.FlagSet) action {
	id := fs.String("id", "", "survivor id (required)")
	lat := fs.Float64("lat", 0, "latitude")
	lon := fs.Float64("lon", 0, "longitude")
	text := fs.String("text", "", "message text (required)")
	image := fs.String("image", "", "optional image file to attach")
	audio := fs.String("audio", "", "optional audio file to attach")

	return func(_ context.Context, e *env) error {
		if strings.TrimSpace(*id) == "" || strings.TrimSpace(*text) == "" {
			return errors.New("compose: --id and --text are required")
		}
		codec, err := seal.LoadOrCreateKey(e.cfg.KeyPath)
		if err != nil {
			return err
		}
		r, err := buildReport(codec, *id, *lat, *lon, *text, *image, *audio)
		if err != nil {
			return err
		}
		outbox, err := queue.Open(e.cfg.PendingPath, e.logger)
		if err != nil {
			return err
		}
		if err := outbox.Enqueue(r); err != nil {
			return err
		}
		n, _ := outbox.Len()
		fmt.Fprintf(e.out, "report queued for %s (%d pending)\n", r.SubjectID, n)
		return nil
	}
}

func buildReport(codec *seal.Codec, id string, lat, lon float64, text, imagePath, audioPath string) (model.Report, error) {
	content := model.ReportContent{Text: text}
	var err error
	if content.Image, err = readMedia(imagePath); err != nil {
		return model.Report{}, err
	}
	if content.Audio, err = readMedia(audioPath); err != nil {
		return model.Report{}, err
	}
	sealed, err := codec.SealJSON(content)
	if err != nil {
		return model.Report{}, err
	}
	return model.Report{
		SubjectID:     strings.TrimSpace(id),
		Kind:          model.KindSOS,
		Location:      model.Location{Lat: lat, Lon: lon},
		CreatedAt:     model.Now(),
		SealedContent: sealed,
	}, nil
}

func readMedia(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("attach %s: %w", path, err)
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

func sendCmd(_ *pflag.FlagSet) action {
	return func(ctx context.Context, e *env) error {
		outbox, err := queue.Open(e.cfg.PendingPath, e.logger)
		if err != nil {
			return err
		}
		res, err := e.transfer().SendPending(ctx, outbox)
		if res.Total == 0 && err == nil {
			fmt.Fprintln(e.out, "nothing to send")
			return nil
		}
		fmt.Fprintf(e.out, "sent %d/%d reports\n", res.Sent, res.Total)
		if len(res.Failed) > 0 {
			fmt.Fprintf(e.out, "still pending: %s\n", strings.Join(res.Failed, ", "))
		}
		return err
	}
}

func mailCmd(fs *pflag.FlagSet) action {
	id := fs.String("id", "", "survivor id to fetch orders for (required)")

	return func(ctx context.Context, e *env) error {
		if strings.TrimSpace(*id) == "" {
			return errors.New("mail: --id is required")
		}
		codec, err := seal.LoadKey(e.cfg.KeyPath)
		if err != nil {
			return err
		}
		orders, err := e.transfer().CheckMail(ctx, strings.TrimSpace(*id))
		if err != nil {
			if errors.Is(err, client.ErrNoRelay) {
				e.logger.Info("[mail] no query relay in range")
			}
			return err
		}
		printOrders(e.out, codec, orders, e.logger)
		return nil
	}
}

// printOrders writes one line per order. Orders that cannot be opened are
// reported individually and do not hide the rest.
func printOrders(w io.Writer, codec *seal.Codec, orders []model.Order, logger *zap.Logger) {
	if len(orders) == 0 {
		fmt.Fprintln(w, "no orders")
		return
	}
	for i, o := range orders {
		var msg model.OrderContent
		if err := codec.UnsealJSON(o.SealedContent, &msg); err != nil {
			logger.Warn("[mail] order not decrypted", zap.Int("index", i), zap.Error(err))
			fmt.Fprintf(w, "[%d] could not decrypt order\n", i+1)
			continue
		}
		fmt.Fprintf(w, "[%d] %s %s\n", i+1, msg.CreatedAt.Format("2006-01-02 15:04:05"), msg.Msg)
	}
}
