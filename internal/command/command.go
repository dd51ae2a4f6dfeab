// Package command is the headquarters side of the remote store: it reads the
// reports relays have synced and places sealed orders for relays to pull.
package command

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lucaslui/resilientroute/internal/model"
	"github.com/lucaslui/resilientroute/internal/remote"
	"github.com/lucaslui/resilientroute/internal/seal"
)

// ReportView is a synced report with its content opened when possible.
type ReportView struct {
	Report  model.Report
	Content model.ReportContent
	// OpenErr is set when the sealed content could not be decoded.
	OpenErr error
}

type Desk struct {
	store  remote.Store
	codec  *seal.Codec
	logger *zap.Logger

	ReportCollection string
	OrderCollection  string
}

func NewDesk(store remote.Store, codec *seal.Codec, reports, orders string, logger *zap.Logger) *Desk {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Desk{store: store, codec: codec, logger: logger, ReportCollection: reports, OrderCollection: orders}
}

// Reports returns up to limit synced reports. A collection that does not
// exist yet yields no reports.
func (d *Desk) Reports(ctx context.Context, limit int) ([]ReportView, error) {
	records, err := d.store.Scroll(ctx, d.ReportCollection, limit)
	if errors.Is(err, remote.ErrCollectionNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scroll %s: %w", d.ReportCollection, err)
	}

	views := make([]ReportView, 0, len(records))
	for _, rec := range records {
		var v ReportView
		if err := json.Unmarshal(rec.Payload, &v.Report); err != nil {
			d.logger.Warn("[hq] skipping undecodable report", zap.String("id", rec.ID), zap.Error(err))
			continue
		}
		v.OpenErr = d.codec.UnsealJSON(v.Report.SealedContent, &v.Content)
		views = append(views, v)
	}
	return views, nil
}

// PlaceOrder seals msg for target and stores it in the order collection,
// creating the collection on first use. A write rejected for schema reasons
// recreates the collection and is retried once; healed reports that.
func (d *Desk) PlaceOrder(ctx context.Context, target, msg string) (order model.Order, healed bool, err error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return model.Order{}, false, errors.New("order target is empty")
	}
	now := model.Now()
	sealed, err := d.codec.SealJSON(model.OrderContent{TargetID: target, Msg: msg, CreatedAt: now})
	if err != nil {
		return model.Order{}, false, err
	}
	order = model.Order{TargetID: target, SealedContent: sealed, CreatedAt: now}
	payload, err := json.Marshal(order)
	if err != nil {
		return model.Order{}, false, err
	}
	rec := []remote.Record{{ID: uuid.NewString(), Payload: payload}}
	schema := []byte(model.OrderSchema)

	if _, err := remote.EnsureCollection(ctx, d.store, d.OrderCollection, schema); err != nil {
		return model.Order{}, false, err
	}
	err = d.store.Upsert(ctx, d.OrderCollection, rec)
	if errors.Is(err, remote.ErrSchemaMismatch) || errors.Is(err, remote.ErrCollectionNotFound) {
		d.logger.Warn("[hq] order rejected, recreating collection", zap.String("collection", d.OrderCollection), zap.Error(err))
		if err := remote.Recreate(ctx, d.store, d.OrderCollection, schema); err != nil {
			return model.Order{}, false, err
		}
		healed = true
		err = d.store.Upsert(ctx, d.OrderCollection, rec)
	}
	if err != nil {
		return model.Order{}, healed, fmt.Errorf("store order: %w", err)
	}
	d.logger.Info("[hq] order stored", zap.String("target", target), zap.Bool("healed", healed))
	return order, healed, nil
}
