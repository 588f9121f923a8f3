// Package features builds the bucketed feature vector the entry filters
// evaluate. Values are derived from the recent tick window and the source
// wallet's trade history, bucketed by minute offset before the candidate's
// timestamp. A bucket with no data contributes no keys; the filter engine
// treats missing keys as nulls and applies each rule's include_null policy.
package features

import (
	"context"
	"fmt"

	"copytrade-engine/internal/domain"
	"copytrade-engine/internal/storage"
)

// Feature sections.
const (
	SectionMarket = "market"
	SectionSource = "source"
)

// Market fields, one value per minute bucket.
const (
	FieldPrice     = "price"      // last price observed in the bucket
	FieldChangePct = "change_pct" // fractional change across the bucket
	FieldTickCount = "tick_count"
)

// Source fields, one value per minute bucket.
const (
	FieldTradeCount = "trade_count"
	FieldBuyCount   = "buy_count"
	FieldVolume     = "volume"    // quote units, buys and sells
	FieldIsBuying   = "is_buying" // boolean: bucket's buys outnumber sells
)

const bucketMs = 60_000

// Provider computes feature vectors from the hot tick window and the trade
// event history.
type Provider struct {
	prices storage.PricePointStore
	trades storage.TradeEventStore
}

// NewProvider creates a feature provider over the given stores.
func NewProvider(prices storage.PricePointStore, trades storage.TradeEventStore) *Provider {
	return &Provider{prices: prices, trades: trades}
}

// Features builds the vector for a candidate observed on instrument from
// wallet at atMs. Minute offset m covers (atMs-(m+1)*60s, atMs-m*60s].
func (p *Provider) Features(ctx context.Context, instrument, wallet string, atMs int64) (domain.FeatureVector, error) {
	span := int64(domain.MaxMinuteOffset+1) * bucketMs

	points, err := p.prices.GetByTimeRange(ctx, instrument, atMs-span+1, atMs)
	if err != nil {
		return nil, fmt.Errorf("feature price window for %s: %w", instrument, err)
	}

	events, err := p.trades.GetByTimeRange(ctx, atMs-span+1, atMs)
	if err != nil {
		return nil, fmt.Errorf("feature trade window: %w", err)
	}

	vector := make(domain.FeatureVector)
	marketBuckets(vector, points, atMs)
	sourceBuckets(vector, events, wallet, atMs)
	return vector, nil
}

// bucketOf maps a timestamp to its minute offset before atMs, or -1 when the
// timestamp falls outside the tracked span.
func bucketOf(tsMs, atMs int64) int {
	if tsMs > atMs {
		return -1
	}
	m := (atMs - tsMs) / bucketMs
	if m > domain.MaxMinuteOffset {
		return -1
	}
	return int(m)
}

func marketBuckets(vector domain.FeatureVector, points []*domain.PricePoint, atMs int64) {
	type agg struct {
		first, last float64
		count       float64
	}
	buckets := make(map[int]*agg)

	// Points arrive ordered by timestamp ASC.
	for _, pt := range points {
		m := bucketOf(pt.TimestampMs, atMs)
		if m < 0 {
			continue
		}
		b := buckets[m]
		if b == nil {
			b = &agg{first: pt.Price}
			buckets[m] = b
		}
		b.last = pt.Price
		b.count++
	}

	for m, b := range buckets {
		vector[domain.FeatureKey{Section: SectionMarket, MinuteOffset: m, FieldName: FieldPrice}] = b.last
		vector[domain.FeatureKey{Section: SectionMarket, MinuteOffset: m, FieldName: FieldTickCount}] = b.count
		if b.first != 0 {
			vector[domain.FeatureKey{Section: SectionMarket, MinuteOffset: m, FieldName: FieldChangePct}] =
				(b.last - b.first) / b.first
		}
	}
}

func sourceBuckets(vector domain.FeatureVector, events []*domain.TradeEvent, wallet string, atMs int64) {
	type agg struct {
		trades, buys, volume float64
	}
	buckets := make(map[int]*agg)

	for _, e := range events {
		if e.Wallet != wallet {
			continue
		}
		m := bucketOf(e.TimestampMs, atMs)
		if m < 0 {
			continue
		}
		b := buckets[m]
		if b == nil {
			b = &agg{}
			buckets[m] = b
		}
		b.trades++
		if e.Direction == domain.DirectionBuy {
			b.buys++
		}
		b.volume += e.Amount
	}

	for m, b := range buckets {
		vector[domain.FeatureKey{Section: SectionSource, MinuteOffset: m, FieldName: FieldTradeCount}] = b.trades
		vector[domain.FeatureKey{Section: SectionSource, MinuteOffset: m, FieldName: FieldBuyCount}] = b.buys
		vector[domain.FeatureKey{Section: SectionSource, MinuteOffset: m, FieldName: FieldVolume}] = b.volume
		buying := 0.0
		if b.buys*2 > b.trades {
			buying = 1.0
		}
		vector[domain.FeatureKey{Section: SectionSource, MinuteOffset: m, FieldName: FieldIsBuying}] = buying
	}
}
