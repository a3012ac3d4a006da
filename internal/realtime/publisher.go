package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/centrifugal/gocent/v3"
	"github.com/rs/zerolog"

	"github.com/klaytn/dex-indexer-example/internal/entity"
)

// Publisher fans swap and bridge updates out to Centrifugo. Publishing is
// fire-and-forget; a failed publish is logged and never fails the handler
// that produced the event.
type Publisher struct {
	gc     *gocent.Client
	logger zerolog.Logger
}

type Config struct {
	APIURL string
	APIKey string
}

func NewPublisher(config Config, logger zerolog.Logger) *Publisher {
	return &Publisher{
		gc: gocent.New(gocent.Config{
			Addr: config.APIURL,
			Key:  config.APIKey,
		}),
		logger: logger.With().Str("component", "realtime-publisher").Logger(),
	}
}

// PublishSwap pushes a concentrated-liquidity swap to the pool's channel.
func (p *Publisher) PublishSwap(ctx context.Context, pool *entity.Pool, swap *entity.Swap) error {
	payload := map[string]any{
		"type":         "swap",
		"pool":         pool.ID,
		"token0":       pool.Token0ID,
		"token1":       pool.Token1ID,
		"amount0":      swap.Amount0,
		"amount1":      swap.Amount1,
		"amount_usd":   swap.AmountUSD,
		"token0_price": pool.Token0Price,
		"token1_price": pool.Token1Price,
		"tx":           swap.TransactionID,
		"ts":           swap.Timestamp,
	}
	return p.publish(ctx, poolChannel(pool.ID), payload)
}

// PublishV2Swap pushes a constant-product swap to the pool's channel.
func (p *Publisher) PublishV2Swap(ctx context.Context, pool *entity.V2Pool, swap *entity.Swap) error {
	payload := map[string]any{
		"type":          "swap",
		"pool":          pool.ID,
		"symbol":        pool.Symbol,
		"token_a":       pool.TokenAID,
		"token_b":       pool.TokenBID,
		"amount0":       swap.Amount0,
		"amount1":       swap.Amount1,
		"amount_usd":    swap.AmountUSD,
		"token_a_price": pool.TokenAPrice,
		"token_b_price": pool.TokenBPrice,
		"tx":            swap.TransactionID,
		"ts":            swap.Timestamp,
	}
	return p.publish(ctx, poolChannel(pool.ID), payload)
}

// PublishTransfer pushes a bridge transfer status change.
func (p *Publisher) PublishTransfer(ctx context.Context, transfer *entity.BridgeTransfer) error {
	payload := map[string]any{
		"type":              "bridge.transfer",
		"seq":               transfer.Seq,
		"sender":            transfer.Sender,
		"receiver":          transfer.Receiver,
		"status":            string(transfer.Status),
		"deliver_timestamp": transfer.DeliverTimestamp,
		"ts":                transfer.Timestamp,
	}
	return p.publish(ctx, "bridge.transfer", payload)
}

func (p *Publisher) publish(ctx context.Context, channel string, payload map[string]any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload for %s: %w", channel, err)
	}
	if _, err := p.gc.Publish(ctx, channel, data); err != nil {
		return fmt.Errorf("publish to %s: %w", channel, err)
	}
	p.logger.Debug().Str("channel", channel).Msg("published")
	return nil
}

func poolChannel(address string) string {
	return "dex.pool." + strings.ToLower(address)
}
