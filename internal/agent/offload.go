package agent

import (
	"context"
	"errors"
	"time"

	"github.com/paavoai/paavo/internal/homeassistant"
	"github.com/paavoai/paavo/internal/llm"
	"github.com/paavoai/paavo/internal/metrics"
	"github.com/paavoai/paavo/internal/music"
	"github.com/paavoai/paavo/internal/workpool"
)

// pooledGenerator runs every model call on the worker pool and counts it.
type pooledGenerator struct {
	next    llm.Generator
	pool    *workpool.Pool
	metrics *metrics.Metrics
}

func (g *pooledGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	start := time.Now()
	out, err := workpool.Run(ctx, g.pool, func(ctx context.Context) (string, error) {
		g.metrics.RecordPoolWait(ctx, time.Since(start))
		return g.next.Generate(ctx, prompt)
	})
	if err != nil && !llm.IsGatewayError(err) {
		// Cancelled while queued or waiting; the model was never heard from.
		err = &llm.GatewayError{Kind: llm.KindUnreachable, Err: err}
	}
	g.metrics.RecordGateway(ctx, gatewayStatus(err), time.Since(start))
	return out, err
}

func gatewayStatus(err error) string {
	if err == nil {
		return "ok"
	}
	var ge *llm.GatewayError
	if errors.As(err, &ge) {
		return ge.Kind.String()
	}
	return "error"
}

// pooledController runs every device call on the worker pool and counts it.
type pooledController struct {
	next    music.Controller
	pool    *workpool.Pool
	metrics *metrics.Metrics
}

func (c *pooledController) CallService(ctx context.Context, domain, service string, data map[string]any) error {
	err := c.pool.Do(ctx, func(ctx context.Context) error {
		return c.next.CallService(ctx, domain, service, data)
	})
	c.metrics.RecordDevice(ctx, domain+"."+service, err == nil)
	return err
}

func (c *pooledController) GetState(ctx context.Context, entityID string) (*homeassistant.State, error) {
	st, err := workpool.Run(ctx, c.pool, func(ctx context.Context) (*homeassistant.State, error) {
		return c.next.GetState(ctx, entityID)
	})
	c.metrics.RecordDevice(ctx, "state", err == nil)
	return st, err
}
