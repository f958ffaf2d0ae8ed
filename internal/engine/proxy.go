package engine

import (
	"context"

	"tradehook/pkg/exchanges/common"
)

// ClientProxy is a common.Client bound to whichever session is currently
// active. It lets the executor and sizer be wired once at startup even
// though credentials arrive later.
type ClientProxy struct {
	engine *Engine
}

func (e *Engine) Client() *ClientProxy {
	return &ClientProxy{engine: e}
}

func (p *ClientProxy) GetPositions(ctx context.Context, symbol string) ([]common.Position, error) {
	c, err := p.engine.ActiveClient()
	if err != nil {
		return nil, err
	}
	return c.GetPositions(ctx, symbol)
}

func (p *ClientProxy) PlaceMarketOrder(ctx context.Context, symbol string, side common.Side, qty float64) (common.OrderResult, error) {
	c, err := p.engine.ActiveClient()
	if err != nil {
		return common.OrderResult{}, err
	}
	return c.PlaceMarketOrder(ctx, symbol, side, qty)
}

func (p *ClientProxy) GetSymbolPrecision(ctx context.Context, symbol string) (int, error) {
	c, err := p.engine.ActiveClient()
	if err != nil {
		return 0, err
	}
	return c.GetSymbolPrecision(ctx, symbol)
}

func (p *ClientProxy) GetPrice(ctx context.Context, symbol string) (float64, error) {
	c, err := p.engine.ActiveClient()
	if err != nil {
		return 0, err
	}
	return c.GetPrice(ctx, symbol)
}

func (p *ClientProxy) GetAccountInfo(ctx context.Context) (common.AccountInfo, error) {
	c, err := p.engine.ActiveClient()
	if err != nil {
		return common.AccountInfo{}, err
	}
	return c.GetAccountInfo(ctx)
}

// OpenPositionCount satisfies the limit guard's live position check.
func (p *ClientProxy) OpenPositionCount(ctx context.Context) (int, error) {
	positions, err := p.GetPositions(ctx, "")
	if err != nil {
		return 0, err
	}
	return len(positions), nil
}
