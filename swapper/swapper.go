package swapper

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/ejector/chain"
	"github.com/michaelpento.lv/ejector/dex"
	"github.com/michaelpento.lv/ejector/types"
	"github.com/michaelpento.lv/ejector/utils/metrics"
)

// DefaultFeeTier is the 0.3% pool tier.
const DefaultFeeTier uint32 = 3000

// SwapRouter swaps tokens for a caller through an exchange router. It pulls the
// input from the caller, pays the output to the caller and keeps nothing.
type SwapRouter struct {
	address common.Address
	router  dex.Router
	host    chain.Transactor
	tokens  chain.Custody
	feeTier uint32
	metrics *metrics.SwapMetrics
	logger  *zap.Logger
}

// Config holds the SwapRouter construction parameters.
type Config struct {
	Address common.Address
	FeeTier uint32
}

// New creates a SwapRouter. A zero fee tier selects DefaultFeeTier.
func New(cfg Config, router dex.Router, host chain.Transactor, tokens chain.Custody, m *metrics.SwapMetrics, logger *zap.Logger) (*SwapRouter, error) {
	if cfg.Address == (common.Address{}) {
		return nil, fmt.Errorf("swap router address cannot be zero")
	}
	if router == nil {
		return nil, fmt.Errorf("router cannot be nil")
	}
	if host == nil {
		return nil, fmt.Errorf("host cannot be nil")
	}
	if tokens == nil {
		return nil, fmt.Errorf("token custody cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if m == nil {
		m = metrics.NewSwapMetrics("swapper", nil)
	}
	fee := cfg.FeeTier
	if fee == 0 {
		fee = DefaultFeeTier
	}
	return &SwapRouter{
		address: cfg.Address,
		router:  router,
		host:    host,
		tokens:  tokens,
		feeTier: fee,
		metrics: m,
		logger:  logger.Named("swapper"),
	}, nil
}

func (s *SwapRouter) Address() common.Address {
	return s.address
}

// Router returns the address of the exchange router swaps go through.
func (s *SwapRouter) Router() common.Address {
	return s.router.Address()
}

func (s *SwapRouter) FeeTier() uint32 {
	return s.feeTier
}

// QuoteExactInput returns the output amountIn would buy right now.
func (s *SwapRouter) QuoteExactInput(ctx context.Context, tokenIn common.Address, amountIn *big.Int, tokenOut common.Address) (*big.Int, error) {
	return s.router.QuoteExactInputSingle(ctx, tokenIn, tokenOut, s.feeTier, amountIn)
}

// QuoteExactOutput returns the input needed to buy amountOut right now.
func (s *SwapRouter) QuoteExactOutput(ctx context.Context, tokenIn, tokenOut common.Address, amountOut *big.Int) (*big.Int, error) {
	return s.router.QuoteExactOutputSingle(ctx, tokenIn, tokenOut, s.feeTier, amountOut)
}

// SwapExactInput sells amountIn of tokenIn for at least minAmountOut of
// tokenOut and returns the amount received.
func (s *SwapRouter) SwapExactInput(ctx context.Context, caller, tokenIn common.Address, amountIn *big.Int, tokenOut common.Address, minAmountOut *big.Int) (*big.Int, error) {
	const op = "swapper.swapExactInput"
	if amountIn == nil || amountIn.Sign() <= 0 {
		return nil, types.NewError(types.ErrInvalidAmount, op).WithAsset(tokenIn).WithActor(caller)
	}

	start := time.Now()
	var amountOut *big.Int
	err := s.host.Transact(ctx, func(ctx context.Context) error {
		if err := s.pull(caller, tokenIn, amountIn); err != nil {
			return err
		}
		if err := s.tokens.Approve(tokenIn, s.address, s.router.Address(), amountIn); err != nil {
			return fmt.Errorf("failed to approve router: %w", err)
		}

		var err error
		amountOut, err = s.router.ExactInputSingle(ctx, s.address, dex.ExactInputSingleParams{
			TokenIn:          tokenIn,
			TokenOut:         tokenOut,
			Fee:              s.feeTier,
			Recipient:        caller,
			AmountIn:         amountIn,
			AmountOutMinimum: minAmountOut,
		})
		if err != nil {
			return s.wrapRouterError(op, err)
		}
		if minAmountOut != nil && amountOut.Cmp(minAmountOut) < 0 {
			return types.NewError(types.ErrSlippageExceeded, op).
				WithAsset(tokenOut).WithAmount(amountOut).WithActor(caller)
		}
		return nil
	})
	s.observe("exact_input", start, err)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("Exact input swap",
		zap.String("caller", caller.Hex()),
		zap.String("tokenIn", tokenIn.Hex()),
		zap.String("tokenOut", tokenOut.Hex()),
		zap.String("amountIn", amountIn.String()),
		zap.String("amountOut", amountOut.String()))
	return amountOut, nil
}

// SwapExactOutput buys exactly amountOut of tokenOut spending at most
// maxAmountIn of tokenIn. The caller gets back whatever input was not spent.
// It returns the input actually spent.
func (s *SwapRouter) SwapExactOutput(ctx context.Context, caller, tokenIn common.Address, maxAmountIn *big.Int, tokenOut common.Address, amountOut *big.Int) (*big.Int, error) {
	const op = "swapper.swapExactOutput"
	if maxAmountIn == nil || maxAmountIn.Sign() <= 0 {
		return nil, types.NewError(types.ErrInvalidAmount, op).WithAsset(tokenIn).WithActor(caller)
	}
	if amountOut == nil || amountOut.Sign() <= 0 {
		return nil, types.NewError(types.ErrInvalidAmount, op).WithAsset(tokenOut).WithActor(caller)
	}

	start := time.Now()
	var amountIn *big.Int
	var refund *big.Int
	err := s.host.Transact(ctx, func(ctx context.Context) error {
		if err := s.pull(caller, tokenIn, maxAmountIn); err != nil {
			return err
		}
		if err := s.tokens.Approve(tokenIn, s.address, s.router.Address(), maxAmountIn); err != nil {
			return fmt.Errorf("failed to approve router: %w", err)
		}

		var err error
		amountIn, err = s.router.ExactOutputSingle(ctx, s.address, dex.ExactOutputSingleParams{
			TokenIn:         tokenIn,
			TokenOut:        tokenOut,
			Fee:             s.feeTier,
			Recipient:       caller,
			AmountOut:       amountOut,
			AmountInMaximum: maxAmountIn,
		})
		if err != nil {
			return s.wrapRouterError(op, err)
		}
		if amountIn.Cmp(maxAmountIn) > 0 {
			return types.NewError(types.ErrSlippageExceeded, op).
				WithAsset(tokenIn).WithAmount(amountIn).WithActor(caller)
		}

		refund = new(big.Int).Sub(maxAmountIn, amountIn)
		if refund.Sign() > 0 {
			if err := s.tokens.Approve(tokenIn, s.address, s.router.Address(), new(big.Int)); err != nil {
				return fmt.Errorf("failed to reset router allowance: %w", err)
			}
			if err := s.tokens.Transfer(tokenIn, s.address, caller, refund); err != nil {
				return fmt.Errorf("failed to refund unused input: %w", err)
			}
		}
		return nil
	})
	s.observe("exact_output", start, err)
	if err != nil {
		return nil, err
	}
	if refund.Sign() > 0 {
		s.metrics.Refunds.Inc()
	}

	s.logger.Debug("Exact output swap",
		zap.String("caller", caller.Hex()),
		zap.String("tokenIn", tokenIn.Hex()),
		zap.String("tokenOut", tokenOut.Hex()),
		zap.String("amountIn", amountIn.String()),
		zap.String("refund", refund.String()))
	return amountIn, nil
}

// pull moves amount of token from caller into the router's custody.
func (s *SwapRouter) pull(caller, token common.Address, amount *big.Int) error {
	return s.tokens.TransferFrom(token, s.address, caller, s.address, amount)
}

// wrapRouterError keeps typed errors from the exchange as they are and tags
// anything else with the swap operation.
func (s *SwapRouter) wrapRouterError(op string, err error) error {
	if types.KindOf(err) != nil {
		return err
	}
	return fmt.Errorf("%s: router swap failed: %w", op, err)
}

func (s *SwapRouter) observe(kind string, start time.Time, err error) {
	s.metrics.Duration.Observe(time.Since(start).Seconds())
	outcome := "success"
	if err != nil {
		outcome = types.KindLabel(err)
	}
	s.metrics.Swaps.WithLabelValues(kind, outcome).Inc()
}
