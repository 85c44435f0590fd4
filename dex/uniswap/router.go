package uniswap

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/ejector/chain"
	"github.com/michaelpento.lv/ejector/dex"
	"github.com/michaelpento.lv/ejector/types"
)

// Contract addresses
var (
	MainnetRouter  = common.HexToAddress("0xE592427A0AEce92De3Edee1F18E0157C05861564")
	MainnetFactory = common.HexToAddress("0x1F98431c8aD98523631AE4a59f267346ea31F984")

	poolInitCodeHash = common.FromHex("0xe34f199b19b2b4f47f68442619d555527d244f78a3297ea89325f843f87b8b54")
)

var errPoolNotFound = errors.New("uniswap: pool not found")

// Router is an in-memory single-hop swap router over constant-product pools.
type Router struct {
	address common.Address
	factory common.Address
	host    *chain.Host
	ledger  *chain.Ledger
	logger  *zap.Logger

	mu    sync.RWMutex
	pools map[common.Address]*Pool
}

var _ dex.Router = (*Router)(nil)

// NewRouter creates a router deployed at address whose pools are derived from
// factory.
func NewRouter(address, factory common.Address, host *chain.Host, ledger *chain.Ledger, logger *zap.Logger) (*Router, error) {
	if host == nil {
		return nil, fmt.Errorf("host cannot be nil")
	}
	if ledger == nil {
		return nil, fmt.Errorf("ledger cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	return &Router{
		address: address,
		factory: factory,
		host:    host,
		ledger:  ledger,
		logger:  logger.Named("uniswap"),
		pools:   make(map[common.Address]*Pool),
	}, nil
}

func (r *Router) Address() common.Address {
	return r.address
}

// CreatePool registers the pool for a pair and fee tier.
func (r *Router) CreatePool(tokenA, tokenB common.Address, fee uint32) (*Pool, error) {
	if tokenA == tokenB {
		return nil, errIdenticalTokens
	}
	if fee == 0 || fee >= FeeDenominator {
		return nil, fmt.Errorf("%w: %d", errInvalidFee, fee)
	}

	token0, token1 := sortTokens(tokenA, tokenB)
	addr := r.poolFor(token0, token1, fee)

	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.pools[addr]; ok {
		return p, nil
	}
	p := &Pool{Address: addr, Token0: token0, Token1: token1, Fee: fee}
	r.pools[addr] = p
	return p, nil
}

// AddLiquidity moves provider's tokens into the pool.
func (r *Router) AddLiquidity(ctx context.Context, provider, tokenA, tokenB common.Address, fee uint32, amountA, amountB *big.Int) error {
	p, err := r.pool(tokenA, tokenB, fee)
	if err != nil {
		return err
	}
	return r.host.Transact(ctx, func(ctx context.Context) error {
		if err := r.ledger.TransferFrom(tokenA, r.address, provider, p.Address, amountA); err != nil {
			return fmt.Errorf("failed to add liquidity: %w", err)
		}
		if err := r.ledger.TransferFrom(tokenB, r.address, provider, p.Address, amountB); err != nil {
			return fmt.Errorf("failed to add liquidity: %w", err)
		}
		return nil
	})
}

// GetReserves returns the reserves of a pool ordered as Token0, Token1.
func (r *Router) GetReserves(_ context.Context, tokenA, tokenB common.Address, fee uint32) (*dex.Reserves, error) {
	p, err := r.pool(tokenA, tokenB, fee)
	if err != nil {
		return nil, err
	}
	return &dex.Reserves{
		Reserve0: r.ledger.BalanceOf(p.Token0, p.Address),
		Reserve1: r.ledger.BalanceOf(p.Token1, p.Address),
	}, nil
}

func (r *Router) QuoteExactInputSingle(_ context.Context, tokenIn, tokenOut common.Address, fee uint32, amountIn *big.Int) (*big.Int, error) {
	p, err := r.pool(tokenIn, tokenOut, fee)
	if err != nil {
		return nil, err
	}
	return r.amountOut(p, tokenIn, tokenOut, amountIn)
}

func (r *Router) QuoteExactOutputSingle(_ context.Context, tokenIn, tokenOut common.Address, fee uint32, amountOut *big.Int) (*big.Int, error) {
	p, err := r.pool(tokenIn, tokenOut, fee)
	if err != nil {
		return nil, err
	}
	return r.amountIn(p, tokenIn, tokenOut, amountOut)
}

func (r *Router) ExactInputSingle(ctx context.Context, caller common.Address, params dex.ExactInputSingleParams) (*big.Int, error) {
	if params.AmountIn == nil || params.AmountIn.Sign() <= 0 {
		return nil, types.NewError(types.ErrInvalidAmount, "router.exactInputSingle").WithAsset(params.TokenIn).WithActor(caller)
	}
	p, err := r.pool(params.TokenIn, params.TokenOut, params.Fee)
	if err != nil {
		return nil, err
	}

	var out *big.Int
	err = r.host.Transact(ctx, func(ctx context.Context) error {
		var err error
		out, err = r.amountOut(p, params.TokenIn, params.TokenOut, params.AmountIn)
		if err != nil {
			return err
		}
		if params.AmountOutMinimum != nil && out.Cmp(params.AmountOutMinimum) < 0 {
			return types.NewError(types.ErrSlippageExceeded, "router.exactInputSingle").
				WithAsset(params.TokenOut).WithAmount(out).WithActor(caller)
		}
		return r.settle(p, caller, params.Recipient, params.TokenIn, params.TokenOut, params.AmountIn, out)
	})
	if err != nil {
		return nil, err
	}

	r.logger.Debug("Swapped exact input",
		zap.String("tokenIn", params.TokenIn.Hex()),
		zap.String("tokenOut", params.TokenOut.Hex()),
		zap.String("amountIn", params.AmountIn.String()),
		zap.String("amountOut", out.String()))
	return out, nil
}

func (r *Router) ExactOutputSingle(ctx context.Context, caller common.Address, params dex.ExactOutputSingleParams) (*big.Int, error) {
	if params.AmountOut == nil || params.AmountOut.Sign() <= 0 {
		return nil, types.NewError(types.ErrInvalidAmount, "router.exactOutputSingle").WithAsset(params.TokenOut).WithActor(caller)
	}
	p, err := r.pool(params.TokenIn, params.TokenOut, params.Fee)
	if err != nil {
		return nil, err
	}

	var in *big.Int
	err = r.host.Transact(ctx, func(ctx context.Context) error {
		var err error
		in, err = r.amountIn(p, params.TokenIn, params.TokenOut, params.AmountOut)
		if err != nil {
			return err
		}
		if params.AmountInMaximum != nil && in.Cmp(params.AmountInMaximum) > 0 {
			return types.NewError(types.ErrSlippageExceeded, "router.exactOutputSingle").
				WithAsset(params.TokenIn).WithAmount(in).WithActor(caller)
		}
		return r.settle(p, caller, params.Recipient, params.TokenIn, params.TokenOut, in, params.AmountOut)
	})
	if err != nil {
		return nil, err
	}

	r.logger.Debug("Swapped exact output",
		zap.String("tokenIn", params.TokenIn.Hex()),
		zap.String("tokenOut", params.TokenOut.Hex()),
		zap.String("amountIn", in.String()),
		zap.String("amountOut", params.AmountOut.String()))
	return in, nil
}

func (r *Router) settle(p *Pool, caller, recipient, tokenIn, tokenOut common.Address, amountIn, amountOut *big.Int) error {
	if err := r.ledger.TransferFrom(tokenIn, r.address, caller, p.Address, amountIn); err != nil {
		return err
	}
	return r.ledger.Transfer(tokenOut, p.Address, recipient, amountOut)
}

func (r *Router) reserves(p *Pool, tokenIn, tokenOut common.Address) (*big.Int, *big.Int) {
	return r.ledger.BalanceOf(tokenIn, p.Address), r.ledger.BalanceOf(tokenOut, p.Address)
}

func (r *Router) amountOut(p *Pool, tokenIn, tokenOut common.Address, amountIn *big.Int) (*big.Int, error) {
	reserveIn, reserveOut := r.reserves(p, tokenIn, tokenOut)
	out, err := getAmountOut(amountIn, reserveIn, reserveOut, p.Fee)
	if err != nil {
		return nil, fmt.Errorf("failed to quote %s: %w", p.Address.Hex(), err)
	}
	return out, nil
}

func (r *Router) amountIn(p *Pool, tokenIn, tokenOut common.Address, amountOut *big.Int) (*big.Int, error) {
	reserveIn, reserveOut := r.reserves(p, tokenIn, tokenOut)
	in, err := getAmountIn(amountOut, reserveIn, reserveOut, p.Fee)
	if err != nil {
		return nil, fmt.Errorf("failed to quote %s: %w", p.Address.Hex(), err)
	}
	return in, nil
}

// pool returns the registered pool for two tokens
func (r *Router) pool(tokenA, tokenB common.Address, fee uint32) (*Pool, error) {
	token0, token1 := sortTokens(tokenA, tokenB)
	addr := r.poolFor(token0, token1, fee)

	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.pools[addr]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s fee %d", errPoolNotFound, token0.Hex(), token1.Hex(), fee)
	}
	return p, nil
}

// poolFor calculates the CREATE2 pool address for a sorted pair and fee.
func (r *Router) poolFor(token0, token1 common.Address, fee uint32) common.Address {
	salt := crypto.Keccak256(
		common.LeftPadBytes(token0.Bytes(), 32),
		common.LeftPadBytes(token1.Bytes(), 32),
		common.LeftPadBytes(big.NewInt(int64(fee)).Bytes(), 32),
	)
	return common.BytesToAddress(crypto.Keccak256([]byte{
		0xff,
	}, r.factory.Bytes(), salt, poolInitCodeHash))
}
