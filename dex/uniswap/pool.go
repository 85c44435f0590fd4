package uniswap

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// FeeDenominator expresses pool fees in hundredths of a basis point, as Uniswap
// V3 does: 3000 is 0.3%.
const FeeDenominator = 1_000_000

var (
	errInsufficientLiquidity = errors.New("uniswap: insufficient liquidity")
	errInvalidFee            = errors.New("uniswap: invalid fee tier")
	errIdenticalTokens       = errors.New("uniswap: identical tokens")
)

// Pool is a constant-product pool. Its reserves are the ledger balances held at
// Address.
type Pool struct {
	Address common.Address
	Token0  common.Address
	Token1  common.Address
	Fee     uint32
}

// sortTokens orders a pair the way the factory does.
func sortTokens(tokenA, tokenB common.Address) (common.Address, common.Address) {
	if tokenA.Cmp(tokenB) > 0 {
		return tokenB, tokenA
	}
	return tokenA, tokenB
}

// getAmountOut calculates output amount for an input amount
func getAmountOut(amountIn, reserveIn, reserveOut *big.Int, fee uint32) (*big.Int, error) {
	if reserveIn.Sign() <= 0 || reserveOut.Sign() <= 0 {
		return nil, errInsufficientLiquidity
	}
	amountInWithFee := new(big.Int).Mul(amountIn, big.NewInt(int64(FeeDenominator-fee)))
	numerator := new(big.Int).Mul(amountInWithFee, reserveOut)
	denominator := new(big.Int).Add(
		new(big.Int).Mul(reserveIn, big.NewInt(FeeDenominator)),
		amountInWithFee,
	)
	return new(big.Int).Div(numerator, denominator), nil
}

// getAmountIn calculates input amount for a desired output amount
func getAmountIn(amountOut, reserveIn, reserveOut *big.Int, fee uint32) (*big.Int, error) {
	if reserveIn.Sign() <= 0 || amountOut.Cmp(reserveOut) >= 0 {
		return nil, errInsufficientLiquidity
	}
	numerator := new(big.Int).Mul(
		new(big.Int).Mul(reserveIn, amountOut),
		big.NewInt(FeeDenominator),
	)
	denominator := new(big.Int).Mul(
		new(big.Int).Sub(reserveOut, amountOut),
		big.NewInt(int64(FeeDenominator-fee)),
	)
	return new(big.Int).Add(
		new(big.Int).Div(numerator, denominator),
		big.NewInt(1),
	), nil
}
