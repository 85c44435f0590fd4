package types

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Error kinds. Every failure surfaced by the ejector, the swap router and the
// simulated collaborators matches exactly one of these through errors.Is.
var (
	ErrInsufficientBalance    = errors.New("insufficient balance")
	ErrInsufficientAllowance  = errors.New("insufficient allowance")
	ErrAllowanceNotApproved   = errors.New("allowance not approved")
	ErrDelegationNotApproved  = errors.New("delegation not approved")
	ErrInsufficientCollateral = errors.New("insufficient collateral")
	ErrSlippageExceeded       = errors.New("slippage exceeded")
	ErrUnauthorizedCallback   = errors.New("not callable directly")
	ErrReentrantCall          = errors.New("reentrant call")
	ErrRepaymentShortfall     = errors.New("repayment shortfall")
	ErrUnauthorizedCaller     = errors.New("unauthorized caller")
	ErrInvalidAmount          = errors.New("invalid amount")
	ErrUnknownReserve         = errors.New("unknown reserve")
	ErrNoDebt                 = errors.New("no outstanding debt")
)

// Error carries the kind of a failure together with enough context to
// diagnose it without inspecting internal state.
type Error struct {
	Kind   error
	Op     string
	Asset  common.Address
	Amount *big.Int
	Actor  common.Address
	Err    error
}

// NewError builds an Error of the given kind for op.
func NewError(kind error, op string) *Error {
	return &Error{Kind: kind, Op: op}
}

// WithAsset sets the asset involved in the failure.
func (e *Error) WithAsset(asset common.Address) *Error {
	e.Asset = asset
	return e
}

// WithAmount sets the amount involved in the failure.
func (e *Error) WithAmount(amount *big.Int) *Error {
	if amount != nil {
		e.Amount = new(big.Int).Set(amount)
	}
	return e
}

// WithActor sets the account that failed the check.
func (e *Error) WithActor(actor common.Address) *Error {
	e.Actor = actor
	return e
}

// Wrap attaches the underlying cause.
func (e *Error) Wrap(err error) *Error {
	e.Err = err
	return e
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.Error())

	var fields []string
	if e.Asset != (common.Address{}) {
		fields = append(fields, "asset="+e.Asset.Hex())
	}
	if e.Amount != nil {
		fields = append(fields, "amount="+e.Amount.String())
	}
	if e.Actor != (common.Address{}) {
		fields = append(fields, "actor="+e.Actor.Hex())
	}
	if len(fields) > 0 {
		b.WriteString(" (")
		b.WriteString(strings.Join(fields, " "))
		b.WriteString(")")
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// KindOf returns the first known kind matched by err, or nil.
func KindOf(err error) error {
	if err == nil {
		return nil
	}
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Kind
	}
	for _, kind := range kinds {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}

var kinds = []error{
	ErrInsufficientBalance,
	ErrInsufficientAllowance,
	ErrAllowanceNotApproved,
	ErrDelegationNotApproved,
	ErrInsufficientCollateral,
	ErrSlippageExceeded,
	ErrUnauthorizedCallback,
	ErrReentrantCall,
	ErrRepaymentShortfall,
	ErrUnauthorizedCaller,
	ErrInvalidAmount,
	ErrUnknownReserve,
	ErrNoDebt,
}

// KindLabel returns a short snake_case label for metrics.
func KindLabel(err error) string {
	switch KindOf(err) {
	case ErrInsufficientBalance:
		return "insufficient_balance"
	case ErrInsufficientAllowance:
		return "insufficient_allowance"
	case ErrAllowanceNotApproved:
		return "allowance_not_approved"
	case ErrDelegationNotApproved:
		return "delegation_not_approved"
	case ErrInsufficientCollateral:
		return "insufficient_collateral"
	case ErrSlippageExceeded:
		return "slippage_exceeded"
	case ErrUnauthorizedCallback:
		return "unauthorized_callback"
	case ErrReentrantCall:
		return "reentrant_call"
	case ErrRepaymentShortfall:
		return "repayment_shortfall"
	case ErrUnauthorizedCaller:
		return "unauthorized_caller"
	case ErrInvalidAmount:
		return "invalid_amount"
	case ErrUnknownReserve:
		return "unknown_reserve"
	case ErrNoDebt:
		return "no_debt"
	default:
		return "other"
	}
}
