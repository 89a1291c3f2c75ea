package auth

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

// Context keys for authentication data
type contextKey string

const (
	// ContextKeyBuyer is the context key for the authenticated buyer address
	ContextKeyBuyer contextKey = "buyer"
	// ContextKeyEscrowSubject is the context key for the escrow host token subject
	ContextKeyEscrowSubject contextKey = "escrow_subject"
)

// WithBuyer adds the authenticated buyer address to the context
func WithBuyer(ctx context.Context, buyer common.Address) context.Context {
	return context.WithValue(ctx, ContextKeyBuyer, buyer)
}

// BuyerFromContext retrieves the authenticated buyer address from the context
func BuyerFromContext(ctx context.Context) (common.Address, bool) {
	addr, ok := ctx.Value(ContextKeyBuyer).(common.Address)
	return addr, ok
}

// WithEscrowSubject adds the escrow host identity to the context
func WithEscrowSubject(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, ContextKeyEscrowSubject, subject)
}

// EscrowSubjectFromContext retrieves the escrow host identity from the context
func EscrowSubjectFromContext(ctx context.Context) (string, bool) {
	sub, ok := ctx.Value(ContextKeyEscrowSubject).(string)
	return sub, ok
}
