package txn

import "context"

type ambientKey struct{}

// WithTransaction returns a context carrying tx as the ambient transaction.
func WithTransaction(ctx context.Context, tx *Transaction) context.Context {
	return context.WithValue(ctx, ambientKey{}, tx)
}

// FromContext returns the ambient transaction of ctx, if any.
func FromContext(ctx context.Context) (*Transaction, bool) {
	if ctx == nil {
		return nil, false
	}
	tx, ok := ctx.Value(ambientKey{}).(*Transaction)
	return tx, ok && tx != nil
}
