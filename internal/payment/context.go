package payment

import "context"

type methodKey struct{}

// WithMethod stores the payment method key a notification arrived on.
func WithMethod(ctx context.Context, key string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, methodKey{}, key)
}

// MethodFromContext returns the method key stored by WithMethod.
func MethodFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(methodKey{}).(string); ok {
		return v
	}
	return ""
}
