package ctxutil

import "context"

// Default guards against nil contexts from callers that build requests by
// hand, so everything downstream can assume a usable Context.
func Default(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}
