package slidinglog

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/throttleguard/throttle/throttle"
)

// KeyFunc derives the ActionKey for an incoming RPC, e.g. peer identity from
// metadata plus the full method name as the action type.
type KeyFunc func(ctx context.Context, fullMethod string) throttle.ActionKey

// PolicyFunc resolves the Policy governing a key's action type.
type PolicyFunc func(key throttle.ActionKey) throttle.Policy

// UnaryServerInterceptor guards unary RPCs with this limiter. Denied calls
// fail with ResourceExhausted and a retry hint; misconfiguration (invalid key
// or policy) fails with Internal so it is caught loudly, not masked.
func (l *Limiter) UnaryServerInterceptor(keyOf KeyFunc, policyOf PolicyFunc) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		key := keyOf(ctx, info.FullMethod)
		decision, err := l.CheckAndRecord(ctx, key, policyOf(key), l.now())
		if err != nil {
			return nil, status.Errorf(codes.Internal, "rate limiter error: %v", err)
		}
		if !decision.Admitted {
			return nil, status.Errorf(codes.ResourceExhausted, "rate limit exceeded, retry after %s", decision.RetryAfter)
		}
		return handler(ctx, req)
	}
}
