package slidinglog

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/throttleguard/throttle/throttle"
)

func TestUnaryServerInterceptor(t *testing.T) {
	t.Parallel()

	l := newTestLimiter(t)
	policy := throttle.Policy{MaxAttempts: 2, Window: time.Minute}

	keyOf := func(ctx context.Context, fullMethod string) throttle.ActionKey {
		return throttle.ActionKey{ActorID: "peer-1", ActionType: fullMethod}
	}
	policyOf := func(throttle.ActionKey) throttle.Policy { return policy }

	intercept := l.UnaryServerInterceptor(keyOf, policyOf)
	info := &grpc.UnaryServerInfo{FullMethod: "/reviews.ReviewService/CreateReview"}
	handled := 0
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		handled++
		return "ok", nil
	}

	for i := 0; i < 2; i++ {
		resp, err := intercept(context.Background(), nil, info, handler)
		require.NoError(t, err)
		require.Equal(t, "ok", resp)
	}
	require.Equal(t, 2, handled)

	_, err := intercept(context.Background(), nil, info, handler)
	require.Equal(t, codes.ResourceExhausted, status.Code(err))
	require.Equal(t, 2, handled, "denied call must not reach the handler")
}

func TestUnaryServerInterceptorUsesInjectedClock(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: base}
	l := newTestLimiter(t, WithClock(clock.Now))
	policy := throttle.Policy{MaxAttempts: 1, Window: 10 * time.Second}

	keyOf := func(ctx context.Context, fullMethod string) throttle.ActionKey {
		return throttle.ActionKey{ActorID: "peer-1", ActionType: fullMethod}
	}
	intercept := l.UnaryServerInterceptor(keyOf, func(throttle.ActionKey) throttle.Policy { return policy })
	info := &grpc.UnaryServerInfo{FullMethod: "/reviews.ReviewService/CreateReview"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) { return "ok", nil }

	_, err := intercept(context.Background(), nil, info, handler)
	require.NoError(t, err)

	_, err = intercept(context.Background(), nil, info, handler)
	require.Equal(t, codes.ResourceExhausted, status.Code(err))

	// Admission timestamps come from the injected clock, so advancing it
	// past the window reopens the quota.
	clock.Advance(11 * time.Second)
	_, err = intercept(context.Background(), nil, info, handler)
	require.NoError(t, err)
}

func TestUnaryServerInterceptorMisconfiguration(t *testing.T) {
	t.Parallel()

	l := newTestLimiter(t)

	keyOf := func(ctx context.Context, fullMethod string) throttle.ActionKey {
		return throttle.ActionKey{ActorID: "peer-1", ActionType: fullMethod}
	}
	policyOf := func(throttle.ActionKey) throttle.Policy {
		return throttle.Policy{MaxAttempts: 0, Window: time.Minute}
	}

	intercept := l.UnaryServerInterceptor(keyOf, policyOf)
	info := &grpc.UnaryServerInfo{FullMethod: "/reviews.ReviewService/CreateReview"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		t.Fatal("handler must not run on misconfiguration")
		return nil, nil
	}

	_, err := intercept(context.Background(), nil, info, handler)
	require.Equal(t, codes.Internal, status.Code(err))
}
