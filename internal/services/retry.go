package services

import (
	"context"
)

// RetryOnce runs op and, when it fails with an error that retryable accepts,
// runs refresh and tries op exactly one more time. A nil refresh is skipped;
// a failing refresh aborts with its error.
func RetryOnce(ctx context.Context, op func(context.Context) error, refresh func(context.Context) error, retryable func(error) bool) error {
	err := op(ctx)
	if err == nil || retryable == nil || !retryable(err) {
		return err
	}
	if ctx.Err() != nil {
		return err
	}
	if refresh != nil {
		if rerr := refresh(ctx); rerr != nil {
			return rerr
		}
	}
	return op(ctx)
}
