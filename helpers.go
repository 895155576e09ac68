package taskflow

import (
	"context"
	"fmt"
)

// JoinAll waits until every job is terminal. Like [Job.Join] it never
// reports the jobs' own failures.
func JoinAll(ctx context.Context, jobs ...*Job) error {
	for _, j := range jobs {
		if err := j.Join(ctx); err != nil {
			return err
		}
	}
	return nil
}

// AwaitAll awaits every deferred in order and returns their values. It
// stops at the first failure and returns it.
func AwaitAll[T any](ctx context.Context, ds ...*Deferred[T]) ([]T, error) {
	out := make([]T, 0, len(ds))
	for _, d := range ds {
		v, err := d.Await(ctx)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// ForEach executes fn for each item concurrently inside a [Run] block.
// The first failure cancels the remaining items and is returned.
//
//	err := taskflow.ForEach(ctx, urls, func(ctx context.Context, u string) error {
//	    return fetch(ctx, u)
//	}, taskflow.WithDefaultDispatcher(taskflow.Pooled(10)))
func ForEach[T any](ctx context.Context, items []T, fn func(ctx context.Context, item T) error, opts ...Option) error {
	return Run(ctx, func(ctx context.Context, sc *Scope) error {
		for i, item := range items {
			sc.Launch(func(ctx context.Context, _ *Scope) error {
				return fn(ctx, item)
			}, Named(fmt.Sprintf("foreach[%d]", i)))
		}
		return nil
	}, opts...)
}

// Map executes fn for each item concurrently and collects the results in
// the same order as the input slice. On failure, Map returns nil and the
// failure.
//
//	prices, err := taskflow.Map(ctx, products, func(ctx context.Context, p Product) (float64, error) {
//	    return fetchPrice(ctx, p)
//	})
func Map[T, R any](ctx context.Context, items []T, fn func(ctx context.Context, item T) (R, error), opts ...Option) ([]R, error) {
	results := make([]R, len(items))
	err := Run(ctx, func(ctx context.Context, sc *Scope) error {
		for i, item := range items {
			sc.Launch(func(ctx context.Context, _ *Scope) error {
				r, err := fn(ctx, item)
				if err != nil {
					return err
				}
				results[i] = r // each task writes a unique index
				return nil
			}, Named(fmt.Sprintf("map[%d]", i)))
		}
		return nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	return results, nil
}
