// Package inflight is a registry of shared pending operations keyed by
// name. The first caller for a key starts the operation; callers arriving
// while it runs attach to the same result instead of starting another.
//
// It backs both CSRF acquisition and access-token refresh.
package inflight

import (
	"context"

	"golang.org/x/sync/singleflight"
)

// Group de-duplicates concurrent operations. The zero value is ready to use.
type Group struct {
	sf singleflight.Group
}

// Do runs fn once for all concurrent callers sharing key and returns its
// result to each of them. shared reports whether the result was delivered
// to more than one caller.
//
// fn runs detached from the caller's cancellation so that one caller giving
// up does not fail the others; a caller whose ctx ends stops waiting and
// gets ctx.Err().
func (g *Group) Do(ctx context.Context, key string, fn func(ctx context.Context) (string, error)) (value string, shared bool, err error) {
	detached := context.WithoutCancel(ctx)
	ch := g.sf.DoChan(key, func() (any, error) {
		return fn(detached)
	})

	select {
	case <-ctx.Done():
		return "", false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Shared, res.Err
		}
		v, _ := res.Val.(string)
		return v, res.Shared, nil
	}
}

// Forget drops key so that the next Do starts a fresh operation even if
// one is still running.
func (g *Group) Forget(key string) {
	g.sf.Forget(key)
}
