package httpresp

import (
	"context"

	"github.com/weilai-dev/gowebserver/internal/dbpool"
)

// LoginVerify reports whether username/password match a row in the
// user table, delegating to the bound-parameter query in dbpool. It
// treats a DB error as a failed login rather than propagating it, since
// the caller has no 5xx status to report it with.
func LoginVerify(ctx context.Context, pool *dbpool.Pool, username, password string) bool {
	if pool == nil {
		return false
	}
	ok, err := pool.LoginVerify(ctx, username, password)
	if err != nil {
		return false
	}
	return ok
}

// Register creates a new user row, reporting success the same way
// LoginVerify reports a match: true unless the username is already
// taken or the pool call errored.
func Register(ctx context.Context, pool *dbpool.Pool, username, password string) bool {
	if pool == nil {
		return false
	}
	if err := pool.Register(ctx, username, password); err != nil {
		return false
	}
	return true
}
