// Package auth carries the caller identity established by the external
// auth collaborator. The bearer credential itself is opaque to this
// service and is only passed through.
package auth

import "context"

const (
	XUserIDHeader   = "X-User-Id"
	XUserNameHeader = "X-User-Name"
)

type ctxKey struct{}

// Identity is the stable user identity attached to a request.
type Identity struct {
	UserID   string
	UserName string
}

func SetAuthContext(ctx context.Context, userID, userName string) context.Context {
	return context.WithValue(ctx, ctxKey{}, Identity{UserID: userID, UserName: userName})
}

func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(Identity)
	return id, ok && id.UserID != ""
}
