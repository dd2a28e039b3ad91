// ABOUTME: Caller identity carried through request handlers via context
// ABOUTME: Populated by the HTTP middleware and gRPC interceptor

package auth

import "context"

// Identity is the authenticated caller of a queue request.
type Identity struct {
	Subject   string // JWT sub claim, or "anonymous" when auth is disabled
	Transport string // "http" or "grpc"
}

// Anonymous is the subject used when auth is disabled.
const Anonymous = "anonymous"

type identityKey struct{}

// WithIdentity returns a new context carrying id.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// FromContext returns the caller identity, or nil if none was attached.
func FromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityKey{}).(*Identity)
	return id
}

// SubjectFromContext returns the caller subject, or Anonymous.
func SubjectFromContext(ctx context.Context) string {
	if id := FromContext(ctx); id != nil && id.Subject != "" {
		return id.Subject
	}
	return Anonymous
}
