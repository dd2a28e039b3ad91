// Package auth provides token authentication for the development queue server.
//
// # Tokens
//
// Callers authenticate with HS256 JWTs signed with the configured
// auth.jwt_secret. The "sub" claim names the caller; "exp" is optional.
//
//	v, err := NewJWTVerifier([]byte(secret))
//	token, err := v.Generate("mesh-manager", 24*time.Hour)
//	subject, err := v.Verify(token)
//
// Tokens are minted with `mesh-queue token --sub NAME`.
//
// # Transports
//
// HTTP requests carry the token in the Authorization header, either bare (as
// mesh managers send it) or with a "Bearer " prefix. gRPC requests carry it in
// the "authorization" metadata key. HTTPMiddleware and UnaryInterceptor
// verify the token and attach an Identity retrievable with FromContext.
//
// When no secret is configured the server installs NoAuthHTTPMiddleware and
// NoAuthUnaryInterceptor, which attach an anonymous Identity instead.
package auth
