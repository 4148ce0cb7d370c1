// Package auth authenticates requests to the supervisor HTTP API.
//
// Clients present an HS256 JWT in the Authorization header. The token's
// "sub" claim names the principal and its "role" claim is one of:
//
//   - admin: full access
//   - operator: may create, stop and message agents
//   - viewer: read-only access (the default when the claim is absent)
//
// HTTPAuthMiddleware verifies the token and stores an AuthContext on the
// request context; RequireWrite guards mutating routes. When no secret is
// configured the server uses AnonymousMiddleware instead.
//
//	verifier := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
//	token, err := verifier.Generate("ci-bot", auth.RoleOperator, 24*time.Hour)
package auth
