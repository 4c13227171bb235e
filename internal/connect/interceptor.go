package connect

import (
	"context"
	"errors"

	"connectrpc.com/connect"

	"github.com/sarathsp06/herald/internal/auth"
)

// NewAuthInterceptor rejects calls without a valid bearer token and stores
// the verified claims on the request context.
func NewAuthInterceptor(verifier *auth.Verifier) connect.UnaryInterceptorFunc {
	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			claims, err := verifier.VerifyHeader(req.Header().Get("Authorization"))
			if err != nil {
				if errors.Is(err, auth.ErrMissingToken) {
					return nil, connect.NewError(connect.CodeUnauthenticated, auth.ErrMissingToken)
				}
				// Parser details stay server side.
				return nil, connect.NewError(connect.CodeUnauthenticated, auth.ErrInvalidToken)
			}
			return next(auth.WithClaims(ctx, claims), req)
		}
	}
}
