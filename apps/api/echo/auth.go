package echoapi

import (
	"github.com/dgrijalva/jwt-go"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/trezcool/ratiba/core/auth"
)

const contextTokenKey = "userToken"

// newJWTMiddleware returns the bearer auth middleware; it shares auth.Claims with the realtime endpoint.
func newJWTMiddleware(secret []byte) echo.MiddlewareFunc {
	return middleware.JWTWithConfig(middleware.JWTConfig{
		SigningKey:    secret,
		SigningMethod: auth.SigningMethod.Alg(),
		ContextKey:    contextTokenKey,
		Claims:        new(auth.Claims),
	})
}

func getContextIdentity(ctx echo.Context) (auth.Identity, error) {
	if token, ok := ctx.Get(contextTokenKey).(*jwt.Token); ok {
		if claims, ok := token.Claims.(*auth.Claims); ok {
			return claims.Identity(), nil
		}
	}
	return auth.Identity{}, errUnauthorized
}
