package echoapi

import (
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
)

// claimsMiddleware lets the request through when allow accepts the token claims.
func claimsMiddleware(allow func(claims Claims) bool) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			claims, err := getContextClaims(ctx)
			if err != nil {
				return errors.Wrap(err, "getting context claims")
			}
			if allow(claims) {
				return next(ctx)
			}
			return errHttpForbidden
		}
	}
}

func adminMiddleware(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return claimsMiddleware(func(claims Claims) bool {
			return claims.IsAdmin
		})(func(ctx echo.Context) error {
			if !contextHasAnyRole(ctx, roles) {
				return errHttpForbidden
			}
			return next(ctx)
		})
	}
}

// staffMiddleware allows admins and teachers.
func staffMiddleware() echo.MiddlewareFunc {
	return claimsMiddleware(func(claims Claims) bool {
		return claims.IsAdmin || claims.IsTeacher
	})
}

func studentMiddleware() echo.MiddlewareFunc {
	return claimsMiddleware(func(claims Claims) bool {
		return claims.IsStudent
	})
}
