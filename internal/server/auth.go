package server

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	echojwt "github.com/labstack/echo-jwt/v4"
	"github.com/labstack/echo/v4"

	"realty-bot/internal/usecase"
)

const (
	claimSubject  = "sub"
	claimTenantID = "tenant_id"
	claimName     = "name"
)

// JWTMiddleware verifies HS256 bearer tokens. Tokens are issued elsewhere.
func JWTMiddleware(secret string) echo.MiddlewareFunc {
	return echojwt.WithConfig(echojwt.Config{
		SigningKey:    []byte(secret),
		SigningMethod: "HS256",
		TokenLookup:   "header:Authorization:Bearer ",
		NewClaimsFunc: func(c echo.Context) jwt.Claims {
			return jwt.MapClaims{}
		},
	})
}

// actorFromContext builds the acting agent from verified claims.
func actorFromContext(c echo.Context) (usecase.Actor, error) {
	token, ok := c.Get("user").(*jwt.Token)
	if !ok || token == nil || !token.Valid {
		return usecase.Actor{}, echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return usecase.Actor{}, echo.NewHTTPError(http.StatusUnauthorized, "invalid token claims")
	}
	actor := usecase.Actor{
		TenantID: claimString(claims, claimTenantID),
		ID:       claimString(claims, claimSubject),
		Name:     claimString(claims, claimName),
	}
	if actor.TenantID == "" || actor.ID == "" {
		return usecase.Actor{}, echo.NewHTTPError(http.StatusUnauthorized, "tenant or subject missing")
	}
	return actor, nil
}

func claimString(claims jwt.MapClaims, key string) string {
	raw, ok := claims[key]
	if !ok || raw == nil {
		return ""
	}
	switch v := raw.(type) {
	case string:
		return strings.TrimSpace(v)
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(raw)
	}
}
