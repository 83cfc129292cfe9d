package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type claimKey string

const (
	UserIDKey claimKey = "user_id"
	TeamIDKey claimKey = "team_id"
)

// Auth validates a Bearer JWT using the provided HMAC secret and adds the
// user and team ids to the request context. Tokens without a valid team
// claim are rejected; every protected resource is team-scoped.
func Auth(hmacSecret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ah := r.Header.Get("Authorization")
			tokenStr := ""
			if strings.HasPrefix(strings.ToLower(ah), "bearer ") {
				tokenStr = strings.TrimSpace(ah[len("Bearer "):])
			} else if t := r.URL.Query().Get("access_token"); t != "" {
				// websocket clients cannot set headers
				tokenStr = t
			}
			if tokenStr == "" {
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				return
			}

			token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrSignatureInvalid
				}
				return hmacSecret, nil
			})
			if err != nil || !token.Valid {
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				return
			}
			claims, ok := token.Claims.(jwt.MapClaims)
			if !ok {
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				return
			}

			uid, _ := claims["sub"].(string)
			team, _ := claims["team"].(string)
			if _, err := uuid.Parse(team); err != nil {
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), UserIDKey, uid)
			ctx = context.WithValue(ctx, TeamIDKey, team)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func GetUserID(ctx context.Context) uuid.UUID {
	if v, ok := ctx.Value(UserIDKey).(string); ok {
		if id, err := uuid.Parse(v); err == nil {
			return id
		}
	}
	return uuid.Nil
}

func GetTeamID(ctx context.Context) uuid.UUID {
	if v, ok := ctx.Value(TeamIDKey).(string); ok {
		if id, err := uuid.Parse(v); err == nil {
			return id
		}
	}
	return uuid.Nil
}
