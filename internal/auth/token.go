package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrTokenInvalid = errors.New("token invalid")

type Claims struct {
	AthleteID string `json:"athlete_id"`
	jwt.RegisteredClaims
}

// SignToken issues an HS256 token for athleteID valid for ttl.
func SignToken(secret, athleteID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		AthleteID: athleteID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   athleteID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

func parseToken(secret, token string) (*Claims, error) {
	parsed, err := parseClaimsFn(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrTokenInvalid
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.AthleteID == "" {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

var parseClaimsFn = jwt.ParseWithClaims
