package utils

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dgrijalva/jwt-go"
)

type JwtCustomClaim struct {
	ID       int    `json:"id"`
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.StandardClaims
}

const devJwtSecret = "GstBilling-Secret"

var ErrJwtSecretMissing = errors.New("API_SECRET must be set when GO_ENV=production")

// getJwtSecret falls back to a fixed development secret outside production only.
func getJwtSecret() ([]byte, error) {
	if secret := os.Getenv("API_SECRET"); secret != "" {
		return []byte(secret), nil
	}
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		return nil, ErrJwtSecretMissing
	}
	return []byte(devJwtSecret), nil
}

// CheckJwtSecret reports whether tokens can be signed with the current env.
func CheckJwtSecret() error {
	_, err := getJwtSecret()
	return err
}

func tokenLifespan() time.Duration {
	hours, err := strconv.Atoi(os.Getenv("TOKEN_HOUR_LIFESPAN"))
	if err != nil || hours <= 0 {
		hours = 12
	}
	return time.Hour * time.Duration(hours)
}

func JwtGenerate(userID int, username string, role string) (string, error) {
	secret, err := getJwtSecret()
	if err != nil {
		return "", err
	}
	now := time.Now()
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, &JwtCustomClaim{
		ID:       userID,
		Username: username,
		Role:     role,
		StandardClaims: jwt.StandardClaims{
			ExpiresAt: now.Add(tokenLifespan()).Unix(),
			IssuedAt:  now.Unix(),
		},
	})

	return t.SignedString(secret)
}

func JwtValidate(token string) (*JwtCustomClaim, error) {
	parsed, err := jwt.ParseWithClaims(token, &JwtCustomClaim{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("there's a problem with the signing method")
		}
		return getJwtSecret()
	})
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(*JwtCustomClaim)
	if !ok || !parsed.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}
