package auth

import (
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/zeebo/blake3"
	"golang.org/x/crypto/bcrypt"
)

const (
	usernameClaim = "username"
	expClaim      = "exp"

	DefaultTokenExp = time.Hour * 24

	// bcrypt refuses longer input
	maxBcryptPasswordLen = 72
)

var ErrInvalidToken = errors.New("invalid token")

func HashPassword(passwd string) (string, error) {
	passwdHash, err := bcrypt.GenerateFromPassword(bcryptInput(passwd), bcrypt.DefaultCost)
	return string(passwdHash), err
}

func VerifyPassword(passwdHash, passwd string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(passwdHash), bcryptInput(passwd))
	return err == nil
}

// bcryptInput passes short passwords through and replaces longer ones
// with their encoded blake3 digest, so every byte still counts.
func bcryptInput(passwd string) []byte {
	if len(passwd) <= maxBcryptPasswordLen {
		return []byte(passwd)
	}

	sum := blake3.Sum256([]byte(passwd))
	return []byte(base64.StdEncoding.EncodeToString(sum[:]))
}

// TokenIssuer signs and verifies the resume tokens handed out on login.
type TokenIssuer struct {
	signingKey []byte
	exp        time.Duration
}

func NewTokenIssuer(signingKey []byte, exp time.Duration) *TokenIssuer {
	if exp <= 0 {
		exp = DefaultTokenExp
	}

	return &TokenIssuer{
		signingKey: signingKey,
		exp:        exp,
	}
}

func (ti *TokenIssuer) Issue(username string) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		usernameClaim: username,
		expClaim:      time.Now().Add(ti.exp).Unix(),
	})

	return token.SignedString(ti.signingKey)
}

// Verify returns the username the token was issued for.
func (ti *TokenIssuer) Verify(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return ti.signingKey, nil
	})
	if err != nil {
		return "", fmt.Errorf("parse token: %w", err)
	}

	if !token.Valid {
		return "", ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", ErrInvalidToken
	}

	username, ok := claims[usernameClaim].(string)
	if !ok || username == "" {
		return "", fmt.Errorf("invalid username claim: %w", ErrInvalidToken)
	}

	return username, nil
}
