package utils

import (
	"errors"

	"github.com/golang-jwt/jwt/v5"
)

// RoomTokenClaims represents the claims in a room access token issued
// by the lobby.
type RoomTokenClaims struct {
	RoomID   string `json:"roomId"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// ValidateRoomToken validates a JWT room token and returns the claims.
func ValidateRoomToken(secret []byte, tokenString string) (*RoomTokenClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &RoomTokenClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return secret, nil
	})
	if err != nil {
		return nil, err
	}
	return token.Claims.(*RoomTokenClaims), nil
}
