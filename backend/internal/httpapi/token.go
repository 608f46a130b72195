package httpapi

import (
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ChannelClaims 绑定一个编辑通道：哪个页面、哪条通道、谁在用。
type ChannelClaims struct {
	PageKey   string `json:"pageKey"`
	ChannelID string `json:"channelId"`
	User      string `json:"user,omitempty"`
	Type      string `json:"typ"` // "channel"
	jwt.RegisteredClaims
}

func getSecret() []byte {
	secret := os.Getenv("CHANNEL_SECRET")
	if secret == "" {
		secret = "dev-secret"
	}
	return []byte(secret)
}

// SignChannelToken 给一条新编辑通道签发令牌，随编辑页面下发。
func SignChannelToken(pageKey, channelID, user string, ttl time.Duration) (string, time.Time, error) {
	claims := &ChannelClaims{
		PageKey:   pageKey,
		ChannelID: channelID,
		User:      user,
		Type:      "channel",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(getSecret())
	if err != nil {
		return "", time.Time{}, err
	}
	return token, time.Now().Add(ttl), nil
}

func ParseChannelToken(tokenString string) (*ChannelClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &ChannelClaims{}, func(token *jwt.Token) (interface{}, error) {
		return getSecret(), nil
	})
	if err != nil {
		return nil, err
	}
	if claims, ok := token.Claims.(*ChannelClaims); ok && token.Valid && claims.Type == "channel" {
		return claims, nil
	}
	return nil, jwt.ErrTokenInvalidClaims
}
