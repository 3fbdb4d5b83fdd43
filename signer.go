package main

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

var errEmptySecret = errors.New("signing secret is empty")

// signPayload computes the Token header value for an outgoing body: hex encoded HMAC-SHA256
// of the exact bytes put on the wire.
func signPayload(secret string, payload []byte) (string, error) {
	if secret == "" {
		return "", errEmptySecret
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

func verifyToken(secret string, payload []byte, token string) bool {
	expected, err := signPayload(secret, payload)
	if err != nil {
		return false
	}
	return hmac.Equal([]byte(expected), []byte(token))
}
