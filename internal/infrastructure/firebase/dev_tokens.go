package firebase

import (
	"context"
	"errors"
	"strings"
)

const devTokenPrefix = "dev-"

// DevTokenVerifier accepts "dev-<uid>" tokens. It is wired only in
// development mode, where no Firebase project is configured.
type DevTokenVerifier struct{}

func (DevTokenVerifier) VerifyToken(ctx context.Context, token string) (string, error) {
	uid := strings.TrimPrefix(token, devTokenPrefix)
	if uid == token || uid == "" {
		return "", errors.New("not a development token")
	}
	return uid, nil
}

// DevToken returns the development token for uid.
func DevToken(uid string) string {
	return devTokenPrefix + uid
}
