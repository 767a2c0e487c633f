package firebase

import (
	"context"

	"firebase.google.com/go/v4/auth"
	"google.golang.org/api/iterator"
)

// TokenVerifier maps a client ID token to the user id it was issued for.
type TokenVerifier interface {
	VerifyToken(ctx context.Context, token string) (string, error)
}

type FirebaseAuthClient struct {
	client *auth.Client
}

func NewFirebaseAuthClient(client *auth.Client) *FirebaseAuthClient {
	return &FirebaseAuthClient{
		client: client,
	}
}

func (f *FirebaseAuthClient) VerifyToken(ctx context.Context, token string) (string, error) {
	result, err := f.client.VerifyIDToken(ctx, token)
	if err != nil {
		return "", err
	}

	return result.UID, nil
}

// TestConnection lists at most one user to check that the credentials work.
func (f *FirebaseAuthClient) TestConnection(ctx context.Context) error {
	_, err := f.client.Users(ctx, "").Next()
	if err == iterator.Done {
		return nil
	}
	return err
}
