package repository

import (
	"context"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"rentalchat/internal/domain/entity"
	"rentalchat/internal/domain/repository"
	"rentalchat/pkg/errors"
)

const usersCollection = "users"

type firestoreUserRepository struct {
	client *firestore.Client
}

// NewFirestoreProfileRepository reads peer profiles from the users collection.
func NewFirestoreProfileRepository(client *firestore.Client) repository.ProfileRepository {
	return &firestoreUserRepository{
		client: client,
	}
}

// NewFirestoreChatActivityRepository writes chatActive flags on user records.
func NewFirestoreChatActivityRepository(client *firestore.Client) repository.ChatActivityRepository {
	return &firestoreUserRepository{
		client: client,
	}
}

func (r *firestoreUserRepository) GetProfile(ctx context.Context, userID string) (*entity.PeerProfile, error) {
	doc, err := r.client.Collection(usersCollection).Doc(userID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, errors.MissingProfile(userID, err)
		}
		return nil, errors.TransientNetwork("get profile", err)
	}

	var user entity.User
	if err := doc.DataTo(&user); err != nil {
		return nil, errors.Internal("Failed to parse user data", err)
	}
	user.ID = doc.Ref.ID

	return user.Profile(), nil
}

// SetChatActive sets users/{userID}.chatActive.{peerID}. The field path is
// built with FieldPath so ids containing dots stay one segment.
func (r *firestoreUserRepository) SetChatActive(ctx context.Context, userID, peerID string, active bool) error {
	_, err := r.client.Collection(usersCollection).Doc(userID).Update(ctx, []firestore.Update{
		{FieldPath: firestore.FieldPath{"chatActive", peerID}, Value: active},
		{Path: "updatedAt", Value: firestore.ServerTimestamp},
	})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return errors.NotFound("User", err)
		}
		return errors.TransientNetwork("set chat active", err)
	}
	return nil
}
