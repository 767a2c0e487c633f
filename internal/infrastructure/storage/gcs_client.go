package storage

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"rentalchat/internal/domain/entity"
)

const publicBaseURL = "https://storage.googleapis.com/"

// CloudStorageClient turns avatar object references from user records into
// URLs a browser can load.
type CloudStorageClient struct {
	client     *storage.Client
	bucketName string
	urlTTL     time.Duration
}

func NewCloudStorageClient(ctx context.Context, bucketName string, urlTTL time.Duration, opts ...option.ClientOption) (*CloudStorageClient, error) {
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %v", err)
	}

	return &CloudStorageClient{
		client:     client,
		bucketName: bucketName,
		urlTTL:     urlTTL,
	}, nil
}

// ResolveAvatar returns a loadable URL for ref. Objects under public/ get
// their public URL; everything else a signed GET URL valid for urlTTL.
func (c *CloudStorageClient) ResolveAvatar(ctx context.Context, ref entity.AvatarRef) (string, error) {
	switch ref.Kind {
	case entity.AvatarURL:
		return ref.Value, nil
	case entity.AvatarObject:
	default:
		return "", nil
	}

	object := strings.TrimPrefix(ref.Value, "/")
	if strings.HasPrefix(object, "public/") {
		return publicBaseURL + c.bucketName + "/" + object, nil
	}

	url, err := c.client.Bucket(c.bucketName).SignedURL(object, &storage.SignedURLOptions{
		Method:  http.MethodGet,
		Expires: time.Now().Add(c.urlTTL),
		Scheme:  storage.SigningSchemeV4,
	})
	if err != nil {
		return "", fmt.Errorf("failed to sign avatar URL: %v", err)
	}
	return url, nil
}

func (c *CloudStorageClient) Close() error {
	return c.client.Close()
}

// PublicURLResolver resolves object references to public bucket URLs
// without signing. Used when no storage credentials are configured.
type PublicURLResolver struct {
	BucketName string
}

func (r PublicURLResolver) ResolveAvatar(ctx context.Context, ref entity.AvatarRef) (string, error) {
	switch ref.Kind {
	case entity.AvatarURL:
		return ref.Value, nil
	case entity.AvatarObject:
		if r.BucketName == "" {
			return "", nil
		}
		return publicBaseURL + r.BucketName + "/" + strings.TrimPrefix(ref.Value, "/"), nil
	default:
		return "", nil
	}
}
