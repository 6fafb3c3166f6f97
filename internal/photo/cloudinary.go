package photo

import (
	"context"
	"io"
	"log"

	"classroll/internal/cloudinary"
)

// CloudinaryStore keeps photos on Cloudinary; references are secure URLs.
type CloudinaryStore struct {
	client *cloudinary.Client
}

func NewCloudinaryStore(client *cloudinary.Client) *CloudinaryStore {
	return &CloudinaryStore{client: client}
}

func (s *CloudinaryStore) Save(ctx context.Context, r io.Reader, filename string) (string, error) {
	res, err := s.client.Upload(ctx, r, filename)
	if err != nil {
		return "", err
	}
	return res.SecureURL, nil
}

func (s *CloudinaryStore) Delete(ctx context.Context, ref string) error {
	if ref == "" || ref == DefaultAvatar {
		return nil
	}
	publicID, ok := cloudinary.PublicIDFromURL(ref)
	if !ok {
		log.Printf("photo: %s is not a cloudinary reference, skipping", ref)
		return nil
	}
	return s.client.Destroy(ctx, publicID)
}
