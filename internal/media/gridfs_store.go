package media

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/gridfs"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const bucketName = "product_images"

type GridFSStore struct {
	bucket *gridfs.Bucket
}

func NewGridFSStore(db *mongo.Database) (*GridFSStore, error) {
	bucket, err := gridfs.NewBucket(db, options.GridFSBucket().SetName(bucketName))
	if err != nil {
		return nil, fmt.Errorf("failed to open gridfs bucket: %w", err)
	}
	return &GridFSStore{bucket: bucket}, nil
}

func (s *GridFSStore) Put(ctx context.Context, productID int64, contentType string, r io.Reader) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	opts := options.GridFSUpload().SetMetadata(bson.D{
		{Key: "product_id", Value: productID},
		{Key: "content_type", Value: contentType},
	})
	id, err := s.bucket.UploadFromStream(fmt.Sprintf("product-%d", productID), r, opts)
	if err != nil {
		return "", fmt.Errorf("upload image: %w", err)
	}
	return id.Hex(), nil
}

func (s *GridFSStore) Open(ctx context.Context, id string) (io.ReadCloser, string, error) {
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, "", ErrImageNotFound
	}

	stream, err := s.bucket.OpenDownloadStream(oid)
	if errors.Is(err, gridfs.ErrFileNotFound) {
		return nil, "", ErrImageNotFound
	}
	if err != nil {
		return nil, "", fmt.Errorf("open image: %w", err)
	}

	contentType := "application/octet-stream"
	if file := stream.GetFile(); file != nil && file.Metadata != nil {
		if v, ok := file.Metadata.Lookup("content_type").StringValueOK(); ok && v != "" {
			contentType = v
		}
	}
	return stream, contentType, nil
}

func (s *GridFSStore) Delete(ctx context.Context, id string) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return ErrImageNotFound
	}
	err = s.bucket.DeleteContext(ctx, oid)
	if errors.Is(err, gridfs.ErrFileNotFound) {
		return ErrImageNotFound
	}
	if err != nil {
		return fmt.Errorf("delete image: %w", err)
	}
	return nil
}
