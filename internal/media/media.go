package media

import (
	"context"
	"errors"
	"io"
)

var (
	ErrImageNotFound = errors.New("image not found")
	ErrNotConfigured = errors.New("image storage is not configured")
)

// ImageStore keeps product images outside the relational store. Products only hold
// the id returned by Put.
type ImageStore interface {
	Put(ctx context.Context, productID int64, contentType string, r io.Reader) (string, error)
	Open(ctx context.Context, id string) (io.ReadCloser, string, error)
	Delete(ctx context.Context, id string) error
}

// Disabled is the ImageStore used when no MongoDB is configured.
type Disabled struct{}

func (Disabled) Put(context.Context, int64, string, io.Reader) (string, error) {
	return "", ErrNotConfigured
}

func (Disabled) Open(context.Context, string) (io.ReadCloser, string, error) {
	return nil, "", ErrNotConfigured
}

func (Disabled) Delete(context.Context, string) error { return ErrNotConfigured }
