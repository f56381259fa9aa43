package s3blob

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/alanyoungcy/pricealertbot/internal/domain"
)

// Reader implements domain.BlobChecker using an S3-compatible backend.
type Reader struct {
	c *Client
}

// NewReader creates a new Reader over the given client's configured bucket.
func NewReader(c *Client) *Reader {
	return &Reader{c: c}
}

// Exists checks whether an object exists at path by issuing a HeadObject
// request. Any error other than a not-found response is propagated.
func (r *Reader) Exists(ctx context.Context, path string) (bool, error) {
	_, err := r.c.S3().HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(r.c.Bucket()),
		Key:    aws.String(r.c.Key(path)),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("s3blob: exists %s: %w", path, err)
	}
	return true, nil
}

// isNotFound reports whether err means the object does not exist.
func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}

	// HeadObject has no body, so the SDK surfaces a bare 404 as NotFound.
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}

	// Some S3-compatible providers return an untyped 404.
	type httpResponseError interface {
		HTTPStatusCode() int
	}
	var httpErr httpResponseError
	if errors.As(err, &httpErr) && httpErr.HTTPStatusCode() == http.StatusNotFound {
		return true
	}

	return false
}

// Compile-time interface check.
var _ domain.BlobChecker = (*Reader)(nil)
