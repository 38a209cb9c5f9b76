package s3blob

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/alanyoungcy/spotledger/internal/domain"
)

// Reader implements domain.BlobReader using an S3-compatible backend. The
// archiver only needs existence checks to keep reruns idempotent.
type Reader struct {
	client *s3.Client
	bucket string
}

// NewReader creates a new Reader that retrieves objects from the given
// client's configured bucket.
func NewReader(c *Client) *Reader {
	return &Reader{
		client: c.S3(),
		bucket: c.Bucket(),
	}
}

// Exists checks whether an object exists at the given path by issuing a
// HeadObject request. Returns true if the object exists, false if it does
// not. Any error other than NoSuchKey / NotFound is propagated.
func (r *Reader) Exists(ctx context.Context, path string) (bool, error) {
	_, err := r.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("s3blob: exists %s: %w", path, err)
	}
	return true, nil
}

// isNotFound reports whether err means the object does not exist. HeadObject
// returns a bare 404 (NotFound), other calls NoSuchKey, and some compatible
// providers only the HTTP status.
func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var httpErr interface{ HTTPStatusCode() int }
	return errors.As(err, &httpErr) && httpErr.HTTPStatusCode() == http.StatusNotFound
}

// Compile-time interface check.
var _ domain.BlobReader = (*Reader)(nil)
