// Package storage reads operator-supplied files such as catalog imports from Cloud Storage.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	gcs "cloud.google.com/go/storage"
)

const uriScheme = "gs://"

// ErrObjectNotFound is returned when the referenced object does not exist.
var ErrObjectNotFound = errors.New("storage: object not found")

// ObjectURI names one Cloud Storage object.
type ObjectURI struct {
	Bucket string
	Object string
}

func (u ObjectURI) String() string {
	return uriScheme + u.Bucket + "/" + u.Object
}

// IsObjectURI reports whether path points at Cloud Storage rather than the local filesystem.
func IsObjectURI(path string) bool {
	return strings.HasPrefix(strings.TrimSpace(path), uriScheme)
}

// ParseObjectURI parses gs://bucket/path/to/object.
func ParseObjectURI(raw string) (ObjectURI, error) {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, uriScheme) {
		return ObjectURI{}, fmt.Errorf("storage: %q is not a gs:// uri", raw)
	}
	bucket, object, ok := strings.Cut(strings.TrimPrefix(raw, uriScheme), "/")
	if !ok {
		return ObjectURI{}, fmt.Errorf("storage: %q has no object path", raw)
	}
	bucket, err := validateSegment("bucket", bucket)
	if err != nil {
		return ObjectURI{}, err
	}
	object, err = validateObject(object)
	if err != nil {
		return ObjectURI{}, err
	}
	return ObjectURI{Bucket: bucket, Object: object}, nil
}

// Reader opens objects for reading.
type Reader struct {
	client *gcs.Client
}

// NewReader constructs a Reader backed by the provided Cloud Storage client.
func NewReader(client *gcs.Client) (*Reader, error) {
	if client == nil {
		return nil, errors.New("storage reader: client is required")
	}
	return &Reader{client: client}, nil
}

// Open streams the object named by uri. The caller closes the returned reader.
func (r *Reader) Open(ctx context.Context, uri ObjectURI) (io.ReadCloser, error) {
	if r == nil || r.client == nil {
		return nil, errors.New("storage reader: client is not initialised")
	}
	rc, err := r.client.Bucket(uri.Bucket).Object(uri.Object).NewReader(ctx)
	if errors.Is(err, gcs.ErrObjectNotExist) || errors.Is(err, gcs.ErrBucketNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, uri)
	}
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", uri, err)
	}
	return rc, nil
}

func validateSegment(name, value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", fmt.Errorf("storage: %s is required", name)
	}
	if strings.ContainsAny(value, "/\\") {
		return "", fmt.Errorf("storage: %s contains invalid path characters", name)
	}
	if strings.Contains(value, "..") {
		return "", fmt.Errorf("storage: %s contains invalid traversal sequence", name)
	}
	return value, nil
}

func validateObject(value string) (string, error) {
	value = strings.Trim(strings.TrimSpace(value), "/")
	if value == "" {
		return "", errors.New("storage: object path is required")
	}
	for _, part := range strings.Split(value, "/") {
		if _, err := validateSegment("object path", part); err != nil {
			return "", err
		}
	}
	return value, nil
}
