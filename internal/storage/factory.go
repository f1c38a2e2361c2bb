package storage

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// URI describes a content store backend, e.g. "file:///var/lib/simplefiles"
// or "s3://bucket/prefix?region=eu-west-1&endpoint=http://minio:9000&path_style=true".
// A bare path is treated as a file URI.
type URI struct {
	Scheme    string
	Path      string
	Bucket    string
	Prefix    string
	Region    string
	Endpoint  string
	PathStyle bool
}

// ParseURI parses a content store URI
func ParseURI(raw string) (URI, error) {
	if raw == "" {
		return URI{}, fmt.Errorf("empty storage uri")
	}
	if rest, ok := strings.CutPrefix(raw, "file://"); ok {
		if rest == "" {
			return URI{}, fmt.Errorf("storage uri %q has no path", raw)
		}
		return URI{Scheme: "file", Path: filepath.FromSlash(rest)}, nil
	}
	if !strings.Contains(raw, "://") {
		return URI{Scheme: "file", Path: raw}, nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return URI{}, fmt.Errorf("invalid storage uri: %w", err)
	}
	if u.Scheme != "s3" {
		return URI{}, fmt.Errorf("unsupported storage scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return URI{}, fmt.Errorf("storage uri %q has no bucket", raw)
	}

	q := u.Query()
	parsed := URI{
		Scheme:   "s3",
		Bucket:   u.Host,
		Prefix:   strings.Trim(u.Path, "/"),
		Region:   q.Get("region"),
		Endpoint: q.Get("endpoint"),
	}
	if v := q.Get("path_style"); v != "" {
		parsed.PathStyle, err = strconv.ParseBool(v)
		if err != nil {
			return URI{}, fmt.Errorf("invalid path_style: %w", err)
		}
	}
	return parsed, nil
}

// DefaultStagingDir returns where uploads are staged when no directory is configured.
// Local stores stage inside their root so that publishing is a link on one device.
func (u URI) DefaultStagingDir() string {
	if u.Scheme == "file" {
		return filepath.Join(u.Path, "tmp")
	}
	return filepath.Join(os.TempDir(), "simplefiles")
}

// NewContentStore builds the backend described by u
func NewContentStore(ctx context.Context, u URI, accessKey, secretKey string) (ContentStore, error) {
	switch u.Scheme {
	case "file":
		return NewLocalStore(u.Path)
	case "s3":
		client, err := NewS3Client(ctx, S3Options{
			Region:       u.Region,
			BaseEndpoint: u.Endpoint,
			AccessKey:    accessKey,
			SecretKey:    secretKey,
			UsePathStyle: u.PathStyle,
		})
		if err != nil {
			return nil, err
		}
		return NewS3Store(client, u.Bucket, u.Prefix), nil
	default:
		return nil, fmt.Errorf("unsupported storage scheme %q", u.Scheme)
	}
}
