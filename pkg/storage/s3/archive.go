// Package s3 archives lake snapshots to an S3(-compatible) bucket.
// The lake stays the source of truth; the archive is an off-host copy
// keyed by the same content-addressed layout, so re-archiving is
// naturally idempotent.
package s3

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"golang.org/x/sync/errgroup"

	"github.com/fireflow/fireflow/pkg/config"
	"github.com/fireflow/fireflow/pkg/errors"
)

// Client wraps the AWS SDK client with archive-specific operations.
type Client struct {
	api         *s3.Client
	bucket      string
	prefix      string
	concurrency int
}

// NewClient builds a client from the archive configuration. An
// explicit endpoint switches to path-style addressing for MinIO and
// other S3-compatible stores.
func NewClient(ctx context.Context, cfg config.ArchiveConfig) (*Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeArchive, "load AWS config")
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}

	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}

	return &Client{
		api:         s3.NewFromConfig(awsCfg, s3Opts...),
		bucket:      cfg.Bucket,
		prefix:      strings.Trim(cfg.Prefix, "/"),
		concurrency: concurrency,
	}, nil
}

// Result summarizes one archive pass.
type Result struct {
	Uploaded int
	Skipped  int
	Bytes    int64
}

// Archive uploads every lake snapshot under root that the bucket does
// not already hold. Object keys mirror the lake layout below the
// configured prefix. Progress, when non-nil, is called after each
// object with (done, total); calls are serialized, so the callback
// needs no locking of its own.
func (c *Client) Archive(ctx context.Context, root string, progress func(done, total int)) (Result, error) {
	var res Result

	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(path, ".parquet") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return res, nil
		}
		return res, errors.Wrap(err, errors.CodeArchive, "walk lake root")
	}
	if len(files) == 0 {
		return res, nil
	}

	var uploaded, skipped, bytes atomic.Int64
	total := len(files)

	var progressMu sync.Mutex
	done := 0
	report := func() {
		if progress == nil {
			return
		}
		progressMu.Lock()
		done++
		progress(done, total)
		progressMu.Unlock()
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for _, path := range files {
		path := path
		g.Go(func() error {
			rel, err := filepath.Rel(root, path)
			if err != nil {
				return errors.Wrap(err, errors.CodeArchive, "relativize "+path)
			}
			key := filepath.ToSlash(rel)
			if c.prefix != "" {
				key = c.prefix + "/" + key
			}

			n, err := c.uploadIfAbsent(ctx, path, key)
			if err != nil {
				return err
			}
			if n < 0 {
				skipped.Add(1)
			} else {
				uploaded.Add(1)
				bytes.Add(n)
			}
			report()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return res, err
	}

	res.Uploaded = int(uploaded.Load())
	res.Skipped = int(skipped.Load())
	res.Bytes = bytes.Load()
	return res, nil
}

// uploadIfAbsent returns the byte count uploaded, or -1 when the
// object already exists with the same size.
func (c *Client) uploadIfAbsent(ctx context.Context, path, key string) (int64, error) {
	stat, err := os.Stat(path)
	if err != nil {
		return 0, errors.Wrap(err, errors.CodeArchive, "stat "+path)
	}

	head, err := c.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err == nil && aws.ToInt64(head.ContentLength) == stat.Size() {
		return -1, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return 0, errors.Wrap(err, errors.CodeArchive, "open "+path)
	}
	defer f.Close()

	uploadCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	_, err = c.api.PutObject(uploadCtx, &s3.PutObjectInput{
		Bucket:        aws.String(c.bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(stat.Size()),
		ContentType:   aws.String("application/vnd.apache.parquet"),
	})
	if err != nil {
		return 0, errors.Wrapf(err, errors.CodeArchive, "upload s3://%s/%s", c.bucket, key)
	}
	return stat.Size(), nil
}

// KeyFor reports the object key a lake file would archive to.
func (c *Client) KeyFor(root, path string) (string, error) {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return "", fmt.Errorf("relativize %s: %w", path, err)
	}
	key := filepath.ToSlash(rel)
	if c.prefix != "" {
		key = c.prefix + "/" + key
	}
	return key, nil
}
