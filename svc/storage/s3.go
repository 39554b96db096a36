package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"bitbin/metrics"
	"bitbin/pkg/codec"
	"bitbin/pkg/domain"
	"bitbin/pkg/record"
	"bitbin/svc/util"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

const (
	S3ID = "s3"
	// headerPrefix is enough for any record header written in practice.
	headerPrefix = 64 * 1024
)

type S3Config struct {
	Endpoint  string
	Region    string
	Bucket    string
	Prefix    string
	AccessKey string
	SecretKey string
	PathStyle bool
}

type S3 struct {
	client *s3.Client
	bucket string
	prefix string

	initMu sync.Mutex
}

func NewS3(ctx context.Context, c S3Config) (*S3, error) {
	if c.Bucket == "" {
		return nil, errors.New("s3 bucket is required")
	}
	opts := []func(*config.LoadOptions) error{}
	if c.Region != "" {
		opts = append(opts, config.WithRegion(c.Region))
	}
	if c.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(c.AccessKey, c.SecretKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "load aws config")
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if c.Endpoint != "" {
			o.BaseEndpoint = aws.String(c.Endpoint)
		}
		o.UsePathStyle = c.PathStyle
	})
	return NewS3WithClient(client, c.Bucket, c.Prefix), nil
}

func NewS3WithClient(client *s3.Client, bucket, prefix string) *S3 {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &S3{client: client, bucket: bucket, prefix: prefix}
}

func (s *S3) ID() string { return S3ID }

func (s *S3) objectKey(key string) string { return s.prefix + key }

// Init checks the bucket on every call and recreates it if it has gone.
func (s *S3) Init(ctx context.Context) error {
	s.initMu.Lock()
	defer s.initMu.Unlock()
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	if err != nil {
		if _, createErr := s.client.CreateBucket(ctx, &s3.CreateBucketInput{
			Bucket: aws.String(s.bucket),
		}); createErr != nil && !isAPIError(createErr, "BucketAlreadyOwnedByYou") {
			return errors.Wrapf(createErr, "bucket %s does not exist and cannot be created", s.bucket)
		}
		util.Info().Str("bucket", s.bucket).Msg("created s3 bucket")
	}
	return nil
}

func (s *S3) Save(ctx context.Context, c *domain.Content) error {
	if c == nil {
		return errors.Wrap(domain.ErrInvalidRecord, "nil content")
	}
	if !util.ValidKey(c.Key) {
		return errors.Wrapf(domain.ErrInvalidRecord, "key %q", c.Key)
	}
	if err := s.Init(ctx); err != nil {
		return err
	}
	buf, err := record.Encode(c)
	if err != nil {
		return err
	}
	exists, err := s.exists(ctx, c.Key)
	if err != nil {
		return err
	}
	if exists {
		return errors.Wrapf(domain.ErrKeyConflict, "key %s", c.Key)
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.objectKey(c.Key)),
		Body:          bytes.NewReader(buf),
		ContentLength: aws.Int64(int64(len(buf))),
		ContentType:   aws.String("application/octet-stream"),
		IfNoneMatch:   aws.String("*"),
	})
	if err != nil {
		if isAPIError(err, "PreconditionFailed", "ConditionalRequestConflict") {
			return errors.Wrapf(domain.ErrKeyConflict, "key %s", c.Key)
		}
		return errors.Wrapf(err, "put object %s", c.Key)
	}
	return nil
}

func (s *S3) exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, errors.Wrapf(err, "head object %s", key)
}

func (s *S3) Get(ctx context.Context, key string, skipContent bool) (*domain.Content, error) {
	if !util.ValidKey(key) {
		return nil, domain.ErrContentNotFound
	}
	if skipContent {
		buf, err := s.fetch(ctx, key, fmt.Sprintf("bytes=0-%d", headerPrefix-1))
		if err != nil {
			return nil, err
		}
		c, err := record.Decode(buf, true)
		if err == nil {
			c.BackendID = S3ID
			return c, nil
		}
		if !errors.Is(err, codec.ErrShortBuffer) || len(buf) < headerPrefix {
			return nil, errors.Wrapf(err, "decode record %s", key)
		}
	}
	buf, err := s.fetch(ctx, key, "")
	if err != nil {
		return nil, err
	}
	c, err := record.Decode(buf, skipContent)
	if err != nil {
		return nil, errors.Wrapf(err, "decode record %s", key)
	}
	c.BackendID = S3ID
	return c, nil
}

func (s *S3) fetch(ctx context.Context, key, byteRange string) ([]byte, error) {
	in := &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	}
	if byteRange != "" {
		in.Range = aws.String(byteRange)
	}
	out, err := s.client.GetObject(ctx, in)
	if err != nil {
		if isNotFound(err) {
			return nil, domain.ErrContentNotFound
		}
		return nil, errors.Wrapf(err, "get object %s", key)
	}
	defer out.Body.Close()
	buf, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, errors.Wrapf(err, "read object %s", key)
	}
	return buf, nil
}

func (s *S3) ListAll(ctx context.Context) ([]*domain.Content, error) {
	var keys []string
	p := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.prefix),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			if isAPIError(err, "NoSuchBucket") {
				return []*domain.Content{}, nil
			}
			return nil, errors.Wrap(err, "list objects")
		}
		for _, obj := range page.Contents {
			key := strings.TrimPrefix(aws.ToString(obj.Key), s.prefix)
			if key == "" || strings.HasPrefix(key, ".") || strings.Contains(key, "/") {
				continue
			}
			keys = append(keys, key)
		}
	}
	items := make([]*domain.Content, len(keys))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(listConcurrency)
	for i, key := range keys {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			c, err := s.Get(gctx, key, true)
			if err != nil {
				metrics.ListSkipped.WithLabelValues(S3ID).Inc()
				util.Warn().Err(err).Str("key", key).Msg("skipping unreadable record")
				return nil
			}
			items[i] = c
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return sortByKey(items), nil
}

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var re interface{ HTTPStatusCode() int }
	if errors.As(err, &re) && re.HTTPStatusCode() == http.StatusNotFound {
		return true
	}
	return isAPIError(err, "NoSuchKey", "NotFound")
}

func isAPIError(err error, codes ...string) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	for _, code := range codes {
		if apiErr.ErrorCode() == code {
			return true
		}
	}
	return false
}
