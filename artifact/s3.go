package artifact

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/pithecene-io/foreman/types"
)

// callTimeout bounds every individual artifact call except presigning,
// which is local.
const callTimeout = 30 * time.Second

// S3Store is the S3-backed artifact store.
type S3Store struct {
	client  *s3.Client
	presign *s3.PresignClient

	internalBucket string
	doneBucket     string
}

// Buckets names the two namespaces an S3Store operates on.
type Buckets struct {
	Internal string
	Done     string
}

// NewS3Store creates a store over the given client and bucket names.
func NewS3Store(client *s3.Client, buckets Buckets) *S3Store {
	return &S3Store{
		client:         client,
		presign:        s3.NewPresignClient(client),
		internalBucket: buckets.Internal,
		doneBucket:     buckets.Done,
	}
}

func (s *S3Store) PutBundle(ctx context.Context, runID, orderNum string, data []byte) (string, error) {
	key := BundleKey(runID, orderNum)
	if err := s.put(ctx, s.internalBucket, key, data, "application/zip"); err != nil {
		return "", wrapError("put_bundle", key, err)
	}
	return URI(s.internalBucket, key), nil
}

func (s *S3Store) ReadBundle(ctx context.Context, uri string) ([]byte, error) {
	bucket, key, err := ParseURI(uri)
	if err != nil {
		return nil, err
	}
	data, err := s.get(ctx, bucket, key)
	if err != nil {
		return nil, wrapError("read_bundle", key, err)
	}
	return data, nil
}

func (s *S3Store) PresignCallback(ctx context.Context, runID, orderNum string, expiry time.Duration) (string, error) {
	key := CallbackKey(runID, orderNum)
	req, err := s.presign.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.internalBucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(expiry))
	if err != nil {
		return "", wrapError("presign_callback", key, err)
	}
	return req.URL, nil
}

func (s *S3Store) ResultExists(ctx context.Context, runID, orderNum string) (bool, error) {
	callCtx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	key := CallbackKey(runID, orderNum)
	_, err := s.client.HeadObject(callCtx, &s3.HeadObjectInput{
		Bucket: aws.String(s.internalBucket),
		Key:    aws.String(key),
	})
	if err != nil {
		wrapped := wrapError("result_exists", key, err)
		if errors.Is(wrapped, ErrNotFound) {
			return false, nil
		}
		return false, wrapped
	}
	return true, nil
}

func (s *S3Store) ReadResult(ctx context.Context, runID, orderNum string) (*types.CallbackResult, error) {
	key := CallbackKey(runID, orderNum)
	data, err := s.get(ctx, s.internalBucket, key)
	if err != nil {
		return nil, wrapError("read_result", key, err)
	}

	var res types.CallbackResult
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("parse result %s: %w", key, err)
	}
	return &res, nil
}

func (s *S3Store) WriteResult(ctx context.Context, runID, orderNum string, res *types.CallbackResult) error {
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	key := CallbackKey(runID, orderNum)
	if err := s.put(ctx, s.internalBucket, key, data, "application/json"); err != nil {
		return wrapError("write_result", key, err)
	}
	return nil
}

func (s *S3Store) WriteStartMarker(ctx context.Context, runID string) error {
	return s.WriteResult(ctx, runID, types.StartOrderNum, &types.CallbackResult{
		Status: types.StartMarkerStatus,
	})
}

func (s *S3Store) WriteDone(ctx context.Context, runID string, marker *types.DoneMarker) error {
	data, err := json.Marshal(marker)
	if err != nil {
		return fmt.Errorf("marshal done marker: %w", err)
	}
	key := DoneKey(runID)
	if err := s.put(ctx, s.doneBucket, key, data, "application/json"); err != nil {
		return wrapError("write_done", key, err)
	}
	return nil
}

func (s *S3Store) ReadDone(ctx context.Context, runID string) (*types.DoneMarker, error) {
	key := DoneKey(runID)
	data, err := s.get(ctx, s.doneBucket, key)
	if err != nil {
		return nil, wrapError("read_done", key, err)
	}

	var marker types.DoneMarker
	if err := json.Unmarshal(data, &marker); err != nil {
		return nil, fmt.Errorf("parse done marker %s: %w", key, err)
	}
	return &marker, nil
}

func (s *S3Store) put(ctx context.Context, bucket, key string, data []byte, contentType string) error {
	callCtx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	_, err := s.client.PutObject(callCtx, &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	return err
}

func (s *S3Store) get(ctx context.Context, bucket, key string) ([]byte, error) {
	callCtx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	out, err := s.client.GetObject(callCtx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, err
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

var _ Store = (*S3Store)(nil)
