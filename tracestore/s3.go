package tracestore

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"nutripilot/calibration"
)

// S3VerifiedReader reads verified trace records from a JSON object in S3.
// It is read-only: trace writes happen locally and the export to S3 is
// handled out of band. It satisfies calibration.TraceReader.
type S3VerifiedReader struct {
	bucket string
	key    string
	s3     *s3.Client
}

func NewS3VerifiedReader(s3Client *s3.Client, bucket, key string) *S3VerifiedReader {
	return &S3VerifiedReader{
		bucket: bucket,
		key:    key,
		s3:     s3Client,
	}
}

func (r *S3VerifiedReader) FetchVerified(ctx context.Context, userID string, limit int) ([]calibration.VerifiedRecord, error) {
	resp, err := r.s3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(r.key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get trace object from S3: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read trace object: %w", err)
	}

	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to parse trace object: %w", err)
	}
	return selectVerified(records, userID, limit), nil
}
