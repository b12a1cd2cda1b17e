package s3client

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/johannesboyne/gofakes3"
	"github.com/johannesboyne/gofakes3/backend/s3mem"
)

// TestClient returns a Client for a fresh bucket on an in-memory gofakes3
// server. The server stops when the test ends.
func TestClient(t testing.TB, bucketName string) *Client {
	t.Helper()

	ts := httptest.NewServer(gofakes3.New(s3mem.New()).Server())
	t.Cleanup(ts.Close)

	ctx := context.Background()
	c, err := New(ctx, Config{
		Endpoint:        ts.URL,
		Region:          "us-east-1",
		AccessKeyID:     "test-key",
		SecretAccessKey: "test-secret",
		BucketName:      bucketName,
		PublicURL:       ts.URL + "/" + bucketName,
		UsePathStyle:    true,
	})
	if err != nil {
		t.Fatalf("s3client: %v", err)
	}
	if _, err := c.s3Client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(bucketName)}); err != nil {
		t.Fatalf("create bucket %s: %v", bucketName, err)
	}
	return c
}
