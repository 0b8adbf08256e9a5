package fetch

import (
	"context"
	"errors"
	"testing"

	"github.com/apex/log"
	"github.com/apex/log/handlers/discard"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
)

func Test_S3Client_Retries_Config_Load_When_First_Load_Cancelled(t *testing.T) {
	t.Parallel()

	f := New(WithLogger(&log.Logger{Handler: discard.Default}), WithRegion("eu-west-1"))

	loads := 0
	f.loadConfig = func(ctx context.Context, _ ...func(*config.LoadOptions) error) (aws.Config, error) {
		loads++

		if err := ctx.Err(); err != nil {
			return aws.Config{}, err
		}

		return aws.Config{Region: "eu-west-1"}, nil
	}

	cancelled, cancel := context.WithCancel(t.Context())
	cancel()

	_, err := f.s3Client(cancelled)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}

	client, err := f.s3Client(t.Context())
	if err != nil {
		t.Fatalf("second load failed: %v", err)
	}

	if client == nil {
		t.Fatal("client is nil")
	}

	again, err := f.s3Client(t.Context())
	if err != nil || again != client {
		t.Fatalf("third call = %v, %v; want the cached client", again, err)
	}

	if loads != 2 {
		t.Fatalf("loads = %d, want 2", loads)
	}
}
