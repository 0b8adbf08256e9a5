package fetch_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/apex/log"
	"github.com/apex/log/handlers/discard"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/require"

	"github.com/robertvazan/pmdata-sub001/pkg/depcache/fetch"
)

var quiet = &log.Logger{Handler: discard.Default, Level: log.ErrorLevel}

func readAll(t *testing.T, r io.ReadCloser) string {
	t.Helper()

	defer func() { _ = r.Close() }()

	data, err := io.ReadAll(r)
	require.NoError(t, err)

	return string(data)
}

func Test_Open_Streams_Body_When_Server_Returns_OK(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "payload")
	}))
	defer srv.Close()

	f := fetch.New(fetch.WithLogger(quiet))

	r, err := f.Open(t.Context(), srv.URL+"/file.bin")
	require.NoError(t, err)
	require.Equal(t, "payload", readAll(t, r))
}

func Test_Open_Fails_With_ErrStatus_When_Server_Returns_NotFound(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	f := fetch.New(fetch.WithLogger(quiet), fetch.WithRetryMax(0))

	_, err := f.Open(t.Context(), srv.URL)
	if !errors.Is(err, fetch.ErrStatus) {
		t.Fatalf("err = %v, want ErrStatus", err)
	}
}

func Test_Open_Retries_When_Server_Fails_Transiently(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)

			return
		}

		_, _ = io.WriteString(w, "second try")
	}))
	defer srv.Close()

	f := fetch.New(fetch.WithLogger(quiet), fetch.WithRetryMax(2))

	r, err := f.Open(t.Context(), srv.URL)
	require.NoError(t, err)
	require.Equal(t, "second try", readAll(t, r))
	require.Equal(t, int32(2), calls.Load())
}

func Test_Open_Reads_Local_File_When_Scheme_Is_File(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "local.txt")
	require.NoError(t, os.WriteFile(path, []byte("local"), 0o600))

	r, err := fetch.New(fetch.WithLogger(quiet)).Open(t.Context(), "file://"+path)
	require.NoError(t, err)
	require.Equal(t, "local", readAll(t, r))
}

func Test_Open_Fails_With_ErrUnsupportedScheme_When_Scheme_Unknown(t *testing.T) {
	t.Parallel()

	_, err := fetch.New(fetch.WithLogger(quiet)).Open(t.Context(), "gopher://example.com/x")
	if !errors.Is(err, fetch.ErrUnsupportedScheme) {
		t.Fatalf("err = %v, want ErrUnsupportedScheme", err)
	}
}

type fakeS3 struct {
	bucket, key string
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.bucket = aws.ToString(in.Bucket)
	f.key = aws.ToString(in.Key)

	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader("from s3"))}, nil
}

func Test_Open_Uses_S3_Client_When_Scheme_Is_S3(t *testing.T) {
	t.Parallel()

	client := &fakeS3{}
	f := fetch.New(fetch.WithLogger(quiet), fetch.WithS3Client(client))

	r, err := f.Open(t.Context(), "s3://datasets/prices/2024.csv")
	require.NoError(t, err)
	require.Equal(t, "from s3", readAll(t, r))
	require.Equal(t, "datasets", client.bucket)
	require.Equal(t, "prices/2024.csv", client.key)
}

func Test_Open_Fails_When_S3_URI_Has_No_Key(t *testing.T) {
	t.Parallel()

	f := fetch.New(fetch.WithLogger(quiet), fetch.WithS3Client(&fakeS3{}))

	_, err := f.Open(t.Context(), "s3://datasets")
	require.Error(t, err)
}
