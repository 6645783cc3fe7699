package blob

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/require"
)

func TestAudioKey(t *testing.T) {
	now := time.UnixMilli(1700000000123)
	require.Equal(t, "audio/u-1/1700000000123-voice.webm", AudioKey("u-1", "voice.webm", now))
	require.Equal(t, "audio/u_2/1700000000123-passwd", AudioKey("u/2", "../../etc/passwd", now))
	require.Equal(t, "audio/u/1700000000123-my_note_.m4a", AudioKey("u", "C:\\tmp\\my note!.m4a", now))
	require.Equal(t, "audio/u/1700000000123-recording", AudioKey("u", "", now))
}

func TestLocalStore_Put(t *testing.T) {
	dir := t.TempDir()
	s, err := NewLocalStore(dir, "/media/")
	require.NoError(t, err)

	url, err := s.Put(context.Background(), "audio/u/1-a.webm", "audio/webm", strings.NewReader("RIFF"), 4)
	require.NoError(t, err)
	require.Equal(t, "/media/audio/u/1-a.webm", url)

	b, err := os.ReadFile(filepath.Join(dir, "audio", "u", "1-a.webm"))
	require.NoError(t, err)
	require.Equal(t, "RIFF", string(b))
}

func TestLocalStore_RejectsEscapingKeys(t *testing.T) {
	s, err := NewLocalStore(t.TempDir(), "")
	require.NoError(t, err)
	for _, key := range []string{"../x", "/abs", ".", ""} {
		_, err := s.Put(context.Background(), key, "", strings.NewReader("x"), 1)
		require.Error(t, err, key)
	}
}

func TestLocalStore_CancelledContext(t *testing.T) {
	s, err := NewLocalStore(t.TempDir(), "")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Put(ctx, "audio/u/x", "", strings.NewReader("data"), 4)
	require.ErrorIs(t, err, context.Canceled)
}

type fakeS3 struct {
	in   *s3.PutObjectInput
	body string
	err  error
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.in = in
	b, _ := io.ReadAll(in.Body)
	f.body = string(b)
	return &s3.PutObjectOutput{}, f.err
}

func TestS3Store_Put(t *testing.T) {
	fake := &fakeS3{}
	s := &S3Store{client: fake, bucket: "journal", baseURL: "http://minio:9000/journal"}

	url, err := s.Put(context.Background(), "audio/u/1-a.webm", "audio/webm", io.MultiReader(strings.NewReader("ab"), strings.NewReader("cd")), 0)
	require.NoError(t, err)
	require.Equal(t, "http://minio:9000/journal/audio/u/1-a.webm", url)
	require.Equal(t, "journal", aws.ToString(fake.in.Bucket))
	require.Equal(t, "audio/u/1-a.webm", aws.ToString(fake.in.Key))
	require.Equal(t, "audio/webm", aws.ToString(fake.in.ContentType))
	require.Equal(t, int64(4), aws.ToInt64(fake.in.ContentLength))
	require.Equal(t, "abcd", fake.body)

	fake.err = errors.New("access denied")
	_, err = s.Put(context.Background(), "k", "", strings.NewReader("x"), 1)
	require.ErrorContains(t, err, "access denied")
}

func TestNewS3Store(t *testing.T) {
	_, err := NewS3Store(context.Background(), S3Config{})
	require.Error(t, err)

	var gotOpts config.LoadOptions
	orig := loadDefaultAWSConfig
	t.Cleanup(func() { loadDefaultAWSConfig = orig })
	loadDefaultAWSConfig = func(ctx context.Context, optFns ...func(*config.LoadOptions) error) (aws.Config, error) {
		for _, fn := range optFns {
			_ = fn(&gotOpts)
		}
		return aws.Config{Region: gotOpts.Region}, nil
	}

	s, err := NewS3Store(context.Background(), S3Config{
		Bucket: "journal", Endpoint: "http://minio:9000", AccessKey: "ak", SecretKey: "sk",
	})
	require.NoError(t, err)
	require.Equal(t, "us-east-1", gotOpts.Region)
	require.NotNil(t, gotOpts.Credentials)
	require.Equal(t, "http://minio:9000/journal", s.baseURL)

	s, err = NewS3Store(context.Background(), S3Config{Bucket: "b", Region: "eu-west-1", PublicBaseURL: "https://cdn.example.com"})
	require.NoError(t, err)
	require.Equal(t, "https://cdn.example.com", s.baseURL)

	s, err = NewS3Store(context.Background(), S3Config{Bucket: "b", Region: "eu-west-1"})
	require.NoError(t, err)
	require.Equal(t, "https://b.s3.eu-west-1.amazonaws.com", s.baseURL)

	loadDefaultAWSConfig = func(context.Context, ...func(*config.LoadOptions) error) (aws.Config, error) {
		return aws.Config{}, errors.New("boom")
	}
	_, err = NewS3Store(context.Background(), S3Config{Bucket: "b"})
	require.ErrorContains(t, err, "boom")
}
