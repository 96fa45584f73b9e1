package storage

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/habit-coach/internal/config"
)

func TestNew_Local(t *testing.T) {
	s, err := New(context.Background(), config.ArtifactsConfig{Type: "local", LocalPath: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &LocalStore{}, s)

	_, err = New(context.Background(), config.ArtifactsConfig{Type: "ftp"})
	assert.Error(t, err)
}

func TestLocalStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, s.Put(ctx, "habit_formation/v1.json", []byte(`{"v":1}`)))
	got, err := s.Get(ctx, "habit_formation/v1.json")
	require.NoError(t, err)
	assert.Equal(t, `{"v":1}`, string(got))

	require.NoError(t, s.Put(ctx, "habit_formation/v1.json", []byte(`{"v":2}`)))
	got, err = s.Get(ctx, "habit_formation/v1.json")
	require.NoError(t, err)
	assert.Equal(t, `{"v":2}`, string(got))

	require.NoError(t, s.Delete(ctx, "habit_formation/v1.json"))
	_, err = s.Get(ctx, "habit_formation/v1.json")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, s.Delete(ctx, "habit_formation/v1.json"))
}

func TestLocalStore_RejectsEscapingKeys(t *testing.T) {
	s, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)
	for _, key := range []string{"../x.json", "/etc/passwd", "", "a/../../b"} {
		assert.Error(t, s.Put(context.Background(), key, []byte("x")), key)
	}
}

type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func TestS3Store(t *testing.T) {
	ctx := context.Background()
	fake := &fakeS3{objects: map[string][]byte{}}
	s := NewS3StoreWithClient(fake, "coach-models", "models")

	require.NoError(t, s.Put(ctx, "streak_risk/v2.json", []byte("blob")))
	assert.Contains(t, fake.objects, "coach-models/models/streak_risk/v2.json")

	got, err := s.Get(ctx, "streak_risk/v2.json")
	require.NoError(t, err)
	assert.Equal(t, "blob", string(got))

	require.NoError(t, s.Delete(ctx, "streak_risk/v2.json"))
	_, err = s.Get(ctx, "streak_risk/v2.json")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestNewS3Store_RequiresBucket(t *testing.T) {
	_, err := NewS3Store(context.Background(), config.ArtifactsConfig{Type: "s3"})
	assert.Error(t, err)
}
