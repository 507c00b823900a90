package cloudwriter

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeS3 struct {
	bucket, key string
	body        []byte
	calls       int
	err         error
}

func (f *fakeS3) PutObject(_ context.Context, params *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	f.bucket = aws.ToString(params.Bucket)
	f.key = aws.ToString(params.Key)
	body, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	f.body = body
	return &s3.PutObjectOutput{}, nil
}

func TestS3WriterUploadsOnClose(t *testing.T) {
	client := &fakeS3{}
	w, err := NewS3WriterFactoryWithClient(client).NewWriter("traffic-bucket", "traffic/traffic_events/data.parquet")
	require.NoError(t, err)

	_, err = w.Write([]byte("PAR1"))
	require.NoError(t, err)
	_, err = w.Write([]byte("data"))
	require.NoError(t, err)
	assert.Zero(t, client.calls)

	require.NoError(t, w.Close())
	require.NoError(t, w.Close())

	assert.Equal(t, 1, client.calls)
	assert.Equal(t, "traffic-bucket", client.bucket)
	assert.Equal(t, "traffic/traffic_events/data.parquet", client.key)
	assert.Equal(t, "PAR1data", string(client.body))

	_, err = w.Write([]byte("late"))
	assert.Error(t, err)
}

func TestS3WriterRequiresBucket(t *testing.T) {
	_, err := NewS3WriterFactoryWithClient(&fakeS3{}).NewWriter("", "key")
	assert.Error(t, err)
}

func TestS3WriterWrapsUploadError(t *testing.T) {
	uploadErr := errors.New("access denied")
	w, err := NewS3WriterFactoryWithClient(&fakeS3{err: uploadErr}).NewWriter("b", "k")
	require.NoError(t, err)

	assert.ErrorIs(t, w.Close(), uploadErr)
}
