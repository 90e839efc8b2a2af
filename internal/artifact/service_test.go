package artifact

import (
	"bytes"
	"context"
	"os"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateUploadRejectsBadExtension(t *testing.T) {
	err := ValidateUpload("payload.exe", 2<<20)
	assert.Error(t, err)
}

func TestValidateUploadRejectsOutOfRangeSize(t *testing.T) {
	assert.Error(t, ValidateUpload("app.apk", 100))
	assert.Error(t, ValidateUpload("app.apk", 600<<20))
	assert.NoError(t, ValidateUpload("app.apk", 2<<20))
}

func TestUploadDownloadRoundTripsThroughCache(t *testing.T) {
	dir, err := os.MkdirTemp("", "artifact-test")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	fbs, err := NewFileBlobstore(dir)
	require.NoError(t, err)

	svc := NewService(fbs, logrus.New())
	defer svc.Stop()

	ctx := context.Background()
	payload := bytes.Repeat([]byte("a"), 2<<20)

	_, checksum, err := svc.Upload(ctx, "v1", bytes.NewReader(payload))
	require.NoError(t, err)
	assert.NotEmpty(t, checksum)

	res, err := svc.Download(ctx, "v1")
	require.NoError(t, err)
	assert.True(t, res.CacheHit)
	assert.Equal(t, checksum, res.SHA256)
}
