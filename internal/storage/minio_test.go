package storage

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"sharelink/internal/config"
)

func validMinIOConfig() config.MinIOConfig {
	return config.MinIOConfig{
		Endpoint:      "localhost:9000",
		AccessKey:     "access",
		SecretKey:     "secret",
		Bucket:        "shares",
		Region:        "us-east-1",
		PresignExpiry: time.Hour,
	}
}

func TestNewMinIOStorage_Validation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *config.MinIOConfig)
		wantErr string
	}{
		{name: "missing endpoint", mutate: func(c *config.MinIOConfig) { c.Endpoint = "" }, wantErr: "minio endpoint is required"},
		{name: "missing access key", mutate: func(c *config.MinIOConfig) { c.AccessKey = "" }, wantErr: "minio credentials are required"},
		{name: "missing secret key", mutate: func(c *config.MinIOConfig) { c.SecretKey = "" }, wantErr: "minio credentials are required"},
		{name: "missing bucket", mutate: func(c *config.MinIOConfig) { c.Bucket = "" }, wantErr: "minio bucket is required"},
		{name: "valid", mutate: func(c *config.MinIOConfig) {}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validMinIOConfig()
			tt.mutate(&cfg)

			ms, err := newMinIOStorage(cfg, zap.NewNop())
			if tt.wantErr != "" {
				assert.EqualError(t, err, tt.wantErr)
				assert.Nil(t, ms)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "shares", ms.bucket)
		})
	}
}

func TestMinIOStorage_URL(t *testing.T) {
	ctx := context.Background()

	t.Run("public base url", func(t *testing.T) {
		cfg := validMinIOConfig()
		cfg.PublicURL = "https://cdn.example.com/"
		ms, err := newMinIOStorage(cfg, zap.NewNop())
		require.NoError(t, err)

		u, err := ms.URL(ctx, "shares/3f1c2b9e-7a4d-4c1e-9f2a-1b2c3d4e5f60/my file.txt")

		require.NoError(t, err)
		assert.Equal(t, "https://cdn.example.com/shares/shares/3f1c2b9e-7a4d-4c1e-9f2a-1b2c3d4e5f60/my%20file.txt", u)
	})

	t.Run("presigned", func(t *testing.T) {
		ms, err := newMinIOStorage(validMinIOConfig(), zap.NewNop())
		require.NoError(t, err)

		raw, err := ms.URL(ctx, "shares/a.txt")

		require.NoError(t, err)
		u, err := url.Parse(raw)
		require.NoError(t, err)
		assert.Equal(t, "localhost:9000", u.Host)
		assert.Equal(t, "/shares/shares/a.txt", u.Path)
		assert.Equal(t, "3600", u.Query().Get("X-Amz-Expires"))
		assert.NotEmpty(t, u.Query().Get("X-Amz-Signature"))
	})
}
