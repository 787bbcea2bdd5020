package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autopeer-io/obdverify/pkg/options"
)

func TestNewMinIOProvider(t *testing.T) {
	opts := options.NewS3Options()
	opts.Prefix = "bench-1/"

	p, err := NewMinIOProvider(opts)
	require.NoError(t, err)

	mp, ok := p.(*minioProvider)
	require.True(t, ok)
	assert.Equal(t, "j1939-reports", mp.bucketName)
	assert.Equal(t, "bench-1/", mp.prefix)
}
