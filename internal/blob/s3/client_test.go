package s3blob

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKey(t *testing.T) {
	tests := []struct {
		prefix string
		path   string
		want   string
	}{
		{"", "ledger/trades/2024-01-02.parquet", "ledger/trades/2024-01-02.parquet"},
		{"polyledger/prod", "ledger/x.parquet", "polyledger/prod/ledger/x.parquet"},
		{"/polyledger/", "/ledger/x.parquet", "polyledger/ledger/x.parquet"},
	}
	for _, tt := range tests {
		c := NewFromS3(nil, "bucket", tt.prefix)
		assert.Equal(t, tt.want, c.Key(tt.path))
	}
}

func TestNormaliseEndpoint(t *testing.T) {
	assert.Equal(t, "https://minio.local:9000", normaliseEndpoint("minio.local:9000", true))
	assert.Equal(t, "http://minio.local:9000", normaliseEndpoint("minio.local:9000", false))
	assert.Equal(t, "https://e2.example.com", normaliseEndpoint("https://e2.example.com", false))
}
