package pool

import "testing"

func TestGet_SizeBuckets(t *testing.T) {
	tests := []struct {
		name        string
		requestSize int
		expectCap   int
	}{
		{"4KB bucket - exact", 4 * 1024, 4 * 1024},
		{"16KB bucket - smaller", 10 * 1024, 16 * 1024},
		{"64KB bucket - exact", 64 * 1024, 64 * 1024},
		{"256KB bucket - smaller", 200 * 1024, 256 * 1024},
		{"1MB bucket - exact", 1024 * 1024, 1024 * 1024},
		{"over 1MB - unpooled", 2 * 1024 * 1024, 2 * 1024 * 1024},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := Get(tt.requestSize)
			if len(buf) != tt.requestSize {
				t.Errorf("Get(%d) returned len=%d, want %d", tt.requestSize, len(buf), tt.requestSize)
			}
			if cap(buf) != tt.expectCap {
				t.Errorf("Get(%d) returned cap=%d, want %d", tt.requestSize, cap(buf), tt.expectCap)
			}
			Put(buf)
		})
	}
}

func TestPut_NonBucketCap(t *testing.T) {
	buf := make([]byte, 100*1024)
	// Must not panic even though 100KB matches no bucket.
	Put(buf)
}
