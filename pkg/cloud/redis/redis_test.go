package redis

import (
	"context"
	"errors"
	"net"
	"os"
	"testing"

	"github.com/matzehuels/storagex/pkg/cloud"
	"github.com/matzehuels/storagex/pkg/cloud/cloudtest"
)

// TestConformance runs against a live server when STORAGEX_TEST_REDIS_ADDR
// is set.
func TestConformance(t *testing.T) {
	addr := os.Getenv("STORAGEX_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("STORAGEX_TEST_REDIS_ADDR not set")
	}
	s, err := New(context.Background(), Options{Addr: addr, Prefix: "storagex:test:"})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	defer s.Close()
	cloudtest.Run(t, s)
}

func TestFreeFromInfo(t *testing.T) {
	tests := []struct {
		name    string
		info    string
		want    int64
		wantErr bool
	}{
		{
			name: "unlimited",
			info: "# Memory\r\nused_memory:1024\r\nused_memory_human:1.00K\r\nmaxmemory:0\r\n",
			want: cloud.Unlimited,
		},
		{
			name: "bounded",
			info: "# Memory\r\nused_memory:1000\r\nmaxmemory:4096\r\n",
			want: 3096,
		},
		{
			name: "over limit clamps to zero",
			info: "used_memory:5000\nmaxmemory:4096\n",
			want: 0,
		},
		{
			name:    "missing used_memory",
			info:    "maxmemory:10\n",
			wantErr: true,
		},
		{
			name:    "garbage value",
			info:    "used_memory:lots\n",
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := freeFromInfo(tt.info)
			if (err != nil) != tt.wantErr {
				t.Fatalf("freeFromInfo() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("freeFromInfo() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	if classify(nil) != nil {
		t.Error("classify(nil) should be nil")
	}
	netErr := &net.OpError{Op: "dial", Err: errors.New("connection refused")}
	if !cloud.IsRetryable(classify(netErr)) {
		t.Error("network errors should be retryable")
	}
	if cloud.IsRetryable(classify(errors.New("WRONGTYPE"))) {
		t.Error("server errors should not be retryable")
	}
}

func TestIDIncludesNamespace(t *testing.T) {
	s := &Storage{opts: Options{Addr: "cache:6379", DB: 2, Prefix: "storagex:chunk:"}}
	if got, want := s.ID(), "redis:cache:6379/2/storagex:chunk"; got != want {
		t.Errorf("ID() = %q, want %q", got, want)
	}
}
