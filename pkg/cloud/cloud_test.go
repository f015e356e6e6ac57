package cloud

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/matzehuels/storagex/pkg/config"
)

func TestOpError(t *testing.T) {
	base := errors.New("boom")
	err := WrapError("dropbox", OpUpload, "f-chunk-0", base)
	if err.Error() != "dropbox: upload f-chunk-0 failed: boom" {
		t.Errorf("Error() = %q", err.Error())
	}
	if !errors.Is(err, base) {
		t.Error("OpError should unwrap to its cause")
	}
	var op *OpError
	if !errors.As(err, &op) || op.Op != OpUpload {
		t.Errorf("errors.As(*OpError) = %v", op)
	}

	quota := WrapError("s3", OpQuota, "", base)
	if quota.Error() != "s3: quota failed: boom" {
		t.Errorf("Error() = %q", quota.Error())
	}

	if WrapError("s3", OpDelete, "x", nil) != nil {
		t.Error("WrapError(nil) should be nil")
	}
}

func TestRetryableError(t *testing.T) {
	if Retryable(nil) != nil {
		t.Error("Retryable(nil) should return nil")
	}
	err := Retryable(ErrChunkNotFound)
	if !IsRetryable(err) {
		t.Error("IsRetryable should return true for wrapped error")
	}
	if !errors.Is(err, ErrChunkNotFound) {
		t.Error("Retryable should preserve the cause")
	}
	if IsRetryable(ErrChunkNotFound) {
		t.Error("plain errors are not retryable")
	}
	// Retryable survives further wrapping.
	if !IsRetryable(WrapError("x", OpUpload, "n", err)) {
		t.Error("IsRetryable should see through OpError")
	}
}

func TestRetry(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name      string
		attempts  int
		fail      int // number of leading failures
		retryable bool
		wantCalls int
		wantErr   bool
	}{
		{"success first try", 3, 0, true, 1, false},
		{"success after retries", 3, 2, true, 3, false},
		{"exhausted", 3, 5, true, 3, true},
		{"non-retryable stops", 3, 5, false, 1, true},
		{"zero attempts runs once", 0, 0, true, 1, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := Retry(ctx, tt.attempts, time.Millisecond, func() error {
				calls++
				if calls <= tt.fail {
					if tt.retryable {
						return Retryable(errors.New("transient"))
					}
					return errors.New("permanent")
				}
				return nil
			})
			if calls != tt.wantCalls {
				t.Errorf("calls = %d, want %d", calls, tt.wantCalls)
			}
			if (err != nil) != tt.wantErr {
				t.Errorf("err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRetryCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Retry(ctx, 5, time.Hour, func() error {
		calls++
		cancel()
		return Retryable(errors.New("transient"))
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestAuthConfigFromCloudConfig(t *testing.T) {
	input := config.CloudConfig{DropboxAccessTokens: []string{"token1", "", "token2"}}
	got := AuthConfigFromCloudConfig(&input)
	want := []AuthConfig{{DropboxAccessToken: "token1"}, {DropboxAccessToken: "token2"}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("AuthConfigFromCloudConfig() = %v, want %v", got, want)
	}
	if got := AuthConfigFromCloudConfig(&config.CloudConfig{}); len(got) != 0 {
		t.Errorf("empty config gave %v", got)
	}
}
