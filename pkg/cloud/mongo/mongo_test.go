package mongo

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/matzehuels/storagex/pkg/cloud"
	"github.com/matzehuels/storagex/pkg/cloud/cloudtest"
)

// TestConformance runs against a live server when STORAGEX_TEST_MONGO_URI
// is set.
func TestConformance(t *testing.T) {
	uri := os.Getenv("STORAGEX_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("STORAGEX_TEST_MONGO_URI not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s, err := New(ctx, Options{URI: uri, Database: "storagex_test", Bucket: "conformance"})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	defer s.Close()
	cloudtest.Run(t, s)
}

func TestDeadline(t *testing.T) {
	if !deadline(context.Background()).IsZero() {
		t.Error("background context should have no deadline")
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if deadline(ctx).IsZero() {
		t.Error("deadline not propagated")
	}
}

func TestClassify(t *testing.T) {
	if classify(nil) != nil {
		t.Error("classify(nil) should be nil")
	}
	if cloud.IsRetryable(classify(errors.New("duplicate key"))) {
		t.Error("plain errors should not be retryable")
	}
	if !cloud.IsRetryable(classify(context.DeadlineExceeded)) {
		t.Error("timeouts should be retryable")
	}
}
