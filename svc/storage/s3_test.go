package storage

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// fakeBucket answers HeadBucket and CreateBucket for a single bucket.
type fakeBucket struct {
	mu      sync.Mutex
	exists  bool
	heads   int
	creates int
}

func (f *fakeBucket) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r.URL.Path != "/bitbin" && r.URL.Path != "/bitbin/" {
		w.WriteHeader(http.StatusNotImplemented)
		return
	}
	switch r.Method {
	case http.MethodHead:
		f.heads++
		if !f.exists {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	case http.MethodPut:
		f.creates++
		f.exists = true
		w.WriteHeader(http.StatusOK)
	default:
		w.WriteHeader(http.StatusNotImplemented)
	}
}

func TestS3InitChecksBucketEveryCall(t *testing.T) {
	fake := &fakeBucket{exists: true}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	b, err := NewS3(context.Background(), S3Config{
		Endpoint:  srv.URL,
		Region:    "us-east-1",
		Bucket:    "bitbin",
		AccessKey: "test",
		SecretKey: "test",
		PathStyle: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if err := b.Init(ctx); err != nil {
		t.Fatalf("first Init: %v", err)
	}

	fake.mu.Lock()
	fake.exists = false
	fake.mu.Unlock()
	if err := b.Init(ctx); err != nil {
		t.Fatalf("second Init: %v", err)
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()
	if fake.heads != 2 {
		t.Errorf("HeadBucket calls = %d, want 2", fake.heads)
	}
	if fake.creates != 1 || !fake.exists {
		t.Errorf("bucket removed behind our back was not recreated (creates = %d)", fake.creates)
	}
}
