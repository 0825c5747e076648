package s3

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"

	"github.com/fireflow/fireflow/pkg/config"
)

// fakeBucket is a minimal S3-compatible endpoint: HEAD answers from an
// in-memory object map, PUT stores into it.
type fakeBucket struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeBucket() *fakeBucket {
	return &fakeBucket{objects: map[string][]byte{}}
}

func (b *fakeBucket) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Path
	switch r.Method {
	case http.MethodHead:
		b.mu.Lock()
		body, ok := b.objects[key]
		b.mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Length", strconv.Itoa(len(body)))
		w.WriteHeader(http.StatusOK)
	case http.MethodPut:
		body, err := io.ReadAll(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		b.mu.Lock()
		b.objects[key] = body
		b.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func testClient(t *testing.T, bucket *fakeBucket) *Client {
	t.Helper()
	srv := httptest.NewServer(bucket)
	t.Cleanup(srv.Close)

	c, err := NewClient(context.Background(), config.ArchiveConfig{
		Bucket:          "lake-archive",
		Prefix:          "fireflow",
		Region:          "us-east-1",
		Endpoint:        srv.URL,
		AccessKeyID:     "test",
		SecretAccessKey: "test",
	})
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func seedLake(t *testing.T, root string) int64 {
	t.Helper()
	var total int64
	snapshots := map[string]string{
		"calls/ingest_date=2024-04-02/sha256=aaa/data.parquet":     "calls-bytes",
		"calls/ingest_date=2024-04-03/sha256=bbb/data.parquet":     "more-calls",
		"incidents/ingest_date=2024-04-02/sha256=ccc/data.parquet": "incident-bytes",
	}
	for rel, content := range snapshots {
		path := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
		total += int64(len(content))
	}
	// non-parquet files never leave the host
	if err := os.WriteFile(filepath.Join(root, "notes.txt"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	return total
}

func TestArchiveUploadsAndReportsProgress(t *testing.T) {
	root := t.TempDir()
	wantBytes := seedLake(t, root)
	bucket := newFakeBucket()
	c := testClient(t, bucket)

	// the serialized progress contract means no locking here
	var dones []int
	var totals []int
	res, err := c.Archive(context.Background(), root, func(done, total int) {
		dones = append(dones, done)
		totals = append(totals, total)
	})
	if err != nil {
		t.Fatal(err)
	}

	if res.Uploaded != 3 || res.Skipped != 0 {
		t.Errorf("uploaded=%d skipped=%d, want 3/0", res.Uploaded, res.Skipped)
	}
	if res.Bytes != wantBytes {
		t.Errorf("bytes=%d, want %d", res.Bytes, wantBytes)
	}
	if len(dones) != 3 {
		t.Fatalf("progress called %d times, want 3", len(dones))
	}
	for i, d := range dones {
		if d != i+1 {
			t.Errorf("progress done[%d]=%d, want %d", i, d, i+1)
		}
		if totals[i] != 3 {
			t.Errorf("progress total[%d]=%d, want 3", i, totals[i])
		}
	}

	wantKey := "/lake-archive/fireflow/calls/ingest_date=2024-04-02/sha256=aaa/data.parquet"
	bucket.mu.Lock()
	body, ok := bucket.objects[wantKey]
	bucket.mu.Unlock()
	if !ok {
		t.Fatalf("object %s not stored", wantKey)
	}
	if string(body) != "calls-bytes" {
		t.Errorf("stored body = %q", body)
	}
}

func TestArchiveSkipsAlreadyArchivedObjects(t *testing.T) {
	root := t.TempDir()
	seedLake(t, root)
	bucket := newFakeBucket()
	c := testClient(t, bucket)
	ctx := context.Background()

	if _, err := c.Archive(ctx, root, nil); err != nil {
		t.Fatal(err)
	}
	res, err := c.Archive(ctx, root, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Uploaded != 0 || res.Skipped != 3 || res.Bytes != 0 {
		t.Errorf("re-archive uploaded=%d skipped=%d bytes=%d, want 0/3/0",
			res.Uploaded, res.Skipped, res.Bytes)
	}
}

func TestArchiveMissingRootIsNoOp(t *testing.T) {
	bucket := newFakeBucket()
	c := testClient(t, bucket)

	res, err := c.Archive(context.Background(), filepath.Join(t.TempDir(), "absent"), nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Uploaded != 0 || res.Skipped != 0 {
		t.Errorf("missing root: %+v, want zero result", res)
	}
}
