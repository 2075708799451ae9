package azure

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/JoeLogavina/METENZI-B2B-sub007/internal/config"
	"github.com/JoeLogavina/METENZI-B2B-sub007/internal/storage"
)

type storedBlob struct {
	content      []byte
	metadata     map[string]string
	lastModified time.Time
}

// helper to create a test store pointed at an httptest server
func newTestStore(t *testing.T) (*Store, func()) {
	t.Helper()

	// map of path -> blob
	store := map[string]*storedBlob{}

	blobNotFound := func(w http.ResponseWriter) {
		w.Header().Set("x-ms-error-code", "BlobNotFound")
		w.WriteHeader(http.StatusNotFound)
	}

	// Simple handler imitating enough of the Azure Blob REST API for tests
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// path: /container/blob...
		p := strings.TrimPrefix(r.URL.Path, "/")

		// container creation: PUT /container?restype=container
		if r.Method == http.MethodPut && strings.Contains(r.URL.RawQuery, "restype=container") {
			w.WriteHeader(http.StatusCreated)
			return
		}

		// identify blob key as full path (container/blob...)
		key := p

		switch r.Method {
		case http.MethodPut:
			// Upload: read body and store
			data, _ := io.ReadAll(r.Body)
			// capture metadata headers x-ms-meta-*
			meta := map[string]string{}
			for k, v := range r.Header {
				lk := strings.ToLower(k)
				if strings.HasPrefix(lk, "x-ms-meta-") && len(v) > 0 {
					name := strings.TrimPrefix(lk, "x-ms-meta-")
					meta[name] = v[0]
				}
			}
			store[key] = &storedBlob{content: data, metadata: meta, lastModified: time.Now().UTC()}
			w.WriteHeader(http.StatusCreated)
			return

		case http.MethodGet:
			// Download stream
			if b, ok := store[key]; ok {
				w.Header().Set("Content-Length", fmt.Sprintf("%d", len(b.content)))
				w.WriteHeader(http.StatusOK)
				w.Write(b.content)
				return
			}
			blobNotFound(w)
			return

		case http.MethodHead:
			if b, ok := store[key]; ok {
				w.Header().Set("Content-Length", fmt.Sprintf("%d", len(b.content)))
				w.Header().Set("Last-Modified", b.lastModified.Format(time.RFC1123))
				for k, v := range b.metadata {
					w.Header().Set("x-ms-meta-"+k, v)
				}
				w.WriteHeader(http.StatusOK)
				return
			}
			blobNotFound(w)
			return

		case http.MethodDelete:
			if _, ok := store[key]; !ok {
				blobNotFound(w)
				return
			}
			delete(store, key)
			w.WriteHeader(http.StatusAccepted)
			return

		default:
			blobNotFound(w)
			return
		}
	}))

	// create a client that points to the test server
	client, err := azblob.NewClientWithNoCredential(srv.URL, nil)
	if err != nil {
		srv.Close()
		t.Fatalf("failed to create azblob client: %v", err)
	}

	s := &Store{
		client:        client,
		containerName: "container",
		accountName:   "account",
	}

	cleanup := func() { srv.Close() }
	return s, cleanup
}

func TestPutRetrieveDeleteAndExists(t *testing.T) {
	s, done := newTestStore(t)
	defer done()

	ctx := context.Background()
	data := []byte("hello azure")

	// Put
	res, err := s.Put(ctx, "container/testblob.txt", bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if res.Size != int64(len(data)) {
		t.Fatalf("unexpected size: got %d want %d", res.Size, len(data))
	}

	// Retrieve
	rc, err := s.Retrieve(ctx, "container/testblob.txt")
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	got, _ := io.ReadAll(rc)
	rc.Close()
	if !bytes.Equal(got, data) {
		t.Fatalf("retrieved content mismatch: %q", string(got))
	}

	// Exists -> should be true
	exists, err := s.Exists(ctx, "container/testblob.txt")
	if err != nil {
		t.Fatalf("Exists returned error: %v", err)
	}
	if !exists {
		t.Fatalf("Exists = false, want true")
	}

	// Delete
	if err := s.Delete(ctx, "container/testblob.txt"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	// Now should not exist
	exists, err = s.Exists(ctx, "container/testblob.txt")
	if err != nil {
		t.Fatalf("Exists after delete returned error: %v", err)
	}
	if exists {
		t.Fatalf("Exists = true after delete, want false")
	}
}

func TestRetrieve_NotFound(t *testing.T) {
	s, done := newTestStore(t)
	defer done()

	_, err := s.Retrieve(context.Background(), "container/nonexistent.txt")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("Retrieve error = %v, want ErrNotFound", err)
	}
}

func TestDelete_NonExistentBlob(t *testing.T) {
	s, done := newTestStore(t)
	defer done()

	// Deleting a blob that doesn't exist should be a no-op (no error).
	if err := s.Delete(context.Background(), "container/ghost.txt"); err != nil {
		t.Fatalf("Delete error for non-existent blob: %v (want nil)", err)
	}
}

func TestMetadata_UsesStoredChecksum(t *testing.T) {
	s, done := newTestStore(t)
	defer done()

	ctx := context.Background()
	data := []byte("content-for-metadata")

	res, err := s.Put(ctx, "container/meta.txt", bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if res.Size != int64(len(data)) {
		t.Fatalf("unexpected size: %d", res.Size)
	}

	// Metadata should return the checksum stored at upload time
	meta, err := s.Metadata(ctx, "container/meta.txt")
	if err != nil {
		t.Fatalf("Metadata failed: %v", err)
	}
	if meta.Size != int64(len(data)) {
		t.Fatalf("metadata size mismatch: %d", meta.Size)
	}
	if meta.Path != "container/meta.txt" {
		t.Fatalf("metadata path mismatch: %s", meta.Path)
	}
	if meta.Checksum != res.Checksum {
		t.Fatalf("metadata checksum %q != put checksum %q", meta.Checksum, res.Checksum)
	}
}

func TestMetadata_NotFound(t *testing.T) {
	s, done := newTestStore(t)
	defer done()

	_, err := s.Metadata(context.Background(), "container/missing.txt")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("Metadata error = %v, want ErrNotFound", err)
	}
}

func TestEnsureContainer_NoError(t *testing.T) {
	s, done := newTestStore(t)
	defer done()

	if err := s.EnsureContainer(context.Background()); err != nil {
		t.Fatalf("EnsureContainer failed: %v", err)
	}
}

// ---------------------------------------------------------------------------
// New() — constructor validation (no cloud connection required)
// ---------------------------------------------------------------------------

func TestNew_MissingAccountName(t *testing.T) {
	cfg := &config.AzureStorageConfig{
		AccountName:   "",
		AccountKey:    "somekey",
		ContainerName: "container",
	}
	_, err := New(cfg)
	if err == nil {
		t.Error("New() = nil error, want error for missing account name")
	}
}

func TestNew_MissingAccountKey(t *testing.T) {
	cfg := &config.AzureStorageConfig{
		AccountName:   "myaccount",
		AccountKey:    "",
		ContainerName: "container",
	}
	_, err := New(cfg)
	if err == nil {
		t.Error("New() = nil error, want error for missing account key")
	}
}

func TestNew_MissingContainerName(t *testing.T) {
	cfg := &config.AzureStorageConfig{
		AccountName:   "myaccount",
		AccountKey:    "mykey",
		ContainerName: "",
	}
	_, err := New(cfg)
	if err == nil {
		t.Error("New() = nil error, want error for missing container name")
	}
}
