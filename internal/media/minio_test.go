package media

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/minio/minio-go/v7"

	"github.com/tbourn/lifelog-publisher/internal/failure"
)

// fakeS3 accepts bucket HEAD, object PUT and object DELETE.
type fakeS3 struct {
	mu      sync.Mutex
	puts    []string
	deletes []string
}

func (s *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case r.Method == http.MethodHead:
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodPut:
		_, _ = io.Copy(io.Discard, r.Body)
		s.puts = append(s.puts, r.URL.Path)
		w.Header().Set("ETag", `"d41d8cd98f00b204e9800998ecf8427e"`)
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodDelete:
		s.deletes = append(s.deletes, r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusNotImplemented)
	}
}

func TestMinio_UploadPublicURLAndDelete(t *testing.T) {
	fake := &fakeS3{}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	m, err := NewMinio(context.Background(), MinioConfig{
		Endpoint:      strings.TrimPrefix(srv.URL, "http://"),
		AccessKey:     "ak",
		SecretKey:     "sk",
		Bucket:        "media",
		Region:        "us-east-1",
		PublicBaseURL: "https://cdn.example.com/",
		Prefix:        "/windows/",
	})
	if err != nil {
		t.Fatalf("NewMinio: %v", err)
	}

	f, _ := inspect(writeJPEG(t))
	ref, err := m.Upload(context.Background(), f, UploadMeta{WindowID: "w1", MessageID: "m1"})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if !strings.HasPrefix(ref.DeleteToken, "windows/w1/") || !strings.HasSuffix(ref.DeleteToken, ".jpg") {
		t.Fatalf("unexpected key: %q", ref.DeleteToken)
	}
	if ref.URL != "https://cdn.example.com/media/"+ref.DeleteToken {
		t.Fatalf("unexpected url: %q", ref.URL)
	}
	if len(fake.puts) != 1 || fake.puts[0] != "/media/"+ref.DeleteToken {
		t.Fatalf("unexpected PUTs: %v", fake.puts)
	}

	if err := m.Delete(context.Background(), ref.DeleteToken); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if len(fake.deletes) != 1 {
		t.Fatalf("expected one DELETE, got %v", fake.deletes)
	}
}

func TestNewMinio_RequiresEndpointAndBucket(t *testing.T) {
	if m, err := NewMinio(context.Background(), MinioConfig{Bucket: "b"}); err == nil || m != nil {
		t.Fatalf("expected error without endpoint")
	}
}

func TestObjectKeyAndPublicURL(t *testing.T) {
	if got := objectKey("windows", "w1", "a.jpg"); got != "windows/w1/a.jpg" {
		t.Fatalf("objectKey = %q", got)
	}
	if got := objectKey("", "", "a.jpg"); got != "unassigned/a.jpg" {
		t.Fatalf("objectKey without prefix = %q", got)
	}
	if got := publicURL("https://cdn", "b", "k/x.png"); got != "https://cdn/b/k/x.png" {
		t.Fatalf("publicURL = %q", got)
	}
}

func TestClassifyMinio(t *testing.T) {
	rejected := classifyMinio("op", minio.ErrorResponse{StatusCode: http.StatusForbidden, Code: "AccessDenied"})
	if failure.KindOf(rejected) != failure.RejectedByProvider {
		t.Fatalf("403 should be rejected, got %v", rejected)
	}
	transient := classifyMinio("op", errors.New("dial tcp: refused"))
	if failure.KindOf(transient) != failure.TransientExternal {
		t.Fatalf("network error should be transient, got %v", transient)
	}
}
