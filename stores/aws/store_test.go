package aws

import (
	"context"
	"encoding/xml"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"bedtime-sketch/core"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

const testBucket = "stories"

type fakeObject struct {
	body     []byte
	meta     http.Header
	modified time.Time
}

// fakeS3 serves the handful of path-style S3 calls the store makes.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string]fakeObject
}

type listResult struct {
	XMLName     xml.Name      `xml:"ListBucketResult"`
	Name        string        `xml:"Name"`
	Prefix      string        `xml:"Prefix"`
	KeyCount    int           `xml:"KeyCount"`
	IsTruncated bool          `xml:"IsTruncated"`
	Contents    []listContent `xml:"Contents"`
}

type listContent struct {
	Key          string `xml:"Key"`
	Size         int    `xml:"Size"`
	LastModified string `xml:"LastModified"`
}

func (f *fakeS3) keys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var keys []string
	for k := range f.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := strings.TrimPrefix(strings.TrimPrefix(r.URL.Path, "/"+testBucket), "/")

	if key == "" && r.Method == http.MethodGet && r.URL.Query().Get("list-type") == "2" {
		prefix := r.URL.Query().Get("prefix")
		res := listResult{Name: testBucket, Prefix: prefix}
		var keys []string
		for k := range f.objects {
			if strings.HasPrefix(k, prefix) {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)
		for _, k := range keys {
			obj := f.objects[k]
			res.Contents = append(res.Contents, listContent{
				Key:          k,
				Size:         len(obj.body),
				LastModified: obj.modified.UTC().Format("2006-01-02T15:04:05.000Z"),
			})
		}
		res.KeyCount = len(res.Contents)
		w.Header().Set("Content-Type", "application/xml")
		xml.NewEncoder(w).Encode(res)
		return
	}

	switch r.Method {
	case http.MethodPut:
		body, _ := io.ReadAll(r.Body)
		meta := http.Header{}
		for k, v := range r.Header {
			if strings.HasPrefix(strings.ToLower(k), "x-amz-meta-") {
				meta[k] = v
			}
		}
		f.objects[key] = fakeObject{body: body, meta: meta, modified: time.Now()}
		w.WriteHeader(http.StatusOK)

	case http.MethodGet, http.MethodHead:
		obj, ok := f.objects[key]
		if !ok {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			if r.Method == http.MethodGet {
				io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>The specified key does not exist.</Message></Error>`)
			}
			return
		}
		for k, v := range obj.meta {
			w.Header()[k] = v
		}
		w.Header().Set("Content-Type", audioContentType)
		w.Header().Set("Content-Length", strconv.Itoa(len(obj.body)))
		w.Header().Set("Last-Modified", obj.modified.UTC().Format(http.TimeFormat))
		w.WriteHeader(http.StatusOK)
		if r.Method == http.MethodGet {
			w.Write(obj.body)
		}

	case http.MethodDelete:
		delete(f.objects, key)
		w.WriteHeader(http.StatusNoContent)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func setupStore(t *testing.T) (*s3Store, *fakeS3) {
	t.Helper()
	fake := &fakeS3{objects: make(map[string]fakeObject)}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	client := s3.New(s3.Options{
		Region:       "us-east-1",
		BaseEndpoint: aws.String(srv.URL),
		UsePathStyle: true,
		Credentials:  aws.AnonymousCredentials{},
	})
	return NewStoreWithClient(client, testBucket), fake
}

func newStory(sessionID, id, audio string) *core.Story {
	return &core.Story{
		ID:        id,
		SessionID: sessionID,
		Theme:     core.ThemeLatte,
		Audio:     []byte(audio),
	}
}

func TestSave_Get(t *testing.T) {
	store, fake := setupStore(t)
	ctx := context.Background()

	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	story := newStory("s1", "a", "RIFF")
	story.CreatedAt = created
	if err := store.Save(ctx, story); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}
	if keys := fake.keys(); len(keys) != 1 || keys[0] != "s1/a.wav" {
		t.Fatalf("object not stored under the session prefix: %v", keys)
	}

	got, err := store.Get(ctx, "s1", "a")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if string(got.Audio) != "RIFF" || got.Size != 4 {
		t.Errorf("story mismatch: audio %q size %d", got.Audio, got.Size)
	}
	if got.Theme != core.ThemeLatte {
		t.Errorf("Theme mismatch: got %q", got.Theme)
	}
	if !got.CreatedAt.Equal(created) {
		t.Errorf("CreatedAt mismatch: got %v, want %v", got.CreatedAt, created)
	}
	if got.ID != "a" || got.SessionID != "s1" {
		t.Errorf("ids mismatch: got %s/%s", got.SessionID, got.ID)
	}
}

func TestGet_NotFound(t *testing.T) {
	store, _ := setupStore(t)
	if _, err := store.Get(context.Background(), "s1", "missing"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestInvalidKeys(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()

	for _, id := range []string{"../escape", "a/b", "..", ""} {
		if _, err := store.Get(ctx, "s1", id); !errors.Is(err, core.ErrUserInput) {
			t.Errorf("Get(%q) error mismatch: got %v", id, err)
		}
	}
}

func TestList(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()

	for i, id := range []string{"first", "second"} {
		s := newStory("s1", id, "audio")
		s.CreatedAt = time.Date(2024, 1, 1, i, 0, 0, 0, time.UTC)
		if err := store.Save(ctx, s); err != nil {
			t.Fatalf("Save() failed: %v", err)
		}
	}
	if err := store.Save(ctx, newStory("s2", "other", "x")); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}

	stories, err := store.List(ctx, "s1")
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	if len(stories) != 2 {
		t.Fatalf("List() count mismatch: got %d, want 2", len(stories))
	}
	if stories[0].ID != "first" || stories[1].ID != "second" {
		t.Errorf("order mismatch: got %s, %s", stories[0].ID, stories[1].ID)
	}
	for _, s := range stories {
		if s.Audio != nil {
			t.Errorf("story %s carries audio in list view", s.ID)
		}
		if s.Size != 5 {
			t.Errorf("Size mismatch: got %d, want 5", s.Size)
		}
		if s.Theme != core.ThemeLatte {
			t.Errorf("Theme mismatch: got %q", s.Theme)
		}
	}
}

func TestDelete(t *testing.T) {
	store, fake := setupStore(t)
	ctx := context.Background()
	store.Save(ctx, newStory("s1", "a", "x"))

	if err := store.Delete(ctx, "s1", "a"); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
	if keys := fake.keys(); len(keys) != 0 {
		t.Errorf("object still present after Delete: %v", keys)
	}
	if err := store.Delete(ctx, "s1", "a"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("expected not found on second Delete, got %v", err)
	}
}
