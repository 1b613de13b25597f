package profile

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kalambet/resumechat/internal/storage"
	"github.com/kalambet/resumechat/internal/tree"
)

// --- Mock store ---

type mockStore struct {
	*storage.Memory
	gets   atomic.Int32
	getErr error
	delay  time.Duration
}

func newMockStore() *mockStore {
	return &mockStore{Memory: storage.NewMemory()}
}

func (m *mockStore) Get(ctx context.Context, key string) (string, error) {
	m.gets.Add(1)
	if m.delay > 0 {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(m.delay):
		}
	}
	if m.getErr != nil {
		return "", m.getErr
	}
	return m.Memory.Get(ctx, key)
}

func TestLoad_NoStoreUsesFallback(t *testing.T) {
	l := NewLoader(nil, "", 0)
	doc, src, err := l.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if src != SourceFallback {
		t.Errorf("source = %q, want fallback", src)
	}
	if name, _ := doc.Get("name"); name != "Your Name" {
		t.Errorf("name = %v", name)
	}
}

func TestLoad_MissingKeyUsesFallback(t *testing.T) {
	l := NewLoader(newMockStore(), DefaultKey, 0)
	doc, src, err := l.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if src != SourceFallback {
		t.Errorf("source = %q, want fallback", src)
	}
	if _, ok := tree.Lookup(doc, "skills.interview_responses.example_question.question"); !ok {
		t.Error("fallback should carry an example interview question")
	}
}

func TestLoad_FromStore(t *testing.T) {
	s := newMockStore()
	s.Put(context.Background(), DefaultKey, `{"name":"Ada","summary":"Engineer"}`)

	doc, src, err := NewLoader(s, DefaultKey, 0).Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if src != SourceStore {
		t.Errorf("source = %q, want store", src)
	}
	if got := doc.Keys(); len(got) != 2 || got[0] != "name" || got[1] != "summary" {
		t.Errorf("keys = %v", got)
	}
}

func TestLoad_ReadErrorIsNotDegraded(t *testing.T) {
	s := newMockStore()
	s.getErr = errors.New("connection reset")

	_, _, err := NewLoader(s, DefaultKey, 0).Load(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, s.getErr) {
		t.Errorf("err = %v, want wrapped store error", err)
	}
}

func TestLoad_InvalidJSONIsError(t *testing.T) {
	for _, raw := range []string{`{"name":`, `["not","an","object"]`} {
		s := newMockStore()
		s.Put(context.Background(), DefaultKey, raw)
		if _, _, err := NewLoader(s, DefaultKey, 0).Load(context.Background()); err == nil {
			t.Errorf("Load(%s) succeeded, want error", raw)
		}
	}
}

func TestLoad_NoCacheReadsEveryTime(t *testing.T) {
	s := newMockStore()
	s.Put(context.Background(), DefaultKey, `{"name":"Ada"}`)
	l := NewLoader(s, DefaultKey, 0)

	for i := 0; i < 3; i++ {
		if _, _, err := l.Load(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	if n := s.gets.Load(); n != 3 {
		t.Errorf("store reads = %d, want 3", n)
	}
}

func TestLoad_CacheTTL(t *testing.T) {
	s := newMockStore()
	s.Put(context.Background(), DefaultKey, `{"name":"Ada"}`)
	l := NewLoader(s, DefaultKey, 100*time.Millisecond)

	for i := 0; i < 3; i++ {
		if _, _, err := l.Load(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	if n := s.gets.Load(); n != 1 {
		t.Errorf("store reads = %d, want 1 while cached", n)
	}

	time.Sleep(250 * time.Millisecond)
	if _, _, err := l.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	if n := s.gets.Load(); n != 2 {
		t.Errorf("store reads = %d, want 2 after expiry", n)
	}

	l.Invalidate()
	l.Load(context.Background())
	if n := s.gets.Load(); n != 3 {
		t.Errorf("store reads = %d, want 3 after Invalidate", n)
	}
}

func TestLoad_CachedDocumentIsNotShared(t *testing.T) {
	s := newMockStore()
	s.Put(context.Background(), DefaultKey, `{"name":"Ada"}`)
	l := NewLoader(s, DefaultKey, time.Minute)

	first, _, _ := l.Load(context.Background())
	first.Set("name", "mutated")

	second, _, _ := l.Load(context.Background())
	if name, _ := second.Get("name"); name != "Ada" {
		t.Errorf("cache handed out a shared document, name = %v", name)
	}
}

func TestLoad_ConcurrentMissesCollapse(t *testing.T) {
	s := newMockStore()
	s.delay = 50 * time.Millisecond
	s.Put(context.Background(), DefaultKey, `{"name":"Ada"}`)
	l := NewLoader(s, DefaultKey, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, _, err := l.Load(context.Background()); err != nil {
				t.Errorf("Load: %v", err)
			}
		}()
	}
	wg.Wait()

	if n := s.gets.Load(); n > 2 {
		t.Errorf("store reads = %d, want concurrent misses to share one read", n)
	}
}

func TestLoad_CancelledCallerDoesNotFailOthers(t *testing.T) {
	s := newMockStore()
	s.Put(context.Background(), DefaultKey, `{"name":"Ada"}`)
	s.delay = 200 * time.Millisecond
	l := NewLoader(s, DefaultKey, 0)

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, _, err := l.Load(ctxA)
		errA <- err
	}()
	for s.gets.Load() == 0 {
		time.Sleep(time.Millisecond)
	}

	type result struct {
		doc *tree.Map
		err error
	}
	resB := make(chan result, 1)
	go func() {
		doc, _, err := l.Load(context.Background())
		resB <- result{doc, err}
	}()
	time.Sleep(20 * time.Millisecond)
	cancelA()

	if err := <-errA; !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled caller err = %v, want context.Canceled", err)
	}
	b := <-resB
	if b.err != nil {
		t.Fatalf("waiting caller failed: %v", b.err)
	}
	if name, _ := b.doc.Get("name"); name != "Ada" {
		t.Errorf("name = %v", name)
	}
	if n := s.gets.Load(); n != 1 {
		t.Errorf("store reads = %d, want 1", n)
	}
}

func TestUpload(t *testing.T) {
	s := storage.NewMemory()
	ctx := context.Background()

	if _, err := Upload(ctx, s, DefaultKey, []byte(`not json`)); err == nil {
		t.Fatal("expected validation error")
	}
	if _, err := s.Get(ctx, DefaultKey); !errors.Is(err, storage.ErrNotFound) {
		t.Error("invalid document must not be stored")
	}

	doc, err := Upload(ctx, s, DefaultKey, FallbackJSON())
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if doc.Len() == 0 {
		t.Error("Upload returned empty document")
	}
	raw, _ := s.Get(ctx, DefaultKey)
	if raw != string(FallbackJSON()) {
		t.Error("stored document differs from upload")
	}

	if _, err := Upload(ctx, nil, DefaultKey, FallbackJSON()); err == nil {
		t.Error("Upload without store should fail")
	}
}
