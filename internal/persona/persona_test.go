package persona

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/voicedeck/voicedeck/pkg/provider/realtime"
)

func TestInstructions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		p    Persona
		want string
	}{
		{
			name: "prompt only",
			p:    Persona{SystemPrompt: "  Be helpful.  "},
			want: "Be helpful.",
		},
		{
			name: "prompt and greeting",
			p:    Persona{SystemPrompt: "Be helpful.", FirstSentence: "Hi, I'm Leo."},
			want: "Be helpful.\n\nBegin the conversation by saying exactly: \"Hi, I'm Leo.\"",
		},
		{
			name: "greeting only",
			p:    Persona{FirstSentence: "Hello."},
			want: "Begin the conversation by saying exactly: \"Hello.\"",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := tc.p.Instructions(); got != tc.want {
				t.Errorf("Instructions() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	if err := (Persona{ID: "a", Name: "A", SystemPrompt: "x"}).Validate(); err != nil {
		t.Errorf("valid persona: %v", err)
	}
	err := (Persona{ID: "b"}).Validate()
	if err == nil {
		t.Fatal("expected error for missing fields")
	}
	for _, want := range []string{"name is required", "system_prompt is required"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing %q", err, want)
		}
	}
}

func TestMemStore_CRUD(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemStore()

	if err := s.Upsert(ctx, Persona{ID: "b", Name: "B"}, Persona{ID: "a", Name: "A"}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	list, _ := s.List(ctx)
	if len(list) != 2 || list[0].ID != "a" || list[1].ID != "b" {
		t.Fatalf("List = %+v, want a, b", list)
	}
	if list[0].UpdatedAt.IsZero() {
		t.Error("UpdatedAt not set on upsert")
	}

	if err := s.Upsert(ctx, Persona{ID: "a", Name: "A2"}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	got, err := s.Get(ctx, "a")
	if err != nil || got.Name != "A2" {
		t.Fatalf("Get(a) = %+v, %v; want name A2", got, err)
	}

	if err := s.Delete(ctx, "a"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(ctx, "a"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after delete: err = %v, want ErrNotFound", err)
	}
	if err := s.Delete(ctx, "missing"); err != nil {
		t.Errorf("Delete(missing) = %v, want nil", err)
	}
}

// flakyStore is a Store whose calls fail while down is set.
type flakyStore struct {
	*MemStore

	mu      sync.Mutex
	down    bool
	upserts int
}

var errDown = errors.New("connection refused")

func newFlakyStore() *flakyStore { return &flakyStore{MemStore: NewMemStore()} }

func (f *flakyStore) setDown(v bool) {
	f.mu.Lock()
	f.down = v
	f.mu.Unlock()
}

func (f *flakyStore) isDown() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.down
}

func (f *flakyStore) List(ctx context.Context) ([]Persona, error) {
	if f.isDown() {
		return nil, errDown
	}
	return f.MemStore.List(ctx)
}

func (f *flakyStore) Get(ctx context.Context, id string) (Persona, error) {
	if f.isDown() {
		return Persona{}, errDown
	}
	return f.MemStore.Get(ctx, id)
}

func (f *flakyStore) Upsert(ctx context.Context, ps ...Persona) error {
	f.mu.Lock()
	f.upserts++
	f.mu.Unlock()
	if f.isDown() {
		return errDown
	}
	return f.MemStore.Upsert(ctx, ps...)
}

func TestCatalog_RemoteMode(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	remote := newFlakyStore()
	_ = remote.MemStore.Upsert(ctx, Persona{ID: "r1", Name: "Remote"})

	c := NewCatalog(remote)
	c.Init(ctx)
	if got := c.Mode(); got != ModeRemote {
		t.Fatalf("Mode = %q, want remote", got)
	}

	if err := c.Upsert(ctx, Persona{ID: "n1", Name: "New"}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if _, err := remote.MemStore.Get(ctx, "n1"); err != nil {
		t.Errorf("upsert not mirrored to remote: %v", err)
	}

	p, err := c.Get(ctx, "r1")
	if err != nil || p.Name != "Remote" {
		t.Errorf("Get(r1) = %+v, %v", p, err)
	}
	if _, err := c.Get(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(nope) err = %v, want ErrNotFound", err)
	}
}

func TestCatalog_FallsBackToLocal(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	remote := newFlakyStore()
	_ = remote.MemStore.Upsert(ctx, Persona{ID: "r1", Name: "Remote"})

	c := NewCatalog(remote)
	c.Init(ctx)

	remote.setDown(true)
	list, err := c.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if c.Mode() != ModeLocal {
		t.Fatalf("Mode = %q, want local after remote failure", c.Mode())
	}
	if len(list) != 1 || list[0].ID != "r1" {
		t.Errorf("List = %+v, want cached r1", list)
	}

	// Once local, the remote is no longer written even if it recovers.
	remote.setDown(false)
	before := remote.upserts
	if err := c.Upsert(ctx, Persona{ID: "l1", Name: "Local"}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if remote.upserts != before {
		t.Error("local-mode upsert reached the remote store")
	}
	if _, err := c.Get(ctx, "l1"); err != nil {
		t.Errorf("Get(l1): %v", err)
	}
}

func TestCatalog_InitUnreachable(t *testing.T) {
	t.Parallel()
	remote := newFlakyStore()
	remote.setDown(true)

	c := NewCatalog(remote)
	c.Init(context.Background())
	if c.Mode() != ModeLocal {
		t.Errorf("Mode = %q, want local", c.Mode())
	}
}

func TestCatalog_NilRemote(t *testing.T) {
	t.Parallel()
	c := NewCatalog(nil)
	c.Init(context.Background())
	if c.Mode() != ModeLocal {
		t.Errorf("Mode = %q, want local", c.Mode())
	}
	if err := c.Upsert(context.Background(), Persona{ID: "x", Name: "X"}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := c.Delete(context.Background(), "x"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	list, _ := c.List(context.Background())
	if len(list) != 0 {
		t.Errorf("List = %+v, want empty", list)
	}
}

func voices(ids ...string) func() []realtime.Voice {
	return func() []realtime.Voice {
		out := make([]realtime.Voice, len(ids))
		for i, id := range ids {
			out[i] = realtime.Voice{ID: id, Name: id}
		}
		return out
	}
}

func TestSeeder_AddsMissingWithCycledVoices(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := NewMemStore()
	premade := Premade()
	existing := premade[1]
	existing.Voice = "Custom"
	_ = store.Upsert(ctx, existing)

	s := NewSeeder(store, voices("Zephyr"), premade)
	n, err := s.Seed(ctx)
	if err != nil {
		t.Fatalf("Seed: %v", err)
	}
	if n != 2 {
		t.Fatalf("seeded %d, want 2", n)
	}

	got, _ := store.Get(ctx, premade[1].ID)
	if got.Voice != "Custom" {
		t.Errorf("existing persona overwritten: voice = %q", got.Voice)
	}

	n, err = s.Seed(ctx)
	if err != nil || n != 0 {
		t.Errorf("second Seed = %d, %v; want 0, nil", n, err)
	}
}

func TestSeeder_CyclesVoices(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewMemStore()

	s := NewSeeder(store, voices("Zephyr", "Puck"), Premade())
	if _, err := s.Seed(ctx); err != nil {
		t.Fatalf("Seed: %v", err)
	}
	list, _ := store.List(ctx)
	want := []string{"Zephyr", "Puck", "Zephyr"}
	for i, p := range list {
		if p.Voice != want[i] {
			t.Errorf("%s voice = %q, want %q", p.ID, p.Voice, want[i])
		}
	}
}

func TestSeeder_NoVoices(t *testing.T) {
	t.Parallel()
	store := NewMemStore()
	s := NewSeeder(store, voices(), Premade())
	n, err := s.Seed(context.Background())
	if err != nil || n != 0 {
		t.Errorf("Seed = %d, %v; want 0, nil", n, err)
	}
	if list, _ := store.List(context.Background()); len(list) != 0 {
		t.Errorf("store has %d personas, want 0", len(list))
	}
}

// blockingStore blocks List until release is closed.
type blockingStore struct {
	*MemStore
	entered chan struct{}
	release chan struct{}
}

func (b *blockingStore) List(ctx context.Context) ([]Persona, error) {
	close(b.entered)
	<-b.release
	return b.MemStore.List(ctx)
}

func TestSeeder_SkipsWhileSeeding(t *testing.T) {
	t.Parallel()
	store := &blockingStore{MemStore: NewMemStore(), entered: make(chan struct{}), release: make(chan struct{})}
	s := NewSeeder(store, voices("Zephyr"), Premade())

	done := make(chan int)
	go func() {
		n, _ := s.Seed(context.Background())
		done <- n
	}()
	<-store.entered

	n, err := s.Seed(context.Background())
	if err != nil || n != 0 {
		t.Errorf("concurrent Seed = %d, %v; want 0, nil", n, err)
	}

	close(store.release)
	if got := <-done; got != 3 {
		t.Errorf("first Seed added %d, want 3", got)
	}
}

func TestSeeder_ListError(t *testing.T) {
	t.Parallel()
	remote := newFlakyStore()
	remote.setDown(true)
	s := NewSeeder(remote, voices("Zephyr"), Premade())
	if _, err := s.Seed(context.Background()); !errors.Is(err, errDown) {
		t.Errorf("Seed err = %v, want errDown", err)
	}
}
