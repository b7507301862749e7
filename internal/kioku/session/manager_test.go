package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func newTestManager(t *testing.T) (*Manager, *MemoryBackend) {
	t.Helper()
	backend := NewMemoryBackend()
	m := NewManager(backend, nil)
	base := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	tick := 0
	m.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}
	return m, backend
}

// flakyBackend fails the first getFailures Get calls and every Put while
// failPut is set.
type flakyBackend struct {
	*MemoryBackend
	mu          sync.Mutex
	getFailures int
	getCalls    int
	failPut     bool
}

func (f *flakyBackend) Get(ctx context.Context, id string) (*Session, error) {
	f.mu.Lock()
	f.getCalls++
	fail := f.getCalls <= f.getFailures
	f.mu.Unlock()
	if fail {
		return nil, errors.New("disk busy")
	}
	return f.MemoryBackend.Get(ctx, id)
}

func (f *flakyBackend) Put(ctx context.Context, s *Session) error {
	f.mu.Lock()
	fail := f.failPut
	f.mu.Unlock()
	if fail {
		return errors.New("write failed")
	}
	return f.MemoryBackend.Put(ctx, s)
}

func TestCreateSession(t *testing.T) {
	m, backend := newTestManager(t)
	persona := "teacher"

	s, err := m.CreateSession(context.Background(), "alice", "dr_python", &persona)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if s.Status != StatusActive {
		t.Errorf("status: got %q, want %q", s.Status, StatusActive)
	}
	if s.MessageCount != 0 || len(s.Messages) != 0 {
		t.Errorf("expected empty session, got count=%d len=%d", s.MessageCount, len(s.Messages))
	}
	if s.PersonaID == nil || *s.PersonaID != "teacher" {
		t.Errorf("persona: got %v", s.PersonaID)
	}
	if backend.Len() != 1 {
		t.Errorf("expected 1 stored session, got %d", backend.Len())
	}
}

func TestCreateSession_RequiresIDs(t *testing.T) {
	m, _ := newTestManager(t)
	if _, err := m.CreateSession(context.Background(), "", "dr_python", nil); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
}

func TestCreateSession_ConcurrentIDsUnique(t *testing.T) {
	backend := NewMemoryBackend()
	m := NewManager(backend, nil)
	fixed := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return fixed }

	const n = 200
	ids := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := m.CreateSession(context.Background(), "alice", "dr_python", nil)
			if err != nil {
				t.Errorf("CreateSession: %v", err)
				return
			}
			ids[i] = s.SessionID
		}()
	}
	wg.Wait()

	seen := make(map[string]bool, n)
	for _, id := range ids {
		if seen[id] {
			t.Fatalf("duplicate session ID %q", id)
		}
		seen[id] = true
	}
	if backend.Len() != n {
		t.Errorf("expected %d sessions, got %d", n, backend.Len())
	}
}

func TestNewSessionID_Sortable(t *testing.T) {
	a := NewSessionID(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	b := NewSessionID(time.Date(2026, 1, 1, 0, 0, 0, int(time.Millisecond), time.UTC))
	if a >= b {
		t.Errorf("expected %q < %q", a, b)
	}
}

func TestAppendMessage_SequentialIDs(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	s, _ := m.CreateSession(ctx, "alice", "dr_python", nil)

	for i := 1; i <= 12; i++ {
		role := RoleUser
		if i%2 == 0 {
			role = RoleAssistant
		}
		got, err := m.AppendMessage(ctx, s.SessionID, role, fmt.Sprintf("message %d", i), "alice")
		if err != nil {
			t.Fatalf("AppendMessage %d: %v", i, err)
		}
		last := got.Messages[len(got.Messages)-1]
		if want := fmt.Sprintf("msg_%03d", i); last.ID != want {
			t.Errorf("message %d: id %q, want %q", i, last.ID, want)
		}
		if got.MessageCount != i {
			t.Errorf("message %d: count %d", i, got.MessageCount)
		}
	}
}

func TestAppendMessage_InvalidRole(t *testing.T) {
	m, _ := newTestManager(t)
	s, _ := m.CreateSession(context.Background(), "alice", "dr_python", nil)
	if _, err := m.AppendMessage(context.Background(), s.SessionID, "system", "hi", "alice"); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
}

func TestAppendMessage_NotFound(t *testing.T) {
	m, _ := newTestManager(t)
	_, err := m.AppendMessage(context.Background(), "missing", RoleUser, "hi", "alice")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestOwnership_NeverMutates(t *testing.T) {
	m, backend := newTestManager(t)
	ctx := context.Background()
	s, _ := m.CreateSession(ctx, "alice", "dr_python", nil)
	if _, err := m.AppendMessage(ctx, s.SessionID, RoleUser, "secret diary", "alice"); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	before, _ := backend.Get(ctx, s.SessionID)

	if _, err := m.AppendMessage(ctx, s.SessionID, RoleUser, "intrusion", "mallory"); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("append: expected ErrUnauthorized, got %v", err)
	}
	if _, err := m.LoadSession(ctx, s.SessionID, "mallory"); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("load: expected ErrUnauthorized, got %v", err)
	}
	if err := m.DeleteSession(ctx, s.SessionID, "mallory"); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("delete: expected ErrUnauthorized, got %v", err)
	}

	after, err := backend.Get(ctx, s.SessionID)
	if err != nil {
		t.Fatalf("session vanished: %v", err)
	}
	if after.MessageCount != before.MessageCount || len(after.Messages) != len(before.Messages) {
		t.Errorf("session mutated by unauthorized caller: before=%d after=%d", before.MessageCount, after.MessageCount)
	}
}

func TestLoadSession_LastMessagePair(t *testing.T) {
	m, backend := newTestManager(t)
	ctx := context.Background()
	s, _ := m.CreateSession(ctx, "alice", "dr_python", nil)

	loaded, err := m.LoadSession(ctx, s.SessionID, "alice")
	if err != nil {
		t.Fatalf("LoadSession: %v", err)
	}
	if loaded.LastMessagePair == nil || loaded.LastMessagePair.User != nil || loaded.LastMessagePair.Assistant != nil {
		t.Fatalf("expected empty pair for empty session, got %+v", loaded.LastMessagePair)
	}

	m.AppendMessage(ctx, s.SessionID, RoleUser, "first question", "alice")
	m.AppendMessage(ctx, s.SessionID, RoleAssistant, "first answer", "alice")
	m.AppendMessage(ctx, s.SessionID, RoleUser, "second question", "alice")

	loaded, err = m.LoadSession(ctx, s.SessionID, "alice")
	if err != nil {
		t.Fatalf("LoadSession: %v", err)
	}
	pair := loaded.LastMessagePair
	if pair.User == nil || pair.User.Content != "second question" {
		t.Errorf("user: got %+v", pair.User)
	}
	if pair.Assistant == nil || pair.Assistant.Content != "first answer" {
		t.Errorf("assistant: got %+v", pair.Assistant)
	}

	stored, _ := backend.Get(ctx, s.SessionID)
	if stored.LastMessagePair != nil {
		t.Error("LoadSession must not persist the derived pair")
	}
}

func TestListSessions_SortedByLastUpdated(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	older, _ := m.CreateSession(ctx, "alice", "dr_python", nil)
	newer, _ := m.CreateSession(ctx, "alice", "dr_python", nil)
	empty, _ := m.CreateSession(ctx, "alice", "dr_python", nil)
	m.CreateSession(ctx, "alice", "other_character", nil)
	m.CreateSession(ctx, "bob", "dr_python", nil)

	m.AppendMessage(ctx, newer.SessionID, RoleUser, "hello", "alice")
	m.AppendMessage(ctx, older.SessionID, RoleUser, "hello again", "alice")

	list, err := m.ListSessions(ctx, "alice", "dr_python")
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("expected 3 sessions, got %d", len(list))
	}
	want := []string{older.SessionID, newer.SessionID, empty.SessionID}
	for i, id := range want {
		if list[i].SessionID != id {
			t.Errorf("position %d: got %q, want %q", i, list[i].SessionID, id)
		}
	}
	if list[2].MessageCount != 0 {
		t.Errorf("empty session must be listed with zero messages, got %d", list[2].MessageCount)
	}
	if list[0].LastMessagePair == nil || list[0].LastMessagePair.User == nil {
		t.Errorf("summary must carry last message pair")
	}
}

func TestDeleteSession(t *testing.T) {
	m, backend := newTestManager(t)
	ctx := context.Background()
	s, _ := m.CreateSession(ctx, "alice", "dr_python", nil)

	if err := m.DeleteSession(ctx, s.SessionID, "alice"); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	if backend.Len() != 0 {
		t.Errorf("expected no sessions, got %d", backend.Len())
	}
	if err := m.DeleteSession(ctx, s.SessionID, "alice"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete: expected ErrNotFound, got %v", err)
	}
}

func TestGet_RetriesOnceOnStorageError(t *testing.T) {
	backend := &flakyBackend{MemoryBackend: NewMemoryBackend(), getFailures: 1}
	m := NewManager(backend, nil)
	m.readRetry.InitialDelay = time.Millisecond
	ctx := context.Background()
	s, _ := m.CreateSession(ctx, "alice", "dr_python", nil)

	if _, err := m.LoadSession(ctx, s.SessionID, "alice"); err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if backend.getCalls != 2 {
		t.Errorf("expected 2 get calls, got %d", backend.getCalls)
	}

	backend.getCalls = 0
	backend.getFailures = 5
	_, err := m.LoadSession(ctx, s.SessionID, "alice")
	if !errors.Is(err, ErrStorage) {
		t.Fatalf("expected ErrStorage, got %v", err)
	}
	var se *StorageError
	if !errors.As(err, &se) || se.Op != "get" {
		t.Errorf("expected StorageError{Op: get}, got %#v", err)
	}
	if backend.getCalls != 2 {
		t.Errorf("expected exactly one retry, got %d calls", backend.getCalls)
	}
}

func TestMutate_PutFailureLeavesStoredRecord(t *testing.T) {
	backend := &flakyBackend{MemoryBackend: NewMemoryBackend()}
	m := NewManager(backend, nil)
	ctx := context.Background()
	s, _ := m.CreateSession(ctx, "alice", "dr_python", nil)

	backend.failPut = true
	_, err := m.AppendMessage(ctx, s.SessionID, RoleUser, "lost", "alice")
	if !errors.Is(err, ErrStorage) {
		t.Fatalf("expected ErrStorage, got %v", err)
	}

	stored, _ := backend.MemoryBackend.Get(ctx, s.SessionID)
	if stored.MessageCount != 0 {
		t.Errorf("failed write must not be visible, count=%d", stored.MessageCount)
	}
}

func TestConcurrentAppends_Serialized(t *testing.T) {
	m, backend := newTestManager(t)
	ctx := context.Background()
	s, _ := m.CreateSession(ctx, "alice", "dr_python", nil)

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.AppendMessage(ctx, s.SessionID, RoleUser, fmt.Sprintf("m%d", i), "alice"); err != nil {
				t.Errorf("AppendMessage: %v", err)
			}
		}()
	}
	wg.Wait()

	stored, _ := backend.Get(ctx, s.SessionID)
	if stored.MessageCount != n || len(stored.Messages) != n {
		t.Fatalf("lost writes: count=%d len=%d", stored.MessageCount, len(stored.Messages))
	}
	seen := make(map[string]bool)
	for _, msg := range stored.Messages {
		if seen[msg.ID] {
			t.Fatalf("duplicate message ID %q", msg.ID)
		}
		seen[msg.ID] = true
	}
	if m.Locks().Len() != 0 {
		t.Errorf("lock registry must drain, %d entries left", m.Locks().Len())
	}
}

func TestSetStatus(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	s, _ := m.CreateSession(ctx, "alice", "dr_python", nil)

	got, err := m.SetStatus(ctx, s.SessionID, "alice", StatusContinued)
	if err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	if got.Status != StatusContinued {
		t.Errorf("status: got %q", got.Status)
	}
}
