package redisstore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/bdobrica/Kioku/internal/kioku/session"
)

func newTestBackend(t *testing.T) (*Backend, *miniredis.Miniredis) {
	t.Helper()
	s := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: s.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewWithClient(client, "test"), s
}

func testSession(id, user, character string, updated time.Time) *session.Session {
	return &session.Session{
		SessionID:   id,
		UserID:      user,
		CharacterID: character,
		CreatedAt:   updated,
		LastUpdated: updated,
		Status:      session.StatusActive,
		Messages: []session.Message{
			{ID: "msg_001", Role: session.RoleAssistant, Content: "안녕하세요!", Timestamp: updated},
		},
		MessageCount: 1,
	}
}

func TestBackend_PutGet(t *testing.T) {
	b, mr := newTestBackend(t)
	ctx := context.Background()
	now := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)

	in := testSession("s-1", "user-1", "dr_python", now)
	in.LastMessagePair = in.LastPair()
	require.NoError(t, b.Put(ctx, in))
	require.True(t, mr.Exists("test:session:s-1"))

	got, err := b.Get(ctx, "s-1")
	require.NoError(t, err)
	require.Equal(t, "user-1", got.UserID)
	require.Len(t, got.Messages, 1)
	require.Equal(t, "안녕하세요!", got.Messages[0].Content)
	require.True(t, got.LastUpdated.Equal(now))
	require.Nil(t, got.LastMessagePair)
}

func TestBackend_NotFound(t *testing.T) {
	b, _ := newTestBackend(t)
	ctx := context.Background()

	_, err := b.Get(ctx, "missing")
	require.ErrorIs(t, err, session.ErrNotFound)
	require.ErrorIs(t, b.Delete(ctx, "missing"), session.ErrNotFound)
}

func TestBackend_ListOrderAndDelete(t *testing.T) {
	b, _ := newTestBackend(t)
	ctx := context.Background()
	base := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)

	require.NoError(t, b.Put(ctx, testSession("s-1", "user-1", "dr_python", base)))
	require.NoError(t, b.Put(ctx, testSession("s-2", "user-1", "dr_python", base.Add(time.Minute))))
	require.NoError(t, b.Put(ctx, testSession("s-3", "user-1", "yu_gwansun", base)))

	list, err := b.List(ctx, "user-1", "dr_python")
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, "s-2", list[0].SessionID)
	require.Equal(t, "s-1", list[1].SessionID)

	require.NoError(t, b.Delete(ctx, "s-2"))
	list, err = b.List(ctx, "user-1", "dr_python")
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, "s-1", list[0].SessionID)
}

func TestBackend_ListPrunesStaleIndex(t *testing.T) {
	b, mr := newTestBackend(t)
	ctx := context.Background()
	now := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)

	require.NoError(t, b.Put(ctx, testSession("s-1", "user-1", "dr_python", now)))
	mr.Del("test:session:s-1")

	list, err := b.List(ctx, "user-1", "dr_python")
	require.NoError(t, err)
	require.Empty(t, list)

	n, err := b.client.ZCard(ctx, "test:sessions:user-1:dr_python").Result()
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestBackend_WithManager(t *testing.T) {
	b, _ := newTestBackend(t)
	m := session.NewManager(b, nil)
	ctx := context.Background()

	s, err := m.CreateSession(ctx, "user-1", "dr_python", nil)
	require.NoError(t, err)
	_, err = m.AppendMessage(ctx, s.SessionID, session.RoleUser, "hello", "user-1")
	require.NoError(t, err)

	summaries, err := m.ListSessions(ctx, "user-1", "dr_python")
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	require.Equal(t, 1, summaries[0].MessageCount)
}
