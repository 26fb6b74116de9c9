package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return mr, rdb
}

func TestAppSessionLifecycle(t *testing.T) {
	mr, rdb := newRedis(t)
	ctx := context.Background()
	st := NewAppSessionStore(rdb, time.Hour)

	as, err := st.Create(ctx, 7)
	require.NoError(t, err)
	assert.NotEmpty(t, as.ID)

	got, err := st.Get(ctx, as.ID)
	require.NoError(t, err)
	assert.Equal(t, uint(7), got.UserID)
	assert.Equal(t, as.ID, got.ID)

	require.NoError(t, st.Delete(ctx, as.ID))
	_, err = st.Get(ctx, as.ID)
	assert.ErrorIs(t, err, ErrNoSession)

	as, err = st.Create(ctx, 7)
	require.NoError(t, err)
	mr.FastForward(2 * time.Hour)
	_, err = st.Get(ctx, as.ID)
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestRevokeAllForUser(t *testing.T) {
	_, rdb := newRedis(t)
	ctx := context.Background()
	st := NewAppSessionStore(rdb, time.Hour)

	a, err := st.Create(ctx, 1)
	require.NoError(t, err)
	b, err := st.Create(ctx, 1)
	require.NoError(t, err)
	other, err := st.Create(ctx, 2)
	require.NoError(t, err)

	require.NoError(t, st.RevokeAllForUser(ctx, 1))
	for _, id := range []string{a.ID, b.ID} {
		_, err := st.Get(ctx, id)
		assert.ErrorIs(t, err, ErrNoSession)
	}
	_, err = st.Get(ctx, other.ID)
	assert.NoError(t, err)
}

func TestCeremonyStateIsSingleUse(t *testing.T) {
	_, rdb := newRedis(t)
	ctx := context.Background()
	st := NewStore(rdb, time.Minute)

	sd := &webauthn.SessionData{Challenge: "abc", UserID: []byte("handle")}
	require.NoError(t, st.SaveAuth(ctx, "sid", sd))

	got, err := st.TakeAuth(ctx, "sid")
	require.NoError(t, err)
	assert.Equal(t, "abc", got.Challenge)

	_, err = st.TakeAuth(ctx, "sid")
	assert.ErrorIs(t, err, ErrNoSession)

	require.NoError(t, st.SaveReg(ctx, 3, sd))
	got, err = st.TakeReg(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, []byte("handle"), got.UserID)
}
