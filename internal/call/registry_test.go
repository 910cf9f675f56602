package call

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1ureka/duet/internal/media"
	"github.com/1ureka/duet/internal/signaling"
	"github.com/1ureka/duet/internal/transport/transporttest"
)

func newTestRegistry(t *testing.T, builds *int) *Registry {
	t.Helper()
	relay := signaling.NewMemoryRelay()
	return NewRegistry(func(key Key) (*Manager, error) {
		*builds++
		m := New(Config{
			Participant:        key.Participant,
			Session:            key.Session,
			Signaling:          relay.Endpoint(key.Session, key.Participant),
			Devices:            media.NewSynthetic(),
			NewConn:            (&transporttest.Factory{}).New,
			NegotiationTimeout: -1,
		})
		t.Cleanup(m.LeaveCall)
		return m, nil
	})
}

func TestRegistryCachesByKey(t *testing.T) {
	var builds int
	reg := newTestRegistry(t, &builds)

	a1, err := reg.Get(Key{Participant: "alice", Session: "s1"})
	require.NoError(t, err)
	a2, err := reg.Get(Key{Participant: "alice", Session: "s1"})
	require.NoError(t, err)
	assert.Same(t, a1, a2)

	other, err := reg.Get(Key{Participant: "alice", Session: "s2"})
	require.NoError(t, err)
	assert.NotSame(t, a1, other)
	assert.Equal(t, "s2", other.Session())

	assert.Equal(t, 2, builds)
}

func TestRegistryEvictOnlyMatching(t *testing.T) {
	var builds int
	reg := newTestRegistry(t, &builds)
	key := Key{Participant: "alice", Session: "s1"}

	m, err := reg.Get(key)
	require.NoError(t, err)

	reg.Evict(key, &Manager{})
	got, err := reg.Get(key)
	require.NoError(t, err)
	assert.Same(t, m, got)
	assert.Equal(t, 1, builds)

	reg.Evict(key, m)
	next, err := reg.Get(key)
	require.NoError(t, err)
	assert.NotSame(t, m, next)
	assert.Equal(t, 2, builds)
}

func TestRegistryLeaveEvicts(t *testing.T) {
	var builds int
	reg := newTestRegistry(t, &builds)
	key := Key{Participant: "bob", Session: "s1"}

	m, err := reg.Get(key)
	require.NoError(t, err)
	m.LeaveCall()

	next, err := reg.Get(key)
	require.NoError(t, err)
	assert.NotSame(t, m, next)
	assert.Equal(t, 2, builds)
}

func TestRegistryBuildError(t *testing.T) {
	boom := errors.New("boom")
	var calls int
	reg := NewRegistry(func(Key) (*Manager, error) {
		calls++
		return nil, boom
	})

	// Failures are not cached.
	for i := 0; i < 2; i++ {
		_, err := reg.Get(Key{Participant: "alice", Session: "s1"})
		assert.ErrorIs(t, err, boom)
	}
	assert.Equal(t, 2, calls)
}
