package scratchpad

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/memoryd/internal/apperr"
)

func TestPutGetRoundTrip(t *testing.T) {
	s := New()
	require.NoError(t, s.Put("sess1", "k1", "v1", time.Minute))

	entry, err := s.Get("sess1", "k1")
	require.NoError(t, err)
	require.Equal(t, "v1", entry.Value)
}

func TestGetMissingKeyReturnsNotFound(t *testing.T) {
	s := New()
	_, err := s.Get("sess1", "missing")
	require.Equal(t, apperr.NotFound, apperr.KindOf(err))
}

func TestGetExpiredKeyReturnsNotFound(t *testing.T) {
	s := New()
	require.NoError(t, s.Put("sess1", "k1", "v1", time.Nanosecond))
	time.Sleep(time.Millisecond)

	_, err := s.Get("sess1", "k1")
	require.Equal(t, apperr.NotFound, apperr.KindOf(err))
}

func TestDeleteRemovesKeyImmediately(t *testing.T) {
	s := New()
	require.NoError(t, s.Put("sess1", "k1", "v1", time.Minute))
	s.Delete("sess1", "k1")

	_, err := s.Get("sess1", "k1")
	require.Equal(t, apperr.NotFound, apperr.KindOf(err))
}

func TestSweepRemovesOnlyExpiredEntries(t *testing.T) {
	s := New()
	require.NoError(t, s.Put("sess1", "stale", "v", time.Nanosecond))
	require.NoError(t, s.Put("sess1", "fresh", "v", time.Hour))
	time.Sleep(time.Millisecond)

	removed := s.Sweep(time.Now())
	require.Equal(t, 1, removed)

	_, err := s.Get("sess1", "fresh")
	require.NoError(t, err)
}

func TestPutRejectsNonPositiveTTL(t *testing.T) {
	s := New()
	err := s.Put("sess1", "k1", "v1", 0)
	require.Equal(t, apperr.InvalidArgument, apperr.KindOf(err))
}

func TestListReturnsOnlyLiveEntries(t *testing.T) {
	s := New()
	require.NoError(t, s.Put("sess1", "a", "1", time.Hour))
	require.NoError(t, s.Put("sess1", "b", "2", time.Nanosecond))
	time.Sleep(time.Millisecond)

	entries := s.List("sess1")
	require.Len(t, entries, 1)
	require.Equal(t, "a", entries[0].Key)
}
