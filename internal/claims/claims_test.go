package claims

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T, worker string, ttl time.Duration) *Manager {
	t.Helper()
	m, err := NewManager(t.TempDir(), worker, ttl)
	require.NoError(t, err)
	return m
}

func TestAcquireRelease(t *testing.T) {
	m := newTestManager(t, "worker-1", time.Minute)

	claim, err := m.Acquire("contact-1")
	require.NoError(t, err)
	assert.Equal(t, "contact-1", claim.ContactID)
	assert.Equal(t, "worker-1", claim.WorkerID)
	assert.NotEmpty(t, claim.Token)

	// Second acquire while held fails.
	_, err = m.Acquire("contact-1")
	assert.ErrorIs(t, err, ErrAlreadyClaimed)

	require.NoError(t, m.Release(claim))

	// Released contact can be claimed again.
	again, err := m.Acquire("contact-1")
	require.NoError(t, err)
	assert.NotEqual(t, claim.Token, again.Token)
}

func TestAcquireDistinctContacts(t *testing.T) {
	m := newTestManager(t, "worker-1", time.Minute)

	a, err := m.Acquire("contact-a")
	require.NoError(t, err)
	b, err := m.Acquire("contact-b")
	require.NoError(t, err)
	assert.NotEqual(t, a.ContactID, b.ContactID)
}

func TestAcquireStealsStaleClaim(t *testing.T) {
	dir := t.TempDir()
	holder, err := NewManager(dir, "crashed-worker", time.Minute)
	require.NoError(t, err)
	// Backdate the holder's clock so its claim is already expired.
	holder.now = func() time.Time { return time.Now().Add(-2 * time.Minute) }

	stale, err := holder.Acquire("contact-1")
	require.NoError(t, err)

	stealer, err := NewManager(dir, "live-worker", time.Minute)
	require.NoError(t, err)

	stolen, err := stealer.Acquire("contact-1")
	require.NoError(t, err)
	assert.Equal(t, "live-worker", stolen.WorkerID)
	assert.NotEqual(t, stale.Token, stolen.Token)

	// The steal leaves exactly the claim file behind, no scratch files.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "contact-1.lock", entries[0].Name())
}

func TestStealYieldsWhenClaimReplaced(t *testing.T) {
	dir := t.TempDir()
	holder, err := NewManager(dir, "crashed-worker", time.Minute)
	require.NoError(t, err)
	holder.now = func() time.Time { return time.Now().Add(-2 * time.Minute) }

	stale, err := holder.Acquire("contact-1")
	require.NoError(t, err)

	fast, err := NewManager(dir, "fast-worker", time.Minute)
	require.NoError(t, err)
	fresh, err := fast.Acquire("contact-1")
	require.NoError(t, err)

	// A slower worker that judged the old claim stale before it was replaced
	// must not remove the fresh claim.
	slow, err := NewManager(dir, "slow-worker", time.Minute)
	require.NoError(t, err)
	_, err = slow.steal("contact-1", stale)
	assert.ErrorIs(t, err, ErrAlreadyClaimed)

	current, err := slow.read("contact-1")
	require.NoError(t, err)
	assert.Equal(t, fresh.Token, current.Token)
}

func TestReleaseIdempotent(t *testing.T) {
	m := newTestManager(t, "worker-1", time.Minute)

	claim, err := m.Acquire("contact-1")
	require.NoError(t, err)

	require.NoError(t, m.Release(claim))
	require.NoError(t, m.Release(claim))
}

func TestReleaseSkipsForeignClaim(t *testing.T) {
	dir := t.TempDir()
	first, err := NewManager(dir, "worker-1", time.Minute)
	require.NoError(t, err)
	first.now = func() time.Time { return time.Now().Add(-2 * time.Minute) }

	old, err := first.Acquire("contact-1")
	require.NoError(t, err)

	second, err := NewManager(dir, "worker-2", time.Minute)
	require.NoError(t, err)
	current, err := second.Acquire("contact-1")
	require.NoError(t, err)

	// Releasing with the superseded claim must not remove the new holder's file.
	require.NoError(t, first.Release(old))
	claims, err := second.List()
	require.NoError(t, err)
	require.Len(t, claims, 1)
	assert.Equal(t, current.Token, claims[0].Token)
}

func TestRenewExtendsLease(t *testing.T) {
	m := newTestManager(t, "worker-1", time.Minute)

	claim, err := m.Acquire("contact-1")
	require.NoError(t, err)
	before := claim.AcquiredAt

	m.now = func() time.Time { return time.Now().Add(30 * time.Second) }
	require.NoError(t, m.Renew(claim))
	assert.True(t, claim.AcquiredAt.After(before))

	stored, err := m.read("contact-1")
	require.NoError(t, err)
	assert.Equal(t, claim.Token, stored.Token)
	assert.True(t, stored.AcquiredAt.After(before))
}

func TestRenewFailsWhenSuperseded(t *testing.T) {
	dir := t.TempDir()
	first, err := NewManager(dir, "worker-1", time.Minute)
	require.NoError(t, err)
	first.now = func() time.Time { return time.Now().Add(-2 * time.Minute) }

	old, err := first.Acquire("contact-1")
	require.NoError(t, err)

	second, err := NewManager(dir, "worker-2", time.Minute)
	require.NoError(t, err)
	_, err = second.Acquire("contact-1")
	require.NoError(t, err)

	assert.Error(t, first.Renew(old))
}

func TestListAndReleaseExpired(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(dir, "worker-1", time.Minute)
	require.NoError(t, err)

	// One expired, one fresh.
	m.now = func() time.Time { return time.Now().Add(-2 * time.Minute) }
	_, err = m.Acquire("old-contact")
	require.NoError(t, err)
	m.now = time.Now
	fresh, err := m.Acquire("new-contact")
	require.NoError(t, err)

	all, err := m.List()
	require.NoError(t, err)
	assert.Len(t, all, 2)

	swept, err := m.ReleaseExpired()
	require.NoError(t, err)
	assert.Equal(t, 1, swept)

	remaining, err := m.List()
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, fresh.Token, remaining[0].Token)
}

func TestListIgnoresGarbageFiles(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(dir, "worker-1", time.Minute)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "junk.lock"), []byte("not json"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "readme.txt"), []byte("ignore"), 0o644))
	_, err = m.Acquire("contact-1")
	require.NoError(t, err)

	all, err := m.List()
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestConcurrentAcquireSingleWinner(t *testing.T) {
	dir := t.TempDir()

	const workers = 16
	var wg sync.WaitGroup
	wins := make(chan string, workers)
	for i := 0; i < workers; i++ {
		m, err := NewManager(dir, "worker", time.Minute)
		require.NoError(t, err)
		wg.Add(1)
		go func(m *Manager) {
			defer wg.Done()
			if claim, err := m.Acquire("contact-1"); err == nil {
				wins <- claim.Token
			}
		}(m)
	}
	wg.Wait()
	close(wins)

	var tokens []string
	for tok := range wins {
		tokens = append(tokens, tok)
	}
	require.Len(t, tokens, 1)
}

func TestContactIDSanitized(t *testing.T) {
	m := newTestManager(t, "worker-1", time.Minute)

	claim, err := m.Acquire("org/contact-1")
	require.NoError(t, err)
	require.NoError(t, m.Release(claim))
}
