// Package claims implements crash-tolerant, filesystem-based mutual exclusion
// keyed by contact ID.
//
// One file per contact lives under the claims root. The atomicity of
// O_CREATE|O_EXCL is the only cross-worker synchronization primitive: a fresh
// file is an active claim, a file older than the TTL is abandoned and may be
// stolen, and deleting the file force-releases it.
package claims

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// ErrAlreadyClaimed is returned when a fresh claim for the contact is held by
// another worker.
var ErrAlreadyClaimed = eris.New("claims: already claimed")

// Claim is a time-bounded marker granting one worker exclusive rights to
// process a contact.
type Claim struct {
	ContactID  string    `json:"contact_id"`
	WorkerID   string    `json:"worker_id"`
	Token      string    `json:"token"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// Expired reports whether the claim is past the given TTL.
func (c *Claim) Expired(ttl time.Duration) bool {
	return time.Since(c.AcquiredAt) > ttl
}

// Manager acquires and releases claims under a single claims directory.
// Managers in separate processes sharing the directory coordinate correctly;
// no in-memory state is shared.
type Manager struct {
	dir      string
	workerID string
	ttl      time.Duration
	now      func() time.Time
}

// NewManager creates a claim manager rooted at dir. The directory is created
// if missing.
func NewManager(dir, workerID string, ttl time.Duration) (*Manager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, eris.Wrapf(err, "claims: create dir %s", dir)
	}
	return &Manager{dir: dir, workerID: workerID, ttl: ttl, now: time.Now}, nil
}

func (m *Manager) path(contactID string) string {
	safe := strings.ReplaceAll(contactID, "/", "_")
	return filepath.Join(m.dir, safe+".lock")
}

// Acquire attempts to claim a contact. It returns ErrAlreadyClaimed when a
// fresh claim exists. A stale claim (older than the TTL) is stolen by
// renaming a replacement over it; losing the steal to a concurrent worker
// surfaces as ErrAlreadyClaimed.
func (m *Manager) Acquire(contactID string) (*Claim, error) {
	claim, err := m.tryCreate(contactID)
	if err == nil {
		return claim, nil
	}
	if !errors.Is(err, fs.ErrExist) {
		return nil, eris.Wrapf(err, "claims: acquire %s", contactID)
	}

	existing, readErr := m.read(contactID)
	if readErr != nil {
		// Unreadable or vanished mid-read: treat as held.
		return nil, ErrAlreadyClaimed
	}
	if !existing.Expired(m.ttl) {
		return nil, ErrAlreadyClaimed
	}

	return m.steal(contactID, existing)
}

// steal replaces a stale claim by renaming a fully written claim file over
// it. Only the exact claim observed as stale may be replaced: the re-read
// before the rename catches a claim swapped in since, and the token check
// after the rename picks the single survivor among concurrent stealers.
// POSIX has no compare-and-swap over file contents, so a replacement landing
// between the re-read and the rename can still be lost; the window is the
// two syscalls, not the whole steal.
func (m *Manager) steal(contactID string, stale *Claim) (*Claim, error) {
	claim := &Claim{
		ContactID:  contactID,
		WorkerID:   m.workerID,
		Token:      uuid.NewString(),
		AcquiredAt: m.now().UTC(),
	}
	data, err := json.Marshal(claim)
	if err != nil {
		return nil, eris.Wrap(err, "claims: steal: marshal")
	}
	tmp := m.path(contactID) + "." + claim.Token + ".steal"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return nil, eris.Wrapf(err, "claims: steal %s", contactID)
	}
	defer os.Remove(tmp)

	current, err := m.read(contactID)
	if err != nil || current.Token != stale.Token {
		return nil, ErrAlreadyClaimed
	}
	if err := os.Rename(tmp, m.path(contactID)); err != nil {
		return nil, eris.Wrapf(err, "claims: steal %s", contactID)
	}

	after, err := m.read(contactID)
	if err != nil || after.Token != claim.Token {
		return nil, ErrAlreadyClaimed
	}
	zap.L().Info("claims: stole stale claim",
		zap.String("contact_id", contactID),
		zap.String("prev_worker", stale.WorkerID),
		zap.Time("prev_acquired_at", stale.AcquiredAt),
	)
	return claim, nil
}

func (m *Manager) tryCreate(contactID string) (*Claim, error) {
	f, err := os.OpenFile(m.path(contactID), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	claim := &Claim{
		ContactID:  contactID,
		WorkerID:   m.workerID,
		Token:      uuid.NewString(),
		AcquiredAt: m.now().UTC(),
	}
	enc := json.NewEncoder(f)
	if err := enc.Encode(claim); err != nil {
		f.Close()
		os.Remove(m.path(contactID))
		return nil, err
	}
	if err := f.Close(); err != nil {
		os.Remove(m.path(contactID))
		return nil, err
	}
	return claim, nil
}

func (m *Manager) read(contactID string) (*Claim, error) {
	data, err := os.ReadFile(m.path(contactID))
	if err != nil {
		return nil, err
	}
	var c Claim
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// Renew refreshes the claim's acquisition time, extending the lease. It fails
// if the claim file no longer belongs to this acquisition.
func (m *Manager) Renew(claim *Claim) error {
	current, err := m.read(claim.ContactID)
	if err != nil {
		return eris.Wrapf(err, "claims: renew %s", claim.ContactID)
	}
	if current.Token != claim.Token {
		return eris.New("claims: renew: claim no longer held by this worker")
	}
	claim.AcquiredAt = m.now().UTC()
	data, err := json.Marshal(claim)
	if err != nil {
		return eris.Wrap(err, "claims: renew: marshal")
	}
	// Write-then-rename keeps the file contents whole for concurrent readers.
	tmp := m.path(claim.ContactID) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return eris.Wrapf(err, "claims: renew %s", claim.ContactID)
	}
	if err := os.Rename(tmp, m.path(claim.ContactID)); err != nil {
		return eris.Wrapf(err, "claims: renew %s", claim.ContactID)
	}
	return nil
}

// Release removes the claim file if it still belongs to this acquisition.
// A missing file, or a file re-claimed by another worker, is not an error.
func (m *Manager) Release(claim *Claim) error {
	current, err := m.read(claim.ContactID)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return eris.Wrapf(err, "claims: release %s", claim.ContactID)
	}
	if current.Token != claim.Token {
		zap.L().Warn("claims: release skipped, claim held by another acquisition",
			zap.String("contact_id", claim.ContactID),
			zap.String("holder", current.WorkerID),
		)
		return nil
	}
	if err := os.Remove(m.path(claim.ContactID)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return eris.Wrapf(err, "claims: release %s", claim.ContactID)
	}
	return nil
}

// List returns all claims currently present under the claims directory,
// including expired ones.
func (m *Manager) List() ([]Claim, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, eris.Wrapf(err, "claims: list %s", m.dir)
	}
	var out []Claim
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".lock") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(m.dir, e.Name()))
		if err != nil {
			continue
		}
		var c Claim
		if err := json.Unmarshal(data, &c); err != nil {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

// ReleaseExpired removes all claims past the TTL and returns how many were
// swept.
func (m *Manager) ReleaseExpired() (int, error) {
	all, err := m.List()
	if err != nil {
		return 0, err
	}
	swept := 0
	for i := range all {
		if !all[i].Expired(m.ttl) {
			continue
		}
		if err := os.Remove(m.path(all[i].ContactID)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return swept, eris.Wrapf(err, "claims: sweep %s", all[i].ContactID)
		}
		swept++
	}
	return swept, nil
}
