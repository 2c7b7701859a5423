// Package session owns the per-device state of the gateway: who is logged
// in on a device, their bearer credential, and short-lived caches scoped to
// that device. Sessions live in memory and are mirrored to disk so a gateway
// restart does not log every device out.
package session

import (
	"sync"
	"time"

	"incidencia/internal/erp"
	"incidencia/internal/gtask"
)

// Device is the isolated session of one physical device. All fields are
// guarded by mu; request handlers and the sweep loop touch sessions
// concurrently.
type Device struct {
	mu sync.Mutex

	id           string
	identity     *gtask.Identity
	credential   Credential
	tasks        map[string]taskCacheEntry
	users        []map[string]any
	usersFetched time.Time
	createdAt    time.Time
	lastActivity time.Time
}

type taskCacheEntry struct {
	tasks   []erp.Task
	fetched time.Time
}

// ID returns the device identifier.
func (d *Device) ID() string { return d.id }

// CreatedAt returns when the session was lazily created.
func (d *Device) CreatedAt() time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.createdAt
}

// LastActivity returns the most recent touch.
func (d *Device) LastActivity() time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastActivity
}

func (d *Device) touch(now time.Time) {
	d.mu.Lock()
	d.lastActivity = now
	d.mu.Unlock()
}

// Identity returns the authenticated identity, or nil when anonymous.
func (d *Device) Identity() *gtask.Identity {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.identity == nil {
		return nil
	}
	ident := *d.identity
	return &ident
}

// Credential returns the stored bearer credential.
func (d *Device) Credential() Credential {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.credential
}

// IsValidAt reports whether the device holds a usable credential at now.
func (d *Device) IsValidAt(now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.identity != nil && d.credential.ValidAt(now)
}

// UserID returns the authenticated user id, or "" when the session is
// anonymous or the credential has lapsed.
func (d *Device) UserID(now time.Time) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.identity == nil || !d.credential.ValidAt(now) {
		return ""
	}
	return d.identity.ID
}

func (d *Device) setLogin(ident gtask.Identity, cred Credential) {
	d.mu.Lock()
	d.identity = &ident
	d.credential = cred
	d.mu.Unlock()
}

func (d *Device) clear() {
	d.mu.Lock()
	d.identity = nil
	d.credential = Credential{}
	d.tasks = nil
	d.users = nil
	d.usersFetched = time.Time{}
	d.mu.Unlock()
}

// CachedTasks returns a previously resolved candidate list for a QR id when
// it is still within ttl.
func (d *Device) CachedTasks(qrID string, ttl time.Duration, now time.Time) ([]erp.Task, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	entry, ok := d.tasks[qrID]
	if !ok || now.Sub(entry.fetched) > ttl {
		return nil, false
	}
	return entry.tasks, true
}

// StoreTasks caches a resolved candidate list for a QR id.
func (d *Device) StoreTasks(qrID string, tasks []erp.Task, now time.Time) {
	d.mu.Lock()
	if d.tasks == nil {
		d.tasks = make(map[string]taskCacheEntry)
	}
	d.tasks[qrID] = taskCacheEntry{tasks: tasks, fetched: now}
	d.mu.Unlock()
}

// CachedUsers returns the device's cached user list when fresh.
func (d *Device) CachedUsers(ttl time.Duration, now time.Time) ([]map[string]any, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.users == nil || now.Sub(d.usersFetched) > ttl {
		return nil, false
	}
	return d.users, true
}

// StoreUsers caches the provider's user list on the device.
func (d *Device) StoreUsers(users []map[string]any, now time.Time) {
	d.mu.Lock()
	d.users = users
	d.usersFetched = now
	d.mu.Unlock()
}
