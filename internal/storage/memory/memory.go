// Package memory is an in-process implementation of the storage repositories.
// State is lost on restart.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/findosh/contactdesk/internal/models"
	"github.com/findosh/contactdesk/internal/storage"
)

type rateKey struct {
	client   string
	endpoint string
}

// Store holds every table behind one mutex
type Store struct {
	mu        sync.Mutex
	otps      map[string]models.OTPRecord // by identity
	sessions  map[string]models.Session   // by token hash
	windows   map[rateKey]models.RateWindow
	events    []models.SecurityEvent
	emailLogs []models.EmailLog
}

// New creates an empty store
func New() *Store {
	return &Store{
		otps:     make(map[string]models.OTPRecord),
		sessions: make(map[string]models.Session),
		windows:  make(map[rateKey]models.RateWindow),
	}
}

// OTPs returns the OTP repository view
func (s *Store) OTPs() *OTPs { return &OTPs{s} }

// Sessions returns the session repository view
func (s *Store) Sessions() *Sessions { return &Sessions{s} }

// RateLimits returns the rate limit repository view
func (s *Store) RateLimits() *RateLimits { return &RateLimits{s} }

// SecurityEvents returns the audit repository view
func (s *Store) SecurityEvents() *SecurityEvents { return &SecurityEvents{s} }

// EmailLogs returns the email log repository view
func (s *Store) EmailLogs() *EmailLogs { return &EmailLogs{s} }

// PingContext always succeeds
func (s *Store) PingContext(ctx context.Context) error { return ctx.Err() }

// OTPs implements the OTP repository
type OTPs struct{ s *Store }

func (r *OTPs) Replace(_ context.Context, rec *models.OTPRecord) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.otps[rec.Identity] = *rec
	return nil
}

func (r *OTPs) FindActive(_ context.Context, identity string) (*models.OTPRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rec, ok := r.s.otps[identity]
	if !ok || rec.Used {
		return nil, storage.ErrNotFound
	}
	return &rec, nil
}

func (r *OTPs) IncrementAttempts(_ context.Context, identity string) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rec, ok := r.s.otps[identity]
	if !ok || rec.Used {
		return 0, nil
	}
	rec.Attempts++
	r.s.otps[identity] = rec
	return 1, nil
}

func (r *OTPs) Consume(_ context.Context, identity, code string, now time.Time, maxAttempts int) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rec, ok := r.s.otps[identity]
	if !ok || rec.Used || rec.Code != code || rec.IsExpired(now) || rec.IsLocked(maxAttempts) {
		return false, nil
	}
	rec.Used = true
	r.s.otps[identity] = rec
	return true, nil
}

func (r *OTPs) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for id, rec := range r.s.otps {
		if rec.IsExpired(now) {
			delete(r.s.otps, id)
			n++
		}
	}
	return n, nil
}

// Get returns the stored record regardless of state
func (r *OTPs) Get(identity string) (models.OTPRecord, bool) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rec, ok := r.s.otps[identity]
	return rec, ok
}

// Count returns the number of stored records
func (r *OTPs) Count() int {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return len(r.s.otps)
}

// Sessions implements the session repository
type Sessions struct{ s *Store }

func (r *Sessions) Replace(_ context.Context, sess *models.Session) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for hash, existing := range r.s.sessions {
		if existing.Identity == sess.Identity {
			delete(r.s.sessions, hash)
		}
	}
	stored := *sess
	stored.Token = ""
	r.s.sessions[sess.TokenHash] = stored
	return nil
}

func (r *Sessions) FindByTokenHash(_ context.Context, hash string) (*models.Session, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sess, ok := r.s.sessions[hash]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &sess, nil
}

func (r *Sessions) DeleteByTokenHash(_ context.Context, hash string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	_, ok := r.s.sessions[hash]
	delete(r.s.sessions, hash)
	return ok, nil
}

func (r *Sessions) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for hash, sess := range r.s.sessions {
		if sess.IsExpired(now) {
			delete(r.s.sessions, hash)
			n++
		}
	}
	return n, nil
}

// Count returns the number of stored sessions
func (r *Sessions) Count() int {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return len(r.s.sessions)
}

// RateLimits implements the rate limit repository
type RateLimits struct{ s *Store }

func (r *RateLimits) Hit(_ context.Context, clientID, endpoint string, now time.Time, window time.Duration, limit int) (bool, int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	now = now.UTC()
	key := rateKey{clientID, endpoint}

	w, ok := r.s.windows[key]
	switch {
	case !ok || w.Elapsed(now, window):
		w = models.RateWindow{ClientID: clientID, Endpoint: endpoint, Requests: 1, WindowStart: now}
	case w.Requests < limit:
		w.Requests++
	default:
		return false, limit, nil
	}
	w.UpdatedAt = now
	r.s.windows[key] = w
	return true, w.Requests, nil
}

func (r *RateLimits) Find(_ context.Context, clientID, endpoint string) (*models.RateWindow, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	w, ok := r.s.windows[rateKey{clientID, endpoint}]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &w, nil
}

func (r *RateLimits) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for key, w := range r.s.windows {
		if w.WindowStart.Before(cutoff) {
			delete(r.s.windows, key)
			n++
		}
	}
	return n, nil
}

// SecurityEvents implements the audit repository
type SecurityEvents struct{ s *Store }

func (r *SecurityEvents) Insert(_ context.Context, e *models.SecurityEvent) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.events = append(r.s.events, *e)
	return nil
}

func (r *SecurityEvents) ListRecent(_ context.Context, eventType string, limit int) ([]models.SecurityEvent, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []models.SecurityEvent
	for _, e := range r.s.events {
		if eventType == "" || e.EventType == eventType {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *SecurityEvents) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	kept := r.s.events[:0]
	for _, e := range r.s.events {
		if !e.CreatedAt.Before(cutoff) {
			kept = append(kept, e)
		}
	}
	n := int64(len(r.s.events) - len(kept))
	r.s.events = kept
	return n, nil
}

// All returns a copy of every stored event in insertion order
func (r *SecurityEvents) All() []models.SecurityEvent {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return append([]models.SecurityEvent(nil), r.s.events...)
}

// EmailLogs implements the email log repository
type EmailLogs struct{ s *Store }

func (r *EmailLogs) Insert(_ context.Context, l *models.EmailLog) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.emailLogs = append(r.s.emailLogs, *l)
	return nil
}

func (r *EmailLogs) DeleteOlderThan(_ context.Context, sentCutoff, failedCutoff time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	kept := r.s.emailLogs[:0]
	for _, l := range r.s.emailLogs {
		switch {
		case l.Status == models.EmailStatusSent && l.CreatedAt.Before(sentCutoff):
		case l.Status == models.EmailStatusFailed && l.CreatedAt.Before(failedCutoff):
		default:
			kept = append(kept, l)
		}
	}
	n := int64(len(r.s.emailLogs) - len(kept))
	r.s.emailLogs = kept
	return n, nil
}

// All returns a copy of every stored log entry
func (r *EmailLogs) All() []models.EmailLog {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return append([]models.EmailLog(nil), r.s.emailLogs...)
}
