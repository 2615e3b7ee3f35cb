// Package transfers tracks file transfers reported by the daemon and accepts
// incoming ones that match the configured policy.
package transfers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"tools.zach/dev/jamibus/internal/jami"
	"tools.zach/dev/jamibus/internal/logger"
)

var (
	// ErrUnknownTransfer is returned for a transfer id no event has mentioned.
	ErrUnknownTransfer = errors.New("unknown transfer")
	// ErrTransferEnded is returned when accepting a transfer that already
	// finished or was closed.
	ErrTransferEnded = errors.New("transfer already ended")
)

// Facade is the subset of the daemon facade transfers need. *jami.Client
// satisfies it.
type Facade interface {
	DataTransferInfo(ctx context.Context, account, conv string, tid uint64) (jami.TransferInfo, bool)
	AcceptFileTransfer(ctx context.Context, account, conv string, tid uint64, path string) uint32
	CancelDataTransfer(ctx context.Context, account, conv string, tid uint64) uint32
}

// Recorder counts transfer outcomes.
type Recorder interface {
	RecordTransfer(outcome string)
}

// Policy decides which incoming transfers are accepted without asking.
type Policy struct {
	// Names are globs matched against the offered display name.
	Names []string
	// MIME are globs matched against the offered MIME type.
	MIME []string
	// MaxBytes caps the size of auto-accepted files; 0 means no cap. With a
	// cap, offers whose size is not yet known are refused.
	MaxBytes int64
}

// Allows reports whether info qualifies for automatic acceptance.
func (p Policy) Allows(info jami.TransferInfo) bool {
	if p.MaxBytes > 0 && (info.TotalSize <= 0 || info.TotalSize > p.MaxBytes) {
		return false
	}
	return matchAny(p.Names, info.DisplayName) || matchAny(p.MIME, info.MimeType)
}

func matchAny(patterns []string, s string) bool {
	if s == "" {
		return false
	}
	for _, p := range patterns {
		if ok, err := doublestar.Match(p, s); err == nil && ok {
			return true
		}
	}
	return false
}

// Record is the last known state of one transfer.
type Record struct {
	ID             uint64
	AccountID      string
	ConversationID string
	Code           jami.TransferEventCode
	Info           jami.TransferInfo
	// Destination is where an accepted download is written. It is reserved
	// when accepting starts.
	Destination string
	Accepted    bool
	Updated     time.Time
}

// Terminal reports whether the transfer has ended.
func (r Record) Terminal() bool { return r.Code.Terminal() }

// Manager keeps a record per transfer id.
type Manager struct {
	facade  Facade
	policy  Policy
	dir     string
	log     *slog.Logger
	metrics Recorder
	now     func() time.Time

	// mu protects records and reserved.
	mu      sync.Mutex
	records map[uint64]*Record

	// reserved maps destinations of accepted, unfinished transfers to their
	// transfer id.
	reserved map[string]uint64
}

// Option configures a [Manager].
type Option func(*Manager)

// WithPolicy sets the auto-accept policy. Without it nothing is accepted
// automatically.
func WithPolicy(p Policy) Option {
	return func(m *Manager) { m.policy = p }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.log = l
		}
	}
}

// WithRecorder sets the outcome counter.
func WithRecorder(r Recorder) Option {
	return func(m *Manager) {
		if r != nil {
			m.metrics = r
		}
	}
}

// NewManager creates a manager writing accepted files into dir.
func NewManager(f Facade, dir string, opts ...Option) *Manager {
	m := &Manager{
		facade:   f,
		dir:      dir,
		log:      slog.Default(),
		now:      time.Now,
		records:  make(map[uint64]*Record),
		reserved: make(map[string]uint64),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Handle folds a transfer event into its record, refreshing the transfer
// info from the daemon, and auto-accepts offers the policy allows.
func (m *Manager) Handle(ctx context.Context, ev jami.DataTransferEvent) Record {
	code := ev.EventCode()
	info, ok := m.facade.DataTransferInfo(ctx, ev.AccountID, ev.ConversationID, ev.ID)

	m.mu.Lock()
	rec := m.records[ev.ID]
	if rec == nil {
		rec = &Record{ID: ev.ID, AccountID: ev.AccountID, ConversationID: ev.ConversationID}
		m.records[ev.ID] = rec
	}
	ended := code.Terminal() && !rec.Code.Terminal()
	rec.Code = code
	rec.Updated = m.now()
	if ok {
		rec.Info = info
	}
	if ended {
		m.unreserve(rec)
	}

	var claimErr error
	offer := code == jami.TransferWaitHostAcceptance && !rec.Accepted && m.policy.Allows(rec.Info)
	if offer {
		claimErr = m.claim(rec)
	}
	snapshot := *rec
	m.mu.Unlock()

	logger.Trace(m.log, "transfer event", "tid", ev.ID, "code", code, "name", snapshot.Info.DisplayName)

	if ended {
		m.record(code.String())
	}
	if !offer {
		return snapshot
	}
	if claimErr == nil {
		claimErr = m.request(ctx, snapshot)
	}
	if claimErr != nil {
		m.log.Warn("auto-accept failed", "tid", ev.ID, "name", snapshot.Info.DisplayName, "error", claimErr)
		m.mu.Lock()
		m.release(rec)
		snapshot = *rec
		m.mu.Unlock()
		return snapshot
	}
	m.log.Info("auto-accepted transfer", "tid", ev.ID, "name", snapshot.Info.DisplayName, "path", snapshot.Destination)
	m.record("auto_accepted")
	return snapshot
}

// Accept downloads transfer tid into the download directory regardless of
// policy and returns the destination path. A transfer that is already
// accepted keeps its destination and is not requested again; one that has
// ended returns [ErrTransferEnded].
func (m *Manager) Accept(ctx context.Context, tid uint64) (string, error) {
	m.mu.Lock()
	rec := m.records[tid]
	switch {
	case rec == nil:
		m.mu.Unlock()
		return "", fmt.Errorf("accepting %d: %w", tid, ErrUnknownTransfer)
	case rec.Terminal():
		m.mu.Unlock()
		return "", fmt.Errorf("accepting %d: %w", tid, ErrTransferEnded)
	case rec.Accepted:
		dest := rec.Destination
		m.mu.Unlock()
		return dest, nil
	}
	if err := m.claim(rec); err != nil {
		m.mu.Unlock()
		return "", err
	}
	snapshot := *rec
	m.mu.Unlock()

	if err := m.request(ctx, snapshot); err != nil {
		m.mu.Lock()
		m.release(rec)
		m.mu.Unlock()
		return "", err
	}
	m.record("accepted")
	return snapshot.Destination, nil
}

// Cancel asks the daemon to stop transfer tid.
func (m *Manager) Cancel(ctx context.Context, tid uint64) error {
	rec, ok := m.Get(tid)
	if !ok {
		return fmt.Errorf("cancelling %d: %w", tid, ErrUnknownTransfer)
	}
	if code := m.facade.CancelDataTransfer(ctx, rec.AccountID, rec.ConversationID, tid); code != 0 {
		return fmt.Errorf("cancelling %d: daemon returned %d", tid, code)
	}
	m.record("cancelled")
	return nil
}

// Get returns the record for tid.
func (m *Manager) Get(tid uint64) (Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[tid]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// List returns every record ordered by transfer id.
func (m *Manager) List() []Record {
	m.mu.Lock()
	out := make([]Record, 0, len(m.records))
	for _, rec := range m.records {
		out = append(out, *rec)
	}
	m.mu.Unlock()

	slices.SortFunc(out, func(a, b Record) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return out
}

// claim marks rec accepted and reserves a free destination for it. The
// caller holds m.mu.
func (m *Manager) claim(rec *Record) error {
	dest, err := uniquePath(m.dir, fileName(*rec), func(p string) bool {
		_, taken := m.reserved[p]
		return taken
	})
	if err != nil {
		return err
	}
	rec.Accepted = true
	rec.Destination = dest
	m.reserved[dest] = rec.ID
	return nil
}

// release undoes claim after the daemon refused the download. The caller
// holds m.mu.
func (m *Manager) release(rec *Record) {
	m.unreserve(rec)
	rec.Accepted = false
	rec.Destination = ""
}

// unreserve frees rec's destination for other transfers. The caller holds
// m.mu.
func (m *Manager) unreserve(rec *Record) {
	if tid, ok := m.reserved[rec.Destination]; ok && tid == rec.ID {
		delete(m.reserved, rec.Destination)
	}
}

// request asks the daemon to download rec to its reserved destination.
func (m *Manager) request(ctx context.Context, rec Record) error {
	if err := os.MkdirAll(m.dir, 0o700); err != nil {
		return fmt.Errorf("creating download dir: %w", err)
	}
	if code := m.facade.AcceptFileTransfer(ctx, rec.AccountID, rec.ConversationID, rec.ID, rec.Destination); code != 0 {
		return fmt.Errorf("accepting %d: daemon returned %d", rec.ID, code)
	}
	return nil
}

func (m *Manager) record(outcome string) {
	if m.metrics != nil {
		m.metrics.RecordTransfer(outcome)
	}
}

// fileName derives a safe base name from the offered display name.
func fileName(rec Record) string {
	name := filepath.Base(strings.ReplaceAll(rec.Info.DisplayName, `\`, "/"))
	switch name {
	case "", ".", "..", "/":
		return "transfer-" + strconv.FormatUint(rec.ID, 10)
	}
	return name
}

// uniquePath returns dir/name, or dir/"stem (n).ext" for the first n that
// neither exists on disk nor is reserved.
func uniquePath(dir, name string, reserved func(string) bool) (string, error) {
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	candidate := filepath.Join(dir, name)
	for n := 1; n < 1000; n++ {
		if !reserved(candidate) {
			_, err := os.Stat(candidate)
			if errors.Is(err, os.ErrNotExist) {
				return candidate, nil
			} else if err != nil {
				return "", fmt.Errorf("checking %s: %w", candidate, err)
			}
		}
		candidate = filepath.Join(dir, fmt.Sprintf("%s (%d)%s", stem, n, ext))
	}
	return "", fmt.Errorf("no free file name for %q", name)
}
