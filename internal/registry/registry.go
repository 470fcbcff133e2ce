// Package registry implements the file registry state machine: file records,
// the per-uploader index, ratings, comments, tips, pending rewards and the
// owner-gated treasury operations.
//
// Every state-changing operation runs under a single write lock from its
// first precondition check through the external ledger call to the emitted
// notification, so operations never interleave. Local state is mutated only
// after the ledger call has succeeded.
package registry

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/federated-storage/registry/internal/models"
)

const (
	// MaxRating is the top of the scaled rating range.
	MaxRating = 10000
	// DefaultMinRefLength is the length a content reference must exceed.
	DefaultMinRefLength = 10

	basisPoints = 10000
)

// TokenLedger moves fungible tokens on behalf of the registry. Transfer pays
// out of the registry's own balance; TransferFrom spends an allowance that
// owner granted to the registry beforehand.
type TokenLedger interface {
	Transfer(ctx context.Context, to string, amount int64) error
	TransferFrom(ctx context.Context, owner, to string, amount int64) error
	BalanceOf(ctx context.Context, account string) (int64, error)
}

// LedgerResolver maps a token reference to a ledger.
type LedgerResolver interface {
	Resolve(ref string) (TokenLedger, error)
}

// Notifier receives events in commit order. Publish is called with the
// registry lock held: it must return promptly and must not call back into
// the registry.
type Notifier interface {
	Publish(ev models.Event)
}

// NotifierFunc adapts a function to Notifier
type NotifierFunc func(ev models.Event)

// Publish calls f(ev)
func (f NotifierFunc) Publish(ev models.Event) { f(ev) }

// Notifiers fans an event out to several notifiers
type Notifiers []Notifier

// Publish forwards ev to every notifier in order
func (ns Notifiers) Publish(ev models.Event) {
	for _, n := range ns {
		if n != nil {
			n.Publish(ev)
		}
	}
}

// Options configures a Registry
type Options struct {
	Ledger       TokenLedger
	TokenRef     string
	Resolver     LedgerResolver
	Authorizer   Authorizer
	Notifier     Notifier
	Clock        func() time.Time
	Logger       *zap.Logger
	MinRefLength int
	// TipRewardBps credits the uploader's pending reward with this share of
	// every tip, in basis points. Zero keeps tips and rewards independent.
	TipRewardBps int64
}

// Registry holds all registry state
type Registry struct {
	mu sync.RWMutex

	ledger       TokenLedger
	tokenRef     string
	resolver     LedgerResolver
	auth         Authorizer
	notifier     Notifier
	now          func() time.Time
	logger       *zap.Logger
	minRefLength int
	tipRewardBps int64

	lastID     uint64
	files      map[uint64]*models.FileRecord
	byUploader map[string][]uint64
	comments   map[uint64][]models.Comment
	pending    map[string]int64
	seq        uint64
}

// New creates an empty registry
func New(opts Options) *Registry {
	r := &Registry{
		ledger:       opts.Ledger,
		tokenRef:     opts.TokenRef,
		resolver:     opts.Resolver,
		auth:         opts.Authorizer,
		notifier:     opts.Notifier,
		now:          opts.Clock,
		logger:       opts.Logger,
		minRefLength: opts.MinRefLength,
		tipRewardBps: opts.TipRewardBps,
		files:        make(map[uint64]*models.FileRecord),
		byUploader:   make(map[string][]uint64),
		comments:     make(map[uint64][]models.Comment),
		pending:      make(map[string]int64),
	}
	if r.auth == nil {
		r.auth = NewOwnable("")
	}
	if r.now == nil {
		r.now = func() time.Time { return time.Now().UTC() }
	}
	if r.logger == nil {
		r.logger = zap.NewNop()
	}
	r.logger = r.logger.With(zap.String("component", "registry"))
	if r.minRefLength <= 0 {
		r.minRefLength = DefaultMinRefLength
	}
	if r.tipRewardBps < 0 {
		r.tipRewardBps = 0
	}
	return r
}

// Seq returns the sequence number of the last committed event
func (r *Registry) Seq() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.seq
}

// emit stamps and publishes ev. Callers hold the write lock.
func (r *Registry) emit(ev models.Event) {
	r.seq++
	ev.Seq = r.seq
	ev.ID = uuid.New()
	if ev.Timestamp.IsZero() {
		ev.Timestamp = r.now()
	}
	r.logger.Debug("event committed",
		zap.Uint64("seq", ev.Seq),
		zap.String("kind", string(ev.Kind)),
		zap.Uint64("file_id", ev.FileID))
	if r.notifier != nil {
		r.notifier.Publish(ev)
	}
}

// lookup returns the live record for id. Callers hold the lock.
func (r *Registry) lookup(id uint64) (*models.FileRecord, error) {
	if id == 0 {
		return nil, ErrNotFound
	}
	rec, ok := r.files[id]
	if !ok {
		return nil, ErrNotFound
	}
	return rec, nil
}
