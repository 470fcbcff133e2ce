package registry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/federated-storage/registry/internal/models"
)

const (
	alice    = "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	bob      = "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
	treasury = "0x7777777777777777777777777777777777777777"
	owner    = "0x0000000000000000000000000000000000000001"
	validRef = "bafkreihdwdcefgh4dqkjv67uzcmw7ojee6xedzdetojuzjevtenxquvyku"
)

var errLedgerDown = errors.New("ledger unavailable")

type call struct {
	op     string
	from   string
	to     string
	amount int64
}

// fakeLedger records transfers and fails on demand
type fakeLedger struct {
	fail  bool
	calls []call
}

func (l *fakeLedger) Transfer(_ context.Context, to string, amount int64) error {
	if l.fail {
		return errLedgerDown
	}
	l.calls = append(l.calls, call{op: "transfer", from: treasury, to: to, amount: amount})
	return nil
}

func (l *fakeLedger) TransferFrom(_ context.Context, from, to string, amount int64) error {
	if l.fail {
		return errLedgerDown
	}
	l.calls = append(l.calls, call{op: "transferFrom", from: from, to: to, amount: amount})
	return nil
}

func (l *fakeLedger) BalanceOf(context.Context, string) (int64, error) { return 0, nil }

type recorder struct {
	events []models.Event
}

func (r *recorder) Publish(ev models.Event) { r.events = append(r.events, ev) }

func (r *recorder) kinds() []models.EventKind {
	out := make([]models.EventKind, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Kind)
	}
	return out
}

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestRegistry(t *testing.T) (*Registry, *fakeLedger, *recorder) {
	t.Helper()
	ledger := &fakeLedger{}
	rec := &recorder{}
	r := New(Options{
		Ledger:     ledger,
		TokenRef:   "tip",
		Authorizer: NewOwnable(owner),
		Notifier:   rec,
		Clock:      func() time.Time { return fixedNow },
	})
	return r, ledger, rec
}

func upload(t *testing.T, r *Registry, uploader string) uint64 {
	t.Helper()
	id, err := r.Upload(UploadRequest{
		ContentRef: validRef,
		Title:      "Sunset",
		Uploader:   uploader,
	})
	require.NoError(t, err)
	return id
}

func TestRegistry_Upload(t *testing.T) {
	r, _, rec := newTestRegistry(t)

	req := UploadRequest{
		ContentRef:  validRef,
		Title:       "Sunset",
		Description: "Over the bay",
		Category:    "photo",
		Tags:        []string{"sky", "sea"},
		Uploader:    alice,
	}
	id, err := r.Upload(req)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), id)

	got, err := r.Get(id)
	require.NoError(t, err)
	assert.Equal(t, models.FileRecord{
		ID:          1,
		ContentRef:  validRef,
		Title:       "Sunset",
		Description: "Over the bay",
		Category:    "photo",
		Tags:        []string{"sky", "sea"},
		Uploader:    alice,
		CreatedAt:   fixedNow,
	}, got)

	assert.Equal(t, []models.EventKind{
		models.EventFileCreated,
		models.EventTagAdded,
		models.EventTagAdded,
	}, rec.kinds())
	assert.Equal(t, "sky", rec.events[1].Tag)
	assert.Equal(t, "sea", rec.events[2].Tag)

	id2 := upload(t, r, bob)
	assert.Greater(t, id2, id)
}

func TestRegistry_UploadValidation(t *testing.T) {
	tests := []struct {
		name    string
		req     UploadRequest
		wantErr error
	}{
		{
			name:    "reference at threshold",
			req:     UploadRequest{ContentRef: "0123456789", Title: "t", Uploader: alice},
			wantErr: ErrInvalidReference,
		},
		{
			name:    "empty reference",
			req:     UploadRequest{Title: "t", Uploader: alice},
			wantErr: ErrInvalidReference,
		},
		{
			name:    "missing title",
			req:     UploadRequest{ContentRef: validRef, Uploader: alice},
			wantErr: ErrMissingTitle,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _, rec := newTestRegistry(t)

			id, err := r.Upload(tt.req)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Zero(t, id)
			assert.Empty(t, rec.events)

			// a rejected upload does not consume an id
			assert.Equal(t, uint64(1), upload(t, r, alice))
		})
	}
}

func TestRegistry_UpdateMetadata(t *testing.T) {
	r, _, rec := newTestRegistry(t)
	id, err := r.Upload(UploadRequest{ContentRef: validRef, Title: "Old", Tags: []string{"x"}, Uploader: alice})
	require.NoError(t, err)
	before, _ := r.Get(id)

	err = r.UpdateMetadata(id, MetadataUpdate{Title: "New", Description: "d", Category: "c"}, bob)
	assert.ErrorIs(t, err, ErrUnauthorized)
	unchanged, _ := r.Get(id)
	assert.Equal(t, before, unchanged)

	assert.ErrorIs(t, r.UpdateMetadata(0, MetadataUpdate{Title: "New"}, alice), ErrNotFound)
	assert.ErrorIs(t, r.UpdateMetadata(99, MetadataUpdate{Title: "New"}, alice), ErrNotFound)

	require.NoError(t, r.UpdateMetadata(id, MetadataUpdate{Title: "New", Description: "d", Category: "c"}, alice))
	after, _ := r.Get(id)
	assert.Equal(t, "New", after.Title)
	assert.Equal(t, "d", after.Description)
	assert.Equal(t, "c", after.Category)
	assert.Equal(t, before.ContentRef, after.ContentRef)
	assert.Equal(t, before.Uploader, after.Uploader)
	assert.Equal(t, before.CreatedAt, after.CreatedAt)
	assert.Equal(t, before.Tags, after.Tags)

	assert.Equal(t, models.EventMetadataUpdated, rec.events[len(rec.events)-1].Kind)
}

func TestRegistry_GetIsIdempotentAndDetached(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	id, err := r.Upload(UploadRequest{ContentRef: validRef, Title: "t", Tags: []string{"a"}, Uploader: alice})
	require.NoError(t, err)

	first, err := r.Get(id)
	require.NoError(t, err)
	first.Tags[0] = "mutated"
	first.Title = "mutated"

	for i := 0; i < 3; i++ {
		got, err := r.Get(id)
		require.NoError(t, err)
		assert.Equal(t, "t", got.Title)
		assert.Equal(t, []string{"a"}, got.Tags)
	}

	_, err = r.Get(0)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = r.Get(2)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRegistry_ListByUploader(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	assert.Empty(t, r.ListByUploader(alice))

	a1 := upload(t, r, alice)
	b1 := upload(t, r, bob)
	a2 := upload(t, r, alice)

	require.NoError(t, r.UpdateMetadata(a1, MetadataUpdate{Title: "renamed"}, alice))
	require.NoError(t, r.Tip(context.Background(), a2, 5, bob))

	assert.Equal(t, []uint64{a1, a2}, r.ListByUploader(alice))
	assert.Equal(t, []uint64{b1}, r.ListByUploader(bob))

	all := r.ListAll()
	require.Len(t, all, 3)
	for i, f := range all {
		assert.Equal(t, uint64(i+1), f.ID)
	}
}

func TestRegistry_RateSequence(t *testing.T) {
	tests := []struct {
		name     string
		ratings  []int64
		averages []int64
	}{
		{
			name:     "repeated maximum",
			ratings:  []int64{10000, 10000},
			averages: []int64{10000, 10000},
		},
		{
			name:     "ascending",
			ratings:  []int64{2000, 4000, 6000},
			averages: []int64{2000, 3000, 4000},
		},
		{
			name:     "truncates at every step",
			ratings:  []int64{1, 2, 2},
			averages: []int64{1, 1, 1},
		},
		{
			name:     "order matters",
			ratings:  []int64{2, 2, 1},
			averages: []int64{2, 2, 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _, _ := newTestRegistry(t)
			id := upload(t, r, alice)

			for i, rating := range tt.ratings {
				avg, count, err := r.Rate(id, rating, bob)
				require.NoError(t, err)
				assert.Equal(t, tt.averages[i], avg, "step %d", i)
				assert.Equal(t, int64(i+1), count, "step %d", i)
			}

			got, _ := r.Get(id)
			assert.Equal(t, tt.averages[len(tt.averages)-1], got.AverageRating)
			assert.Equal(t, int64(len(tt.ratings)), got.RatingCount)
		})
	}
}

func TestRegistry_RateValidation(t *testing.T) {
	r, _, rec := newTestRegistry(t)
	id := upload(t, r, alice)
	published := len(rec.events)

	for _, rating := range []int64{0, -1, 10001} {
		_, _, err := r.Rate(id, rating, bob)
		assert.ErrorIs(t, err, ErrInvalidRating, "rating %d", rating)
	}
	_, _, err := r.Rate(42, 5000, bob)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Len(t, rec.events, published)

	// uploader and repeat raters are accepted
	_, _, err = r.Rate(id, 5000, alice)
	assert.NoError(t, err)
	_, count, err := r.Rate(id, 5000, alice)
	assert.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestRegistry_Comments(t *testing.T) {
	r, _, rec := newTestRegistry(t)
	id := upload(t, r, alice)

	assert.ErrorIs(t, r.AddComment(id, bob, ""), ErrEmptyComment)
	assert.ErrorIs(t, r.AddComment(7, bob, "hi"), ErrNotFound)
	_, err := r.ListComments(7)
	assert.ErrorIs(t, err, ErrNotFound)

	empty, err := r.ListComments(id)
	require.NoError(t, err)
	assert.Empty(t, empty)

	require.NoError(t, r.AddComment(id, bob, "first"))
	require.NoError(t, r.AddComment(id, alice, "second"))

	comments, err := r.ListComments(id)
	require.NoError(t, err)
	assert.Equal(t, []models.Comment{
		{FileID: id, Author: bob, Content: "first", Timestamp: fixedNow},
		{FileID: id, Author: alice, Content: "second", Timestamp: fixedNow},
	}, comments)
	assert.Equal(t, models.EventCommentAdded, rec.events[len(rec.events)-1].Kind)
}

func TestRegistry_Tip(t *testing.T) {
	r, ledger, rec := newTestRegistry(t)
	ctx := context.Background()
	id := upload(t, r, alice)

	require.NoError(t, r.Tip(ctx, id, 25, bob))
	require.NoError(t, r.Tip(ctx, id, 15, bob))

	got, _ := r.Get(id)
	assert.Equal(t, int64(40), got.TotalTips)
	assert.Equal(t, []call{
		{op: "transferFrom", from: bob, to: alice, amount: 25},
		{op: "transferFrom", from: bob, to: alice, amount: 15},
	}, ledger.calls)

	last := rec.events[len(rec.events)-1]
	assert.Equal(t, models.EventTipRecorded, last.Kind)
	assert.Equal(t, int64(15), last.Amount)
	assert.Equal(t, int64(40), last.Total)
	assert.Zero(t, r.PendingReward(alice), "tips do not accrue rewards by default")
}

func TestRegistry_TipRejections(t *testing.T) {
	tests := []struct {
		name    string
		fileID  uint64
		amount  int64
		tipper  string
		fail    bool
		wantErr error
	}{
		{name: "missing file", fileID: 9, amount: 10, tipper: bob, wantErr: ErrNotFound},
		{name: "self tip", fileID: 1, amount: 10, tipper: alice, wantErr: ErrSelfTip},
		{name: "zero amount", fileID: 1, amount: 0, tipper: bob, wantErr: ErrNonPositiveAmount},
		{name: "negative amount", fileID: 1, amount: -3, tipper: bob, wantErr: ErrNonPositiveAmount},
		{name: "ledger failure", fileID: 1, amount: 10, tipper: bob, fail: true, wantErr: ErrTransferFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, ledger, rec := newTestRegistry(t)
			id := upload(t, r, alice)
			require.NoError(t, r.Tip(context.Background(), id, 3, bob))
			published := len(rec.events)

			ledger.fail = tt.fail
			err := r.Tip(context.Background(), tt.fileID, tt.amount, tt.tipper)
			assert.ErrorIs(t, err, tt.wantErr)

			got, _ := r.Get(id)
			assert.Equal(t, int64(3), got.TotalTips)
			assert.Len(t, rec.events, published)
		})
	}
}

func TestRegistry_TipWithoutLedger(t *testing.T) {
	r := New(Options{})
	id := upload(t, r, alice)

	err := r.Tip(context.Background(), id, 1, bob)
	assert.ErrorIs(t, err, ErrTransferFailed)
	assert.ErrorIs(t, err, ErrNoLedger)
}

func TestRegistry_TipRewardRate(t *testing.T) {
	ledger := &fakeLedger{}
	rec := &recorder{}
	r := New(Options{Ledger: ledger, Notifier: rec, TipRewardBps: 250})
	id := upload(t, r, alice)

	require.NoError(t, r.Tip(context.Background(), id, 1000, bob))
	assert.Equal(t, int64(25), r.PendingReward(alice))
	assert.Equal(t, []models.EventKind{
		models.EventFileCreated,
		models.EventTipRecorded,
		models.EventRewardAccrued,
	}, rec.kinds())

	require.NoError(t, r.Tip(context.Background(), id, 39, bob))
	assert.Equal(t, int64(25), r.PendingReward(alice), "share below one token is dropped")
}

func TestShareOf(t *testing.T) {
	tests := []struct {
		amount, bps, want int64
	}{
		{amount: 10000, bps: 10000, want: 10000},
		{amount: 1000, bps: 250, want: 25},
		{amount: 39, bps: 250, want: 0},
		{amount: 123456789, bps: 1, want: 12345},
		{amount: 9223372036854775807, bps: 10000, want: 9223372036854775807},
		{amount: 5, bps: 0, want: 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, shareOf(tt.amount, tt.bps), "%d at %d bps", tt.amount, tt.bps)
	}
}

func TestRegistry_Rewards(t *testing.T) {
	r, ledger, rec := newTestRegistry(t)
	ctx := context.Background()

	_, err := r.Claim(ctx, alice)
	assert.ErrorIs(t, err, ErrNothingToClaim)
	assert.ErrorIs(t, r.Accrue(alice, -1), ErrNegativeAmount)
	require.NoError(t, r.Accrue(alice, 0))
	assert.Empty(t, rec.events)

	require.NoError(t, r.Accrue(alice, 100))
	assert.Equal(t, int64(100), r.PendingReward(alice))

	paid, err := r.Claim(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, int64(100), paid)
	assert.Zero(t, r.PendingReward(alice))
	assert.Equal(t, []call{{op: "transfer", from: treasury, to: alice, amount: 100}}, ledger.calls)
	assert.Equal(t, []models.EventKind{models.EventRewardAccrued, models.EventRewardClaimed}, rec.kinds())

	_, err = r.Claim(ctx, alice)
	assert.ErrorIs(t, err, ErrNothingToClaim)
}

func TestRegistry_ClaimRestoresBalanceOnFailure(t *testing.T) {
	r, ledger, rec := newTestRegistry(t)
	require.NoError(t, r.Accrue(alice, 70))
	published := len(rec.events)

	ledger.fail = true
	paid, err := r.Claim(context.Background(), alice)
	assert.ErrorIs(t, err, ErrTransferFailed)
	assert.Zero(t, paid)
	assert.Equal(t, int64(70), r.PendingReward(alice))
	assert.Len(t, rec.events, published)

	ledger.fail = false
	paid, err = r.Claim(context.Background(), alice)
	require.NoError(t, err)
	assert.Equal(t, int64(70), paid)
}

type staticResolver map[string]TokenLedger

func (s staticResolver) Resolve(ref string) (TokenLedger, error) {
	l, ok := s[ref]
	if !ok {
		return nil, errors.New("unknown token")
	}
	return l, nil
}

func TestRegistry_SetTokenAddress(t *testing.T) {
	next := &fakeLedger{}
	r := New(Options{
		Ledger:     &fakeLedger{fail: true},
		TokenRef:   "old",
		Resolver:   staticResolver{"new": next},
		Authorizer: NewOwnable(owner),
	})
	id := upload(t, r, alice)

	assert.ErrorIs(t, r.SetTokenAddress("new", bob), ErrUnauthorized)
	assert.Equal(t, "old", r.TokenRef())
	assert.Error(t, r.SetTokenAddress("missing", owner))
	assert.Equal(t, "old", r.TokenRef())

	require.NoError(t, r.SetTokenAddress("new", owner))
	assert.Equal(t, "new", r.TokenRef())

	require.NoError(t, r.Tip(context.Background(), id, 4, bob))
	assert.Len(t, next.calls, 1)
}

func TestRegistry_Withdraw(t *testing.T) {
	r, ledger, rec := newTestRegistry(t)
	ctx := context.Background()

	assert.ErrorIs(t, r.Withdraw(ctx, bob, 10, alice), ErrUnauthorized)
	assert.ErrorIs(t, r.Withdraw(ctx, bob, 0, owner), ErrNonPositiveAmount)

	ledger.fail = true
	assert.ErrorIs(t, r.Withdraw(ctx, bob, 10, owner), ErrTransferFailed)
	assert.Empty(t, rec.events)

	ledger.fail = false
	require.NoError(t, r.Withdraw(ctx, bob, 10, owner))
	assert.Equal(t, []call{{op: "transfer", from: treasury, to: bob, amount: 10}}, ledger.calls)
	assert.Equal(t, models.EventTreasuryWithdrawn, rec.events[0].Kind)
}

func TestRegistry_TransferOwnership(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	ctx := context.Background()

	assert.ErrorIs(t, r.TransferOwnership(alice, bob), ErrUnauthorized)
	assert.ErrorIs(t, r.TransferOwnership("", owner), ErrInvalidOwner)
	require.NoError(t, r.TransferOwnership(alice, owner))

	assert.ErrorIs(t, r.Withdraw(ctx, bob, 1, owner), ErrUnauthorized)
	assert.NoError(t, r.Withdraw(ctx, bob, 1, alice))
}

func TestRegistry_EventSequence(t *testing.T) {
	r, _, rec := newTestRegistry(t)
	id := upload(t, r, alice)
	_, _, _ = r.Rate(id, 100, bob)
	_ = r.AddComment(id, bob, "nice")

	for i, ev := range rec.events {
		assert.Equal(t, uint64(i+1), ev.Seq)
	}
	assert.Equal(t, uint64(len(rec.events)), r.Seq())
}
