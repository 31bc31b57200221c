package reorder

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"archive/api/internal/archive"
)

// DefaultBannerDelay is how long a failed reorder message stays visible.
const DefaultBannerDelay = 3 * time.Second

const failureBanner = "Could not save the new order. Your previous order has been restored."

// Persister sends the full ordered id list to the backend.
type Persister interface {
	ReorderArchiveItems(ctx context.Context, profileID string, orderedIDs []string) error
}

// Board applies drag-and-drop moves optimistically and rolls back to the last
// known-good order when the backend rejects them.
type Board struct {
	profileID   string
	persister   Persister
	logger      *slog.Logger
	bannerDelay time.Duration

	mu          sync.Mutex
	items       []archive.Contribution
	committed   []archive.Contribution
	inflight    int
	banner      string
	bannerSeq   int
	bannerTimer *time.Timer
}

type BoardOption func(*Board)

func WithBannerDelay(d time.Duration) BoardOption {
	return func(b *Board) {
		b.bannerDelay = d
	}
}

func WithLogger(logger *slog.Logger) BoardOption {
	return func(b *Board) {
		b.logger = logger
	}
}

func NewBoard(profileID string, items []archive.Contribution, persister Persister, opts ...BoardOption) *Board {
	b := &Board{
		profileID:   profileID,
		persister:   persister,
		logger:      slog.Default(),
		bannerDelay: DefaultBannerDelay,
		items:       archive.CloneAll(items),
		committed:   archive.CloneAll(items),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Items returns the current, possibly optimistic, order.
func (b *Board) Items() []archive.Contribution {
	b.mu.Lock()
	defer b.mu.Unlock()
	return archive.CloneAll(b.items)
}

func (b *Board) Partition(itemType archive.ItemType) []archive.Contribution {
	return Partition(b.Items(), itemType)
}

// Banner is the current error message, empty when none is shown.
func (b *Board) Banner() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.banner
}

// Reset replaces both the visible and the known-good order, for example after
// items were added or deleted.
func (b *Board) Reset(items []archive.Contribution) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.items = archive.CloneAll(items)
	b.committed = archive.CloneAll(items)
}

// Drop moves draggedID to targetIndex within its partition. Local state changes
// before the backend call. On failure the order last accepted by the backend
// is restored in full and the error is returned. Drops may overlap; once none
// is outstanding the visible order equals the last accepted one.
func (b *Board) Drop(ctx context.Context, itemType archive.ItemType, draggedID string, targetIndex int) error {
	b.mu.Lock()
	next, err := Move(b.items, itemType, draggedID, targetIndex)
	if err != nil {
		b.mu.Unlock()
		return err
	}
	b.items = next
	b.inflight++
	b.mu.Unlock()

	err = b.persister.ReorderArchiveItems(ctx, b.profileID, OrderedIDs(next))

	b.mu.Lock()
	defer b.mu.Unlock()
	b.inflight--
	if err != nil {
		b.logger.Warn("reorder rejected, restoring previous order",
			slog.String("profile_id", b.profileID),
			slog.String("item_id", draggedID),
			slog.String("error", err.Error()),
		)
		b.items = archive.CloneAll(b.committed)
		b.showBannerLocked(failureBanner)
		return err
	}
	b.committed = archive.CloneAll(next)
	if b.inflight == 0 {
		b.items = archive.CloneAll(next)
	}
	return nil
}

func (b *Board) showBannerLocked(message string) {
	b.banner = message
	b.bannerSeq++
	seq := b.bannerSeq
	if b.bannerTimer != nil {
		b.bannerTimer.Stop()
	}
	b.bannerTimer = time.AfterFunc(b.bannerDelay, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if b.bannerSeq == seq {
			b.banner = ""
		}
	})
}
