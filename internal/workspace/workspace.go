// Package workspace is the owner's editing session over one profile and its
// contributions.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"archive/api/internal/archive"
	"archive/api/internal/client"
	"archive/api/internal/rbac"
	"archive/api/internal/reorder"
	"archive/api/internal/review"
)

// Backend is the subset of the action client the workspace drives.
type Backend interface {
	UpdateProfile(ctx context.Context, profileID string, update client.ProfileUpdate) error
	UpdateArchiveItem(ctx context.Context, itemID string, update client.ItemUpdate) error
	DeleteArchiveItem(ctx context.Context, itemID string) error
	ReorderArchiveItems(ctx context.Context, profileID string, orderedIDs []string) error
	SubmitProfileForReview(ctx context.Context, profileID string) (client.SubmitResult, error)
	WithdrawSubmission(ctx context.Context, profileID string) error
	SendNotification(ctx context.Context, kind, profileID string, recipients []string) error
}

var ErrItemNotFound = errors.New("workspace: item not found")

type Workspace struct {
	backend Backend
	logger  *slog.Logger
	now     func() time.Time
	board   *reorder.Board

	boardOpts []reorder.BoardOption

	mu      sync.Mutex
	profile archive.Profile

	notifications sync.WaitGroup
}

type Option func(*Workspace)

func WithLogger(logger *slog.Logger) Option {
	return func(w *Workspace) {
		w.logger = logger
	}
}

func WithClock(now func() time.Time) Option {
	return func(w *Workspace) {
		w.now = now
	}
}

// WithBoardOptions configures the reorder board.
func WithBoardOptions(opts ...reorder.BoardOption) Option {
	return func(w *Workspace) {
		w.boardOpts = append(w.boardOpts, opts...)
	}
}

// New opens a workspace over a loaded profile and its items.
func New(profile archive.Profile, items []archive.Contribution, backend Backend, opts ...Option) *Workspace {
	w := &Workspace{
		backend: backend,
		logger:  slog.Default(),
		now:     time.Now,
		profile: profile.Clone(),
	}
	for _, opt := range opts {
		opt(w)
	}
	boardOpts := append([]reorder.BoardOption{reorder.WithLogger(w.logger)}, w.boardOpts...)
	w.board = reorder.NewBoard(profile.ID, items, backend, boardOpts...)
	return w
}

func (w *Workspace) Profile() archive.Profile {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.profile.Clone()
}

// Items is the working item list, in the board's current order.
func (w *Workspace) Items() []archive.Contribution {
	return w.board.Items()
}

func (w *Workspace) Item(id string) (archive.Contribution, bool) {
	for _, item := range w.board.Items() {
		if item.ID == id {
			return item, true
		}
	}
	return archive.Contribution{}, false
}

// Board exposes the reorder board for drag and drop.
func (w *Workspace) Board() *reorder.Board {
	return w.board
}

// Locked reports whether the profile is awaiting review.
func (w *Workspace) Locked() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.profile.Locked()
}

// effectiveStatus is the status the guard checks for an item: a profile under
// review locks all of its items.
func (w *Workspace) effectiveStatus(item archive.Contribution) archive.Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.profile.Locked() {
		return archive.StatusSubmitted
	}
	return item.Status
}

// SetName updates the profile name. While the profile is under review it
// returns the current name and does nothing.
func (w *Workspace) SetName(ctx context.Context, name string) (string, error) {
	return w.setProfileField(ctx, name,
		func(p archive.Profile) string { return p.Name },
		func(p *archive.Profile, v string) { p.Name = v },
		func(v string) client.ProfileUpdate { return client.ProfileUpdate{Name: &v} },
	)
}

func (w *Workspace) SetIntroduction(ctx context.Context, introduction string) (string, error) {
	return w.setProfileField(ctx, introduction,
		func(p archive.Profile) string { return p.Introduction },
		func(p *archive.Profile, v string) { p.Introduction = v },
		func(v string) client.ProfileUpdate { return client.ProfileUpdate{Introduction: &v} },
	)
}

func (w *Workspace) setProfileField(
	ctx context.Context,
	value string,
	get func(archive.Profile) string,
	set func(*archive.Profile, string),
	update func(string) client.ProfileUpdate,
) (string, error) {
	w.mu.Lock()
	current := w.profile.Clone()
	w.mu.Unlock()

	next, err := review.Guard(current.Status, get(current), value)
	if err != nil {
		return next, nil
	}
	if err := w.backend.UpdateProfile(ctx, current.ID, update(next)); err != nil {
		return get(current), err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	set(&w.profile, next)
	w.profile.UpdatedAt = w.now().UTC()
	return next, nil
}

func (w *Workspace) SetItemTitle(ctx context.Context, itemID, title string) (string, error) {
	return setItemField(ctx, w, itemID, title,
		func(c archive.Contribution) string { return c.Title },
		func(c *archive.Contribution, v string) { c.Title = v },
		func(v string) client.ItemUpdate { return client.ItemUpdate{Title: &v} },
	)
}

func (w *Workspace) SetItemDescription(ctx context.Context, itemID, description string) (string, error) {
	return setItemField(ctx, w, itemID, description,
		func(c archive.Contribution) string { return c.Description },
		func(c *archive.Contribution, v string) { c.Description = v },
		func(v string) client.ItemUpdate { return client.ItemUpdate{Description: &v} },
	)
}

// SetItemVisibility may be called at any status except while locked. The
// level has no external effect until the item is approved.
func (w *Workspace) SetItemVisibility(ctx context.Context, itemID string, level archive.Visibility) (archive.Visibility, error) {
	if !level.Valid() {
		return 0, fmt.Errorf("invalid visibility %d", int(level))
	}
	return setItemField(ctx, w, itemID, level,
		func(c archive.Contribution) archive.Visibility { return c.Visibility },
		func(c *archive.Contribution, v archive.Visibility) { c.Visibility = v },
		func(v archive.Visibility) client.ItemUpdate { return client.ItemUpdate{Visibility: &v} },
	)
}

func setItemField[T any](
	ctx context.Context,
	w *Workspace,
	itemID string,
	value T,
	get func(archive.Contribution) T,
	set func(*archive.Contribution, T),
	update func(T) client.ItemUpdate,
) (T, error) {
	item, ok := w.Item(itemID)
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s", ErrItemNotFound, itemID)
	}
	next, err := review.Guard(w.effectiveStatus(item), get(item), value)
	if err != nil {
		return next, nil
	}
	if err := w.backend.UpdateArchiveItem(ctx, itemID, update(next)); err != nil {
		return get(item), err
	}
	w.replaceItems(func(items []archive.Contribution) []archive.Contribution {
		for i := range items {
			if items[i].ID == itemID {
				set(&items[i], next)
				items[i].UpdatedAt = w.now().UTC()
			}
		}
		return items
	})
	return next, nil
}

// Delete removes an item and re-sequences its partition. It reports false,
// without error, when the item is locked.
func (w *Workspace) Delete(ctx context.Context, itemID string) (bool, error) {
	item, ok := w.Item(itemID)
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrItemNotFound, itemID)
	}
	if _, err := review.Guard(w.effectiveStatus(item), false, true); err != nil {
		return false, nil
	}
	if err := w.backend.DeleteArchiveItem(ctx, itemID); err != nil {
		return false, err
	}
	w.replaceItems(func(items []archive.Contribution) []archive.Contribution {
		out := items[:0]
		for _, it := range items {
			if it.ID != itemID {
				out = append(out, it)
			}
		}
		return reorder.Resequence(out)
	})
	return true, nil
}

// Drop reorders within one partition. While locked it does nothing.
func (w *Workspace) Drop(ctx context.Context, itemType archive.ItemType, draggedID string, targetIndex int) error {
	if _, err := review.Guard(w.Profile().Status, false, true); err != nil {
		return nil
	}
	return w.board.Drop(ctx, itemType, draggedID, targetIndex)
}

// AddUploaded appends a record returned by a successful upload to the end of
// its partition. It is safe to call from upload workers.
func (w *Workspace) AddUploaded(record archive.Contribution) {
	w.replaceItems(func(items []archive.Contribution) []archive.Contribution {
		for _, it := range items {
			if it.ID == record.ID {
				return items
			}
		}
		added := record.Clone()
		added.DisplayOrder = len(reorder.Partition(items, added.ItemType)) + 1
		return append(items, added)
	})
}

func (w *Workspace) replaceItems(fn func([]archive.Contribution) []archive.Contribution) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.board.Reset(fn(w.board.Items()))
}

// Readiness evaluates the submission predicate for the current profile.
func (w *Workspace) Readiness() review.Readiness {
	p := w.Profile()
	return review.CheckReadiness(p.Name, p.Introduction)
}

// CanSubmit reports whether the submit action is available at all.
func (w *Workspace) CanSubmit() bool {
	return review.Can(w.Profile().Status, review.EventSubmit) && w.Readiness().Ready()
}

// Submit sends the profile for review and then requests a notification to
// the stewards in the background. A failed notification is only logged.
func (w *Workspace) Submit(ctx context.Context) (client.SubmitResult, error) {
	p := w.Profile()
	if !review.Can(p.Status, review.EventSubmit) {
		return client.SubmitResult{}, fmt.Errorf("%w: submit from %s", review.ErrInvalidTransition, p.Status)
	}
	if readiness := w.Readiness(); !readiness.Ready() {
		return client.SubmitResult{}, fmt.Errorf("%w: %s", review.ErrNotReady, readiness.Message())
	}

	result, err := w.backend.SubmitProfileForReview(ctx, p.ID)
	if err != nil {
		return client.SubmitResult{}, err
	}
	at := result.SubmittedAt
	if at.IsZero() {
		at = w.now()
	}

	w.mu.Lock()
	next, err := review.Apply(w.profile.Review, review.EventSubmit, "", at)
	if err == nil {
		w.profile.Review = next
	}
	w.mu.Unlock()
	w.transitionItems(review.EventSubmit, at)

	w.logger.Info("profile submitted for review",
		slog.String("profile_id", p.ID),
		slog.Int("stewards", len(result.StewardsToNotify)),
	)
	w.notify(ctx, p.ID, result.StewardsToNotify)
	return result, nil
}

func (w *Workspace) notify(ctx context.Context, profileID string, stewards []string) {
	recipients := append([]string(nil), stewards...)
	ctx = context.WithoutCancel(ctx)
	w.notifications.Add(1)
	go func() {
		defer w.notifications.Done()
		if err := w.backend.SendNotification(ctx, client.NotificationProfileSubmitted, profileID, recipients); err != nil {
			w.logger.Warn("profile submitted notification failed",
				slog.String("profile_id", profileID),
				slog.String("error", err.Error()),
			)
		}
	}()
}

// Flush waits for background notification requests to finish.
func (w *Workspace) Flush() {
	w.notifications.Wait()
}

// Withdraw returns a submitted profile to draft. Content is preserved.
func (w *Workspace) Withdraw(ctx context.Context) error {
	p := w.Profile()
	if !review.Can(p.Status, review.EventWithdraw) {
		return fmt.Errorf("%w: withdraw from %s", review.ErrInvalidTransition, p.Status)
	}
	if err := w.backend.WithdrawSubmission(ctx, p.ID); err != nil {
		return err
	}
	now := w.now()
	w.mu.Lock()
	next, err := review.Apply(w.profile.Review, review.EventWithdraw, "", now)
	if err == nil {
		w.profile.Review = next
	}
	w.mu.Unlock()
	w.transitionItems(review.EventWithdraw, now)
	return nil
}

// transitionItems mirrors the backend: a profile submission carries every
// owner-editable item into review and a withdrawal brings them back.
func (w *Workspace) transitionItems(ev review.Event, at time.Time) {
	w.replaceItems(func(items []archive.Contribution) []archive.Contribution {
		for i := range items {
			if !review.Can(items[i].Status, ev) {
				continue
			}
			if next, err := review.Apply(items[i].Review, ev, "", at); err == nil {
				items[i].Review = next
			}
		}
		return items
	})
}

// Preview lists what a simulated viewer would be shown.
func (w *Workspace) Preview(role rbac.Role) []archive.Contribution {
	return rbac.Filter(role, w.board.Items())
}
