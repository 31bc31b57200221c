// Package upload schedules file ingestion through a bounded pool of workers.
package upload

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"archive/api/internal/archive"
	"archive/api/internal/client"
	"archive/api/internal/util"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusUploading Status = "uploading"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

const (
	progressClaimed = 10
	progressEncoded = 40
	progressSent    = 90
	progressDone    = 100
)

var (
	ErrItemNotFound = errors.New("upload: item not found")
	ErrNotRetryable = errors.New("upload: only failed items can be retried")
	errEncodeFailed = errors.New("could not read file")
)

const failedUploadCopy = "Upload failed. Your file is still selected; retry when ready."

// Item is one file's position in the queue.
type Item struct {
	ID       string
	File     File
	Status   Status
	Progress int
	Error    string
	Result   *archive.Contribution
}

// Uploader persists one encoded file.
type Uploader interface {
	UploadArchiveItem(ctx context.Context, req client.UploadRequest) (archive.Contribution, error)
}

// Controller owns the upload queue. The queue is a snapshot that is replaced
// wholesale on every change.
type Controller struct {
	profileID  string
	uploader   Uploader
	policy     Policy
	logger     *slog.Logger
	onChange   func([]Item)
	onUploaded func(archive.Contribution)

	mu    sync.Mutex
	items []Item
}

type Option func(*Controller)

func WithPolicy(p Policy) Option {
	return func(c *Controller) {
		c.policy = p.normalized()
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		c.logger = logger
	}
}

// OnChange registers an observer for queue snapshots. It runs synchronously
// while the queue lock is held and must not call back into the Controller.
func OnChange(fn func([]Item)) Option {
	return func(c *Controller) {
		c.onChange = fn
	}
}

// OnUploaded receives each persisted record as soon as its upload succeeds.
func OnUploaded(fn func(archive.Contribution)) Option {
	return func(c *Controller) {
		c.onUploaded = fn
	}
}

func NewController(profileID string, uploader Uploader, opts ...Option) *Controller {
	c := &Controller{
		profileID: profileID,
		uploader:  uploader,
		policy:    DefaultPolicy(),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Snapshot returns a copy of the current queue.
func (c *Controller) Snapshot() []Item {
	c.mu.Lock()
	defer c.mu.Unlock()
	return cloneItems(c.items)
}

// Enqueue validates files and adds the valid ones as pending items. Every
// rejection is collected into the returned notice; valid siblings are queued
// regardless.
func (c *Controller) Enqueue(files []File) Notice {
	var notice Notice
	if extra := len(files) - c.policy.MaxBatchFiles; extra > 0 {
		notice.Lines = append(notice.Lines, fmt.Sprintf(
			"You can upload up to %d files at a time; %d extra %s not added.",
			c.policy.MaxBatchFiles, extra, plural(extra, "file was", "files were"),
		))
		files = files[:c.policy.MaxBatchFiles]
	}

	accepted := make([]Item, 0, len(files))
	for _, f := range files {
		if err := c.policy.Validate(f); err != nil {
			notice.Lines = append(notice.Lines, err.Error())
			continue
		}
		accepted = append(accepted, Item{
			ID:     util.NewID("upl"),
			File:   f,
			Status: StatusPending,
		})
	}

	if len(accepted) > 0 {
		c.mu.Lock()
		next := make([]Item, 0, len(c.items)+len(accepted))
		next = append(next, c.items...)
		next = append(next, accepted...)
		c.replaceLocked(next)
		c.mu.Unlock()
	}

	if !notice.Empty() {
		c.logger.Info("files rejected before upload",
			slog.String("profile_id", c.profileID),
			slog.Int("rejected", len(notice.Lines)),
			slog.Int("accepted", len(accepted)),
		)
	}
	return notice
}

// Run drives the queue through the worker pool and returns the queue as it
// stands once every worker has run out of pending items.
func (c *Controller) Run(ctx context.Context) []Item {
	return c.runPool(ctx, c.Snapshot())
}

// Retry resets one failed item to pending and uploads it outside the pool.
// Sibling items are not touched.
func (c *Controller) Retry(ctx context.Context, id string) (Item, error) {
	c.mu.Lock()
	idx := c.indexLocked(id)
	if idx < 0 {
		c.mu.Unlock()
		return Item{}, fmt.Errorf("%w: %s", ErrItemNotFound, id)
	}
	if c.items[idx].Status != StatusFailed {
		c.mu.Unlock()
		return Item{}, fmt.Errorf("%w: %s is %s", ErrNotRetryable, id, c.items[idx].Status)
	}
	c.updateLocked(idx, func(item *Item) {
		item.Status = StatusPending
		item.Progress = 0
		item.Error = ""
	})
	c.mu.Unlock()

	if file, ok := c.claim(id); ok {
		c.process(ctx, id, file)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	idx = c.indexLocked(id)
	return cloneItems(c.items[idx : idx+1])[0], nil
}

// RetryFailed resets every failed item to pending and pushes the whole current
// queue back through the pool. Items that already succeeded are skipped only
// because workers claim nothing but pending items.
func (c *Controller) RetryFailed(ctx context.Context) []Item {
	c.mu.Lock()
	next := cloneItems(c.items)
	reset := 0
	for i := range next {
		if next[i].Status == StatusFailed {
			next[i].Status = StatusPending
			next[i].Progress = 0
			next[i].Error = ""
			reset++
		}
	}
	if reset > 0 {
		c.replaceLocked(next)
	}
	queue := cloneItems(c.items)
	c.mu.Unlock()

	c.logger.Info("retrying failed uploads", slog.String("profile_id", c.profileID), slog.Int("reset", reset))
	return c.runPool(ctx, queue)
}

// runPool starts exactly Concurrency worker loops over queue and joins them.
func (c *Controller) runPool(ctx context.Context, queue []Item) []Item {
	order := make([]string, len(queue))
	for i, item := range queue {
		order[i] = item.ID
	}

	var wg sync.WaitGroup
	for worker := 0; worker < c.policy.Concurrency; worker++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			c.workerLoop(ctx, worker, order)
		}(worker)
	}
	wg.Wait()

	final := c.Snapshot()
	counts := Counts(final)
	c.logger.Info("upload queue drained",
		slog.String("profile_id", c.profileID),
		slog.Int("succeeded", counts[StatusSucceeded]),
		slog.Int("failed", counts[StatusFailed]),
		slog.Int("pending", counts[StatusPending]),
	)
	return final
}

func (c *Controller) workerLoop(ctx context.Context, worker int, order []string) {
	for {
		if ctx.Err() != nil {
			return
		}
		id, file, ok := c.claimNext(order)
		if !ok {
			return
		}
		c.logger.Debug("worker claimed item", slog.Int("worker", worker), slog.String("item_id", id), slog.String("file", file.Name))
		c.process(ctx, id, file)
	}
}

// claimNext moves the first pending item in order to uploading.
func (c *Controller) claimNext(order []string) (string, File, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range order {
		idx := c.indexLocked(id)
		if idx < 0 || c.items[idx].Status != StatusPending {
			continue
		}
		c.markClaimedLocked(idx)
		return id, c.items[idx].File, true
	}
	return "", File{}, false
}

func (c *Controller) claim(id string) (File, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx := c.indexLocked(id)
	if idx < 0 || c.items[idx].Status != StatusPending {
		return File{}, false
	}
	c.markClaimedLocked(idx)
	return c.items[idx].File, true
}

func (c *Controller) markClaimedLocked(idx int) {
	c.updateLocked(idx, func(item *Item) {
		item.Status = StatusUploading
		item.Progress = progressClaimed
		item.Error = ""
	})
}

// process runs one claimed item to succeeded or failed.
func (c *Controller) process(ctx context.Context, id string, file File) {
	data, err := encode(file)
	if err != nil {
		c.fail(id, file, err)
		return
	}
	c.advance(id, progressEncoded)

	record, err := c.uploader.UploadArchiveItem(ctx, client.UploadRequest{
		ProfileID:  c.profileID,
		FileName:   file.Name,
		FileType:   file.Type,
		FileSize:   file.Size,
		FileData:   data,
		Title:      defaultTitle(file.Name),
		Visibility: archive.VisibilityDraft,
	})
	if err != nil {
		c.fail(id, file, err)
		return
	}
	c.advance(id, progressSent)

	c.mu.Lock()
	if idx := c.indexLocked(id); idx >= 0 {
		result := record.Clone()
		c.updateLocked(idx, func(item *Item) {
			item.Status = StatusSucceeded
			item.Progress = progressDone
			item.Result = &result
		})
	}
	c.mu.Unlock()

	if c.onUploaded != nil {
		c.onUploaded(record)
	}
}

func (c *Controller) advance(id string, progress int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx := c.indexLocked(id)
	if idx < 0 || c.items[idx].Status != StatusUploading || c.items[idx].Progress >= progress {
		return
	}
	c.updateLocked(idx, func(item *Item) {
		item.Progress = progress
	})
}

func (c *Controller) fail(id string, file File, err error) {
	c.logger.Warn("upload failed",
		slog.String("profile_id", c.profileID),
		slog.String("item_id", id),
		slog.String("file", file.Name),
		slog.String("error", err.Error()),
	)
	message := failedUploadCopy
	if errors.Is(err, errEncodeFailed) {
		message = "We couldn't read this file. Try selecting it again."
	} else {
		var appErr *client.ApplicationError
		if errors.As(err, &appErr) {
			message = client.UserMessage(err)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if idx := c.indexLocked(id); idx >= 0 {
		c.updateLocked(idx, func(item *Item) {
			item.Status = StatusFailed
			item.Progress = 0
			item.Error = message
		})
	}
}

func (c *Controller) indexLocked(id string) int {
	for i := range c.items {
		if c.items[i].ID == id {
			return i
		}
	}
	return -1
}

// updateLocked copies the queue, applies fn to one item and swaps the copy in.
func (c *Controller) updateLocked(idx int, fn func(*Item)) {
	next := cloneItems(c.items)
	fn(&next[idx])
	c.replaceLocked(next)
}

func (c *Controller) replaceLocked(next []Item) {
	c.items = next
	if c.onChange != nil {
		c.onChange(cloneItems(next))
	}
}

func encode(f File) (string, error) {
	if f.Open == nil {
		return "", fmt.Errorf("%w: %s has no content", errEncodeFailed, f.Name)
	}
	rc, err := f.Open()
	if err != nil {
		return "", fmt.Errorf("%w: %v", errEncodeFailed, err)
	}
	defer rc.Close()
	raw, err := io.ReadAll(rc)
	if err != nil {
		return "", fmt.Errorf("%w: %v", errEncodeFailed, err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

func defaultTitle(name string) string {
	return strings.TrimSpace(strings.TrimSuffix(name, filepath.Ext(name)))
}

// Counts tallies items by status.
func Counts(items []Item) map[Status]int {
	counts := make(map[Status]int, 4)
	for _, item := range items {
		counts[item.Status]++
	}
	return counts
}

// Succeeded returns the items whose upload finished, in queue order.
func Succeeded(items []Item) []Item {
	out := make([]Item, 0, len(items))
	for _, item := range items {
		if item.Status == StatusSucceeded {
			out = append(out, item)
		}
	}
	return out
}

func cloneItems(items []Item) []Item {
	if items == nil {
		return nil
	}
	out := make([]Item, len(items))
	for i, item := range items {
		out[i] = item
		if item.Result != nil {
			result := item.Result.Clone()
			out[i].Result = &result
		}
	}
	return out
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
