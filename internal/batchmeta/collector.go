// Package batchmeta collects descriptive fields for freshly uploaded items
// before they are saved back as contributions.
package batchmeta

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"archive/api/internal/archive"
	"archive/api/internal/client"
	"archive/api/internal/upload"
)

// SaveFailedMessage is the only copy shown when a save stops early. It carries
// no count of the records written before the failure.
const SaveFailedMessage = "Some details could not be saved. Please try again."

var (
	ErrSaveFailed      = errors.New("batchmeta: save failed")
	ErrNothingUploaded = errors.New("batchmeta: no uploads succeeded")
	ErrUnknownRecord   = errors.New("batchmeta: unknown record")
	ErrUnknownField    = errors.New("batchmeta: unknown field")
)

type Field string

const (
	FieldTitle       Field = "title"
	FieldDescription Field = "description"
	FieldVisibility  Field = "visibility"
	FieldOccurredOn  Field = "occurred_on"
)

func ParseField(value string) (Field, error) {
	switch f := Field(strings.ToLower(strings.TrimSpace(value))); f {
	case FieldTitle, FieldDescription, FieldVisibility, FieldOccurredOn:
		return f, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownField, value)
	}
}

// Record is the editable metadata for one uploaded item.
type Record struct {
	ItemID      string
	FileName    string
	Title       string
	Description string
	OccurredOn  string
	Visibility  archive.Visibility
}

func (r Record) update() client.ItemUpdate {
	title, description, occurredOn, visibility := r.Title, r.Description, r.OccurredOn, r.Visibility
	return client.ItemUpdate{
		Title:       &title,
		Description: &description,
		OccurredOn:  &occurredOn,
		Visibility:  &visibility,
	}
}

// Updater persists one record.
type Updater interface {
	UpdateArchiveItem(ctx context.Context, itemID string, update client.ItemUpdate) error
}

type Collector struct {
	updater Updater
	logger  *slog.Logger
	records []Record
}

// New opens a collector over the succeeded items of an upload run. It returns
// ErrNothingUploaded when none succeeded.
func New(items []upload.Item, updater Updater, logger *slog.Logger) (*Collector, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var records []Record
	for _, item := range upload.Succeeded(items) {
		if item.Result == nil {
			continue
		}
		records = append(records, Record{
			ItemID:     item.Result.ID,
			FileName:   item.File.Name,
			Visibility: archive.VisibilityDraft,
		})
	}
	if len(records) == 0 {
		return nil, ErrNothingUploaded
	}
	return &Collector{updater: updater, logger: logger, records: records}, nil
}

// Records returns a copy of the records in upload order.
func (c *Collector) Records() []Record {
	return append([]Record(nil), c.records...)
}

// Set changes one field of one record in memory.
func (c *Collector) Set(itemID string, field Field, value string) error {
	for i := range c.records {
		if c.records[i].ItemID == itemID {
			return assign(&c.records[i], field, value)
		}
	}
	return fmt.Errorf("%w: %s", ErrUnknownRecord, itemID)
}

// ApplyToAll overwrites field on every record in memory.
func (c *Collector) ApplyToAll(field Field, value string) error {
	next := append([]Record(nil), c.records...)
	for i := range next {
		if err := assign(&next[i], field, value); err != nil {
			return err
		}
	}
	c.records = next
	return nil
}

func assign(r *Record, field Field, value string) error {
	switch field {
	case FieldTitle:
		r.Title = strings.TrimSpace(value)
	case FieldDescription:
		r.Description = strings.TrimSpace(value)
	case FieldOccurredOn:
		r.OccurredOn = strings.TrimSpace(value)
	case FieldVisibility:
		v, err := archive.ParseVisibility(value)
		if err != nil {
			return err
		}
		r.Visibility = v
	default:
		return fmt.Errorf("%w: %q", ErrUnknownField, field)
	}
	return nil
}

// Save writes the records one at a time in order and stops at the first
// failure. Records after the failing one are left unsaved.
func (c *Collector) Save(ctx context.Context) error {
	for _, record := range c.records {
		if err := c.updater.UpdateArchiveItem(ctx, record.ItemID, record.update()); err != nil {
			c.logger.Warn("batch metadata save stopped",
				slog.String("item_id", record.ItemID),
				slog.String("error", err.Error()),
			)
			return ErrSaveFailed
		}
	}
	c.logger.Info("batch metadata saved", slog.Int("records", len(c.records)))
	return nil
}
