package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"archive/api/internal/batchmeta"
	"archive/api/internal/upload"
)

type uploadOptions struct {
	visibility  string
	title       string
	description string
	occurredOn  string
	retryFailed bool
	attempts    int
}

func newUploadCommand(ctx *commandContext) *cobra.Command {
	var opts uploadOptions
	cmd := &cobra.Command{
		Use:   "upload FILE...",
		Short: "Upload files to your profile",
		Long: "Upload images and PDFs through a bounded worker pool, then apply the\n" +
			"given metadata to every file that made it.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUpload(cmd, ctx, args, opts)
		},
	}
	cmd.Flags().StringVar(&opts.visibility, "visibility", "", "Visibility for every uploaded item (draft, family, connections, public)")
	cmd.Flags().StringVar(&opts.title, "title", "", "Title for every uploaded item")
	cmd.Flags().StringVar(&opts.description, "description", "", "Description for every uploaded item")
	cmd.Flags().StringVar(&opts.occurredOn, "occurred-on", "", "Date for every uploaded item (YYYY-MM-DD)")
	cmd.Flags().BoolVar(&opts.retryFailed, "retry-failed", false, "Retry failed uploads once before collecting metadata")
	cmd.Flags().IntVar(&opts.attempts, "attempts", 1, "Attempts per file; failed files are retried one at a time")
	return cmd
}

func runUpload(cmd *cobra.Command, ctx *commandContext, paths []string, opts uploadOptions) error {
	ws, cli, s, err := ctx.openWorkspace(cmd.Context())
	if err != nil {
		return err
	}
	if ws.Locked() {
		return errors.New("profile is awaiting review; withdraw it before uploading")
	}
	policy, err := ctx.policy(s)
	if err != nil {
		return err
	}

	files := make([]upload.File, 0, len(paths))
	for _, path := range paths {
		f, err := upload.PathFile(path)
		if err != nil {
			return err
		}
		files = append(files, f)
	}

	controllerOpts := []upload.Option{
		upload.WithPolicy(policy),
		upload.WithLogger(ctx.log()),
		upload.OnUploaded(ws.AddUploaded),
	}
	if !ctx.json() && isatty.IsTerminal(os.Stderr.Fd()) {
		controllerOpts = append(controllerOpts, upload.OnChange(progressPrinter(cmd.ErrOrStderr())))
	}
	controller := upload.NewController(ws.Profile().ID, cli, controllerOpts...)

	if notice := controller.Enqueue(files); !notice.Empty() {
		fmt.Fprintln(cmd.ErrOrStderr(), notice.String())
	}
	items := controller.Run(cmd.Context())
	if opts.attempts > 1 {
		if items, err = retryEach(cmd.Context(), controller, items, opts.attempts-1); err != nil {
			return err
		}
	}
	if opts.retryFailed && upload.Counts(items)[upload.StatusFailed] > 0 {
		items = controller.RetryFailed(cmd.Context())
	}

	if ctx.json() {
		if err := writeJSON(cmd, uploadRows(items)); err != nil {
			return err
		}
	} else {
		fmt.Fprintln(cmd.OutOrStdout(), renderUploadTable(items))
	}

	if err := collectMetadata(cmd.Context(), ctx, cli, items, opts); err != nil {
		return err
	}
	if failed := upload.Counts(items)[upload.StatusFailed]; failed > 0 {
		return fmt.Errorf("%d %s failed; rerun with --retry-failed or upload them again", failed, plural(failed, "upload", "uploads"))
	}
	return nil
}

// retryEach gives every failed item up to extra more attempts, one item at a
// time.
func retryEach(ctx context.Context, controller *upload.Controller, items []upload.Item, extra int) ([]upload.Item, error) {
	for round := 0; round < extra; round++ {
		retried := false
		for _, item := range items {
			if item.Status != upload.StatusFailed {
				continue
			}
			if _, err := controller.Retry(ctx, item.ID); err != nil {
				return nil, err
			}
			retried = true
		}
		if !retried {
			break
		}
		items = controller.Snapshot()
	}
	return items, nil
}

// collectMetadata applies the batch flags to every succeeded item and saves
// them in one pass.
func collectMetadata(ctx context.Context, cc *commandContext, updater batchmeta.Updater, items []upload.Item, opts uploadOptions) error {
	fields := []struct {
		field batchmeta.Field
		value string
	}{
		{batchmeta.FieldTitle, opts.title},
		{batchmeta.FieldDescription, opts.description},
		{batchmeta.FieldOccurredOn, opts.occurredOn},
		{batchmeta.FieldVisibility, opts.visibility},
	}
	changed := false
	for _, f := range fields {
		if f.value != "" {
			changed = true
		}
	}
	if !changed {
		return nil
	}

	collector, err := batchmeta.New(items, updater, cc.log())
	if errors.Is(err, batchmeta.ErrNothingUploaded) {
		return nil
	}
	if err != nil {
		return err
	}
	// Untouched records keep the title the upload derived from the file name.
	for _, item := range upload.Succeeded(items) {
		if item.Result != nil {
			if err := collector.Set(item.Result.ID, batchmeta.FieldTitle, item.Result.Title); err != nil {
				return err
			}
		}
	}
	for _, f := range fields {
		if f.value == "" {
			continue
		}
		if err := collector.ApplyToAll(f.field, f.value); err != nil {
			return err
		}
	}
	if err := collector.Save(ctx); err != nil {
		if errors.Is(err, batchmeta.ErrSaveFailed) {
			return errors.New(batchmeta.SaveFailedMessage)
		}
		return err
	}
	return nil
}

func progressPrinter(w io.Writer) func([]upload.Item) {
	return func(items []upload.Item) {
		counts := upload.Counts(items)
		fmt.Fprintf(w, "\r%d uploaded, %d failed, %d waiting ", counts[upload.StatusSucceeded], counts[upload.StatusFailed], counts[upload.StatusPending]+counts[upload.StatusUploading])
		if counts[upload.StatusPending]+counts[upload.StatusUploading] == 0 {
			fmt.Fprintln(w)
		}
	}
}

type uploadRow struct {
	File   string `json:"file"`
	Size   int64  `json:"size_bytes"`
	Status string `json:"status"`
	ItemID string `json:"item_id,omitempty"`
	Error  string `json:"error,omitempty"`
}

func uploadRows(items []upload.Item) []uploadRow {
	rows := make([]uploadRow, 0, len(items))
	for _, item := range items {
		row := uploadRow{File: item.File.Name, Size: item.File.Size, Status: string(item.Status), Error: item.Error}
		if item.Result != nil {
			row.ItemID = item.Result.ID
		}
		rows = append(rows, row)
	}
	return rows
}

func renderUploadTable(items []upload.Item) string {
	rows := make([][]string, 0, len(items))
	for _, r := range uploadRows(items) {
		rows = append(rows, []string{r.File, humanize.Bytes(uint64(r.Size)), r.Status, r.ItemID, r.Error})
	}
	return renderTable(
		[]string{"File", "Size", "Status", "Item", "Error"},
		rows,
		[]columnAlignment{alignLeft, alignRight, alignLeft, alignLeft, alignLeft},
	)
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
