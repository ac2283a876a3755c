package app

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"
)

// Show prints recent cycle records.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	records, err := store.ListRecentHistory(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Fprintln(os.Stdout, "no history found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tCount\tThreshold\tExceeded\tSent\tError")

	for _, record := range records {
		errMsg := ""
		if record.TelegramError != nil {
			errMsg = sanitizeInline(*record.TelegramError)
		}
		fmt.Fprintf(
			writer,
			"%s\t%d\t%d\t%t\t%t\t%s\n",
			record.CreatedAt.UTC().Format(time.RFC3339),
			record.ItemCount,
			record.Threshold,
			record.ExceedsThreshold,
			record.TelegramSent,
			errMsg,
		)
	}

	writer.Flush()
	return nil
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
