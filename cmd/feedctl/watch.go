package main

import (
	"fmt"
	"io"
	"sync"

	"github.com/Sternrassler/message-feed-client/pkg/messages"
	"github.com/spf13/cobra"
)

func newWatchCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Load the feed page by page and print every state change",
		Long: `Load the feed page by page and print every state change.

The first page is requested immediately; further pages are requested once
the previous one has settled, until --pages pages are loaded or the feed
is exhausted.

Examples:
  feedctl watch
  feedctl watch --pages 0        # load everything
  feedctl watch --items          # also print the messages`,
		RunE: func(cmd *cobra.Command, args []string) error {
			pages, _ := cmd.Flags().GetInt("pages")
			items, _ := cmd.Flags().GetBool("items")
			return runWatch(cmd, a, pages, items)
		},
	}

	cmd.Flags().Int("pages", 3, "Number of pages to load (0 loads all)")
	cmd.Flags().Bool("items", false, "Print the loaded messages when done")

	return cmd
}

func runWatch(cmd *cobra.Command, a *app, pages int, printItems bool) error {
	ctx := cmd.Context()
	out := &lockedWriter{w: cmd.OutOrStdout()}

	opts := append(a.cfg.LoaderOptions(), messages.WithLogger(a.logger.With().Str("component", "message-loader").Logger()))
	loader := messages.NewLoader(ctx, a.service(), opts...)
	defer loader.Close()

	unsubscribe := loader.State().Subscribe(func(v messages.FeedValue) {
		printState(out, v)
	})
	defer unsubscribe()
	printState(out, loader.State().Get())

	for loaded := 1; ; loaded++ {
		v, err := loader.State().WaitFor(ctx, func(v messages.FeedValue) bool { return !v.Pending })
		if err != nil {
			return err
		}
		if v.Error != nil {
			return v.Error
		}
		if v.Data.Complete() || (pages > 0 && loaded >= pages) {
			break
		}
		if err := loader.AddMore(ctx); err != nil {
			return err
		}
	}

	v := loader.State().Get()
	if printItems && v.Data != nil {
		for _, m := range v.Data.Items {
			fmt.Fprintf(out, "%s\t%s\t%s\t%s\n", m.CreatedAt.Format("2006-01-02 15:04"), m.Author.Name, m.ID, m.Text)
		}
	}
	return nil
}

func printState(w io.Writer, v messages.FeedValue) {
	items, total, offset := 0, 0, 0
	if v.Data != nil {
		items, total, offset = len(v.Data.Items), v.Data.Total, v.Data.Offset
	}

	line := fmt.Sprintf("#%d pending=%t items=%d/%d offset=%d", v.Version, v.Pending, items, total, offset)
	if v.Error != nil {
		line += fmt.Sprintf(" error=%s %q", v.Error.Code, v.Error.Message)
	}
	fmt.Fprintln(w, line)
}

// lockedWriter serializes writes from the loader's goroutines and the
// command's own output.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
