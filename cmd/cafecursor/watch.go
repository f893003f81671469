package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"

	"github.com/cafecursor/cafecursor/internal/api"
	"github.com/cafecursor/cafecursor/internal/feed"
	"github.com/cafecursor/cafecursor/internal/querycache"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newWatchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Follow the live card feed",
		Long: "Follow the live card feed. Commands on stdin: enter or \"n\" shows new cards, " +
			"\"m\" loads more, \"r\" reconnects, \"q\" quits.",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := newClientEnv()
			if err != nil {
				return err
			}
			defer env.logger.Sync() //nolint:errcheck
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runWatch(ctx, env, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}

func runWatch(ctx context.Context, env clientEnv, in io.Reader, out io.Writer) error {
	cache := querycache.New(querycache.Config{Logger: env.logger})
	reconciler, err := feed.NewReconciler(feed.Config{
		Source:      env.client,
		Pages:       env.client,
		Cache:       cache,
		Logger:      env.logger,
		MaxAttempts: env.config.MaxAttempts,
		PageSize:    env.config.FeedPageSize,
	})
	if err != nil {
		return err
	}
	reconciler.OnStatus(func(status feed.Status) {
		fmt.Fprintf(out, "[%s] pending=%d\n", status, len(reconciler.Pending()))
	})

	page, err := reconciler.LoadFirstPage(ctx)
	if err != nil {
		return fmt.Errorf("load feed: %w", err)
	}
	printCards(out, page.Cards())

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		err := reconciler.Run(groupCtx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	group.Go(func() error {
		defer cancel()
		return readCommands(groupCtx, in, out, reconciler)
	})
	return group.Wait()
}

func readCommands(ctx context.Context, in io.Reader, out io.Writer, reconciler *feed.Reconciler) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- strings.TrimSpace(scanner.Text()):
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			switch line {
			case "", "n":
				inserted := reconciler.MergePending()
				fmt.Fprintf(out, "merged %d new card(s)\n", inserted)
				printCards(out, reconciler.Visible())
			case "m":
				page, err := reconciler.LoadMore(ctx)
				if err != nil {
					fmt.Fprintf(out, "load more failed: %v\n", err)
					continue
				}
				printCards(out, page.Cards())
			case "r":
				reconciler.Reconnect()
			case "q":
				return nil
			default:
				fmt.Fprintf(out, "unknown command %q\n", line)
			}
		}
	}
}

func printCards(out io.Writer, list []api.Card) {
	for index, card := range list {
		liked := " "
		if card.LikedByViewer {
			liked = "*"
		}
		fmt.Fprintf(out, "%3d %s %-32s likes=%d\n", index+1, liked, card.Slug, card.LikeCount)
	}
}
