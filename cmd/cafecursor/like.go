package main

import (
	"context"
	"fmt"

	"github.com/cafecursor/cafecursor/internal/api"
	"github.com/cafecursor/cafecursor/internal/optimistic"
	"github.com/cafecursor/cafecursor/internal/querycache"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newLikeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "like <card-id-or-slug>",
		Short: "Toggle your like on a card",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := newClientEnv()
			if err != nil {
				return err
			}
			defer env.logger.Sync() //nolint:errcheck
			if !env.client.Authenticated() {
				return fmt.Errorf("a session token is required to like cards")
			}
			cache := querycache.New(querycache.Config{Logger: env.logger})
			liked, latest, err := toggleCardLike(cmd.Context(), env.client, cache, args[0], env.logger)
			if err != nil {
				return err
			}
			verb := "unliked"
			if liked {
				verb = "liked"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s (likes=%d)\n", verb, latest.Slug, latest.LikeCount)
			return nil
		},
	}
}

type cardLiker interface {
	optimistic.LikeAPI
	GetCard(ctx context.Context, ref string) (api.Card, error)
}

// toggleCardLike resolves ref with a single lookup, seeds the card into cache and toggles the
// like. The returned card reflects the refetch that follows a successful toggle.
func toggleCardLike(ctx context.Context, client cardLiker, cache *querycache.Cache, ref string, logger *zap.Logger) (bool, api.Card, error) {
	card, err := client.GetCard(ctx, ref)
	if err != nil {
		return false, api.Card{}, err
	}
	key := querycache.CardKey(card.ID)
	seeded := true
	if _, err := querycache.FetchValue(ctx, cache, key, func(ctx context.Context) (api.Card, error) {
		if seeded {
			seeded = false
			return card, nil
		}
		return client.GetCard(ctx, card.ID)
	}); err != nil {
		return false, api.Card{}, err
	}

	toggler := optimistic.NewLikeToggler(cache, client, logger)
	liked, err := toggler.ToggleLike(ctx, card.ID)
	if err != nil {
		return false, api.Card{}, err
	}
	latest, _ := querycache.Value[api.Card](cache, key)
	return liked, latest, nil
}
