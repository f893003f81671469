package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cafecursor/cafecursor/internal/api"
	"github.com/cafecursor/cafecursor/internal/autosave"
	"github.com/cafecursor/cafecursor/internal/cards"
	"github.com/spf13/cobra"
)

type saveOptions struct {
	cardRef     string
	profilePath string
	image       string
}

func newSaveCommand() *cobra.Command {
	var options saveOptions
	cmd := &cobra.Command{
		Use:   "save",
		Short: "Create or update your card",
		Long: "Create or update your card. --image accepts a URL or a local JPEG/PNG file, " +
			"which is uploaded first. Pass --card to update an existing card.",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := newClientEnv()
			if err != nil {
				return err
			}
			defer env.logger.Sync() //nolint:errcheck
			return runSave(cmd, env, options)
		},
	}
	cmd.Flags().StringVar(&options.cardRef, "card", "", "Id or slug of the card to update")
	cmd.Flags().StringVar(&options.profilePath, "profile", "", "Path to the profile JSON document")
	cmd.Flags().StringVar(&options.image, "image", "", "Image URL or local image file")
	return cmd
}

func runSave(cmd *cobra.Command, env clientEnv, options saveOptions) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	var existing *api.Card
	if options.cardRef != "" {
		card, err := env.client.GetCard(ctx, options.cardRef)
		if err != nil {
			return err
		}
		existing = &card
	}

	controller, err := autosave.NewController(autosave.Config{
		Client:        env.client,
		Authenticated: env.client.Authenticated,
		Existing:      existing,
		Regenerate: func(_ context.Context, card api.Card) {
			fmt.Fprintf(out, "profile changed; share image for %s needs a refresh\n", card.Slug)
		},
		Logger:   env.logger,
		Debounce: env.config.AutosaveDebounce,
	})
	if err != nil {
		return err
	}
	defer controller.Close()
	controller.MarkInteraction()

	if options.profilePath != "" {
		raw, err := os.ReadFile(options.profilePath)
		if err != nil {
			return err
		}
		if err := controller.SetProfile(json.RawMessage(raw)); err != nil {
			return fmt.Errorf("profile %s: %w", options.profilePath, err)
		}
	}
	if options.image != "" {
		imageURL, err := resolveImage(ctx, env.client, options.image)
		if err != nil {
			return err
		}
		controller.SetImage(imageURL)
	}

	result, err := controller.ForceSave(ctx)
	if errors.Is(err, cards.ErrOwnerHasCard) {
		return fmt.Errorf("you already have a card; pass --card <id-or-slug> to update it: %w", err)
	}
	if err != nil {
		return err
	}
	switch {
	case result.Skipped != autosave.SkipNone:
		fmt.Fprintf(out, "nothing saved (%s)\n", result.Skipped)
	case result.Created:
		fmt.Fprintf(out, "created %s (%s)\n", result.Card.Slug, result.Card.ID)
	default:
		fmt.Fprintf(out, "updated %s\n", result.Card.Slug)
	}
	return nil
}

func resolveImage(ctx context.Context, client *api.Client, value string) (string, error) {
	if strings.HasPrefix(value, "http://") || strings.HasPrefix(value, "https://") {
		return value, nil
	}
	data, err := os.ReadFile(value)
	if err != nil {
		return "", err
	}
	return client.UploadImage(ctx, filepath.Base(value), data)
}
