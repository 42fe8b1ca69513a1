package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"firehouse/internal/app"
	"firehouse/internal/models"
)

func newSeedCmd(configPath *string) *cobra.Command {
	var (
		category string
		count    int
	)
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Register a tester and fill a category with posts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			_, log, a, cleanup, err := boot(ctx, *configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			email, err := seed(cmd, a, category, count)
			if err != nil {
				return err
			}
			log.Info(ctx, "seeded", "category", category, "count", count, "tester", email)
			return nil
		},
	}
	cmd.Flags().StringVar(&category, "category", "list-test", "category to post in")
	cmd.Flags().IntVarP(&count, "count", "n", 100, "number of posts")
	return cmd
}

func seed(cmd *cobra.Command, a *app.App, category string, count int) (string, error) {
	ctx := cmd.Context()
	s := a.NewSession()
	email := fmt.Sprintf("tester-%s@example.com", uuid.NewString()[:8])
	id, err := s.Users.Register(ctx, &models.User{Email: email, Password: uuid.NewString()})
	if err != nil {
		return "", fmt.Errorf("register tester: %w", err)
	}
	for i := 0; i < count; i++ {
		_, err := s.Posts.Create(ctx, &models.PostCreate{
			Category: category,
			UID:      id.UID,
			Title:    fmt.Sprintf("title %d", i),
			Content:  fmt.Sprintf("content %d", i),
		})
		if err != nil {
			return "", fmt.Errorf("post %d: %w", i, err)
		}
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d posts in %q by %s\n", count, category, email)
	return email, nil
}
