package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"highscores/core"
	sdk "highscores/sdk/go"
)

type globals struct {
	server  string
	apiKey  string
	timeout time.Duration
}

func newRootCmd() *cobra.Command {
	g := &globals{}
	rootCmd := &cobra.Command{
		Use:           "highscoresctl",
		Short:         "Manage leaderboards on a HighScores server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	defaultServer := os.Getenv("HIGHSCORES_URL")
	if defaultServer == "" {
		defaultServer = "http://localhost:8080/api"
	}
	rootCmd.PersistentFlags().StringVarP(&g.server, "server", "s", defaultServer, "API base URL (env HIGHSCORES_URL)")
	rootCmd.PersistentFlags().StringVar(&g.apiKey, "api-key", os.Getenv("HIGHSCORES_API_KEY"), "API key sent as X-API-Key (env HIGHSCORES_API_KEY)")
	rootCmd.PersistentFlags().DurationVar(&g.timeout, "timeout", 10*time.Second, "Request timeout")

	rootCmd.AddCommand(
		newCreateCmd(g),
		newSubmitCmd(g),
		newListCmd(g),
		newGetCmd(g),
		newClearCmd(g),
		newDeleteCmd(g),
		newWebhookCmd(g),
		newWatchCmd(g),
	)
	return rootCmd
}

func (g *globals) client() (*sdk.Client, error) {
	return sdk.NewClient(g.server, sdk.WithAPIKey(g.apiKey))
}

// call runs fn with a client and a request-scoped context, printing its result as JSON.
func (g *globals) call(cmd *cobra.Command, fn func(context.Context, *sdk.Client) (any, error)) error {
	c, err := g.client()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), g.timeout)
	defer cancel()
	out, err := fn(ctx, c)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func parseID(raw string) (core.LeaderboardID, error) {
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid leaderboard id %q", raw)
	}
	return core.LeaderboardID(n), nil
}

func newCreateCmd(g *globals) *cobra.Command {
	var (
		direction    string
		orderBy      string
		singleSecret bool
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a leaderboard and print its secrets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := sdk.CreateOptions{SingleSecret: singleSecret}
			switch direction {
			case "desc", "descending":
				opts.Direction = core.Descending
			case "asc", "ascending":
				opts.Direction = core.Ascending
			default:
				return fmt.Errorf("unknown direction: %s (use 'asc' or 'desc')", direction)
			}
			switch orderBy {
			case "value":
				opts.OrderBy = core.ByValue
			case "time":
				opts.OrderBy = core.ByTime
			default:
				return fmt.Errorf("unknown order: %s (use 'value' or 'time')", orderBy)
			}
			return g.call(cmd, func(ctx context.Context, c *sdk.Client) (any, error) {
				return c.CreateLeaderboard(ctx, opts)
			})
		},
	}
	cmd.Flags().StringVarP(&direction, "direction", "d", "desc", "Ranking direction: 'desc' | 'asc'")
	cmd.Flags().StringVarP(&orderBy, "order-by", "o", "value", "Ranking key: 'value' | 'time'")
	cmd.Flags().BoolVar(&singleSecret, "single-secret", false, "Use one secret for submitting and modifying")
	return cmd
}

func newSubmitCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "submit <id> <secret> <name> <value> [time]",
		Short: "Submit a score and print the player's rank",
		Args:  cobra.RangeArgs(4, 5),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			value, err := strconv.ParseInt(args[3], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid value %q", args[3])
			}
			var t float64
			if len(args) == 5 {
				if t, err = strconv.ParseFloat(args[4], 64); err != nil {
					return fmt.Errorf("invalid time %q", args[4])
				}
			}
			return g.call(cmd, func(ctx context.Context, c *sdk.Client) (any, error) {
				rank, err := c.SubmitScore(ctx, id, args[1], args[2], value, t)
				return map[string]int64{"rank": rank}, err
			})
		},
	}
}

func newListCmd(g *globals) *cobra.Command {
	var (
		count   int
		offset  int
		reverse bool
	)
	cmd := &cobra.Command{
		Use:   "list <id>",
		Short: "List ranked scores",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			opts := sdk.ListOptions{Offset: offset, Reverse: reverse}
			if cmd.Flags().Changed("count") {
				opts.Count = sdk.Limit(count)
			}
			return g.call(cmd, func(ctx context.Context, c *sdk.Client) (any, error) {
				return c.ListScores(ctx, id, opts)
			})
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", 0, "Maximum entries (default all)")
	cmd.Flags().IntVar(&offset, "offset", 0, "Entries to skip")
	cmd.Flags().BoolVarP(&reverse, "reverse", "r", false, "List from the worst entry")
	return cmd
}

func newGetCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "get <id> <name>",
		Short: "Show one player's best score and rank",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return g.call(cmd, func(ctx context.Context, c *sdk.Client) (any, error) {
				return c.GetScore(ctx, id, args[1])
			})
		},
	}
}

func newClearCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "clear <id> <secret>",
		Short: "Remove every score of a leaderboard",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return g.call(cmd, func(ctx context.Context, c *sdk.Client) (any, error) {
				return map[string]bool{"ok": true}, c.ClearScores(ctx, id, args[1])
			})
		},
	}
}

func newDeleteCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id> <secret> <name>",
		Short: "Remove one player's score",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return g.call(cmd, func(ctx context.Context, c *sdk.Client) (any, error) {
				return map[string]bool{"ok": true}, c.DeleteScore(ctx, id, args[1], args[2])
			})
		},
	}
}

func newWebhookCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "webhook",
		Short: "Manage the accepted-score webhook of a leaderboard",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "set <id> <secret> <url>",
			Short: "Set the webhook URL",
			Args:  cobra.ExactArgs(3),
			RunE: func(cmd *cobra.Command, args []string) error {
				id, err := parseID(args[0])
				if err != nil {
					return err
				}
				return g.call(cmd, func(ctx context.Context, c *sdk.Client) (any, error) {
					return map[string]string{"url": args[2]}, c.SetWebhook(ctx, id, args[1], args[2])
				})
			},
		},
		&cobra.Command{
			Use:   "get <id> <secret>",
			Short: "Show the webhook URL",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				id, err := parseID(args[0])
				if err != nil {
					return err
				}
				return g.call(cmd, func(ctx context.Context, c *sdk.Client) (any, error) {
					url, err := c.GetWebhook(ctx, id, args[1])
					return map[string]string{"url": url}, err
				})
			},
		},
		&cobra.Command{
			Use:   "clear <id> <secret>",
			Short: "Remove the webhook URL",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				id, err := parseID(args[0])
				if err != nil {
					return err
				}
				return g.call(cmd, func(ctx context.Context, c *sdk.Client) (any, error) {
					return map[string]bool{"ok": true}, c.ClearWebhook(ctx, id, args[1])
				})
			},
		},
	)
	return cmd
}

func newWatchCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "watch [id]",
		Short: "Stream live events, optionally for one leaderboard",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var id core.LeaderboardID
			if len(args) == 1 {
				var err error
				if id, err = parseID(args[0]); err != nil {
					return err
				}
			}
			c, err := g.client()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			events, err := c.SubscribeEvents(ctx, id)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			for ev := range events {
				if err := enc.Encode(ev); err != nil {
					return err
				}
			}
			return nil
		},
	}
}
