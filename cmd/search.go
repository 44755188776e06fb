package main

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/zalahq/leadscout/internal/search"
)

var searchCmd = &cobra.Command{
	Use:   "search <location>",
	Short: "Search leads near a location and print the response as JSON",
	Long:  `Accepts a 5-digit zip, "City, ST", or "<query> in <location>". Background sources run in-process before the command exits.`,
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initApp(ctx, "search", true)
		if err != nil {
			return err
		}
		defer func() {
			drainCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Search.BackgroundTimeoutSecs)*time.Second)
			defer cancel()
			env.Close(drainCtx)
		}()

		return runSearch(ctx, env.Orchestrator, strings.Join(args, " "), os.Stdout)
	},
}

func init() {
	rootCmd.AddCommand(searchCmd)
}

// runSearch searches location and writes the indented response to out.
func runSearch(ctx context.Context, s leadSearcher, location string, out io.Writer) error {
	if strings.TrimSpace(location) == "" {
		return eris.New("location is required")
	}
	resp := s.Search(ctx, search.LocationFilter{LocationText: location})

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return eris.Wrap(enc.Encode(resp), "encode response")
}
