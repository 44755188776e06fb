package main

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/zalahq/leadscout/internal/search"
)

const mcpVersion = "0.1.0"

// searchLeadsInput is the input of the search_leads tool.
type searchLeadsInput struct {
	LocationText string `json:"location_text" jsonschema:"5-digit zip, City, ST, or '<query> in <location>'"`
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the search_leads tool over MCP on stdio",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initApp(ctx, "mcp", true)
		if err != nil {
			return err
		}
		defer func() {
			drainCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			env.Close(drainCtx)
		}()

		zap.L().Info("starting mcp server on stdio")
		return newMCPServer(env.Orchestrator).Run(ctx, &mcp.StdioTransport{})
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}

func newMCPServer(s leadSearcher) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "leadscout",
		Version: mcpVersion,
	}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "search_leads",
		Description: "Find real estate agent leads near a location. Returns stored leads sorted by distance plus per-source errors and persistence stats.",
	}, searchLeadsTool(s))

	return server
}

func searchLeadsTool(s leadSearcher) mcp.ToolHandlerFor[searchLeadsInput, any] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, in searchLeadsInput) (*mcp.CallToolResult, any, error) {
		if strings.TrimSpace(in.LocationText) == "" {
			return nil, nil, eris.New("location_text is required")
		}
		start := time.Now()
		resp := s.Search(ctx, search.LocationFilter{LocationText: in.LocationText})

		data, err := json.Marshal(resp)
		if err != nil {
			return nil, nil, eris.Wrap(err, "encode response")
		}
		zap.L().Info("mcp search_leads",
			zap.String("location", in.LocationText),
			zap.Int("leads", len(resp.AggregatedLeads)),
			zap.Duration("duration", time.Since(start)),
		)
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
		}, nil, nil
	}
}
