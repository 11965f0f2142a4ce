package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/dativo-io/steward/internal/agentapi"
)

var (
	runTenant string
	runAgent  string
)

var runCmd = &cobra.Command{
	Use:   "run [request-file]",
	Short: "Execute one agent request from a YAML or JSON file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, span := tracer.Start(cmd.Context(), "run")
		defer span.End()

		req, err := loadRequestFile(args[0])
		if err != nil {
			return err
		}
		if runTenant != "" {
			req.Context.TenantID = runTenant
		}
		if runAgent != "" {
			req.AgentType = runAgent
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		c, err := openComponents(ctx, cfg, nil)
		if err != nil {
			return err
		}
		defer c.Close()

		resp, err := c.orch.Execute(ctx, req)
		if err != nil {
			return err
		}
		if err := renderResponse(cmd.OutOrStdout(), resp); err != nil {
			return err
		}
		if !resp.Success {
			return fmt.Errorf("agent run %s: %s", resp.Metadata.SafetyStatus, resp.Error)
		}
		return nil
	},
}

func init() {
	runCmd.Flags().StringVar(&runTenant, "tenant", "", "override context.tenant_id")
	runCmd.Flags().StringVar(&runAgent, "agent", "", "override agent_type")
	rootCmd.AddCommand(runCmd)
}

// loadRequestFile reads an agent request. JSON is accepted as a subset of
// YAML.
func loadRequestFile(path string) (*agentapi.Request, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading request file: %w", err)
	}
	var req agentapi.Request
	if err := yaml.Unmarshal(content, &req); err != nil {
		return nil, fmt.Errorf("parsing request file %s: %w", path, err)
	}
	return &req, nil
}

func renderResponse(w io.Writer, resp *agentapi.Response) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(resp)
}
