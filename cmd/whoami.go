package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/slack-go/slack"
	"github.com/spf13/cobra"

	appcfg "github.com/ca-srg/slackvote/internal/config"
)

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Print the identity behind SLACK_BOT_TOKEN (use user_id as BOT_USER_ID)",
	RunE: func(cmd *cobra.Command, args []string) error {
		scfg, err := appcfg.LoadSlack()
		if err != nil {
			return fmt.Errorf("failed to load slack config: %w", err)
		}
		return runWhoami(cmd.Context(), newSlackClient(scfg), cmd.OutOrStdout())
	},
}

type authTester interface {
	AuthTestContext(ctx context.Context) (*slack.AuthTestResponse, error)
}

func runWhoami(ctx context.Context, client authTester, out io.Writer) error {
	resp, err := client.AuthTestContext(ctx)
	if err != nil {
		return fmt.Errorf("auth.test failed: %w", err)
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(resp)
}
