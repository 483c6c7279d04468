// Command pipelinectl inspects and repairs a running pipeline through its
// admin API: conversation records and timelines, dead letters, re-export.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	adminAddr  string
	timeout    time.Duration
	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:   "pipelinectl",
	Short: "Inspect conversations and dead letters of a RevOps pipeline",
	Long: `pipelinectl talks to the admin API of a running revops-pipeline.

Conversation records are read-only here; the only write operations are a
manual export, resolving a dead letter, and replaying a dead letter to its
destination once.`,
	SilenceUsage: true,
}

var conversationsCmd = &cobra.Command{
	Use:     "conversations",
	Aliases: []string{"conv"},
	Short:   "Inspect conversation records",
}

var conversationsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent conversations, newest first",
	Args:  cobra.NoArgs,
	RunE:  runConversationsList,
}

var conversationsShowCmd = &cobra.Command{
	Use:   "show <conversation-id>",
	Short: "Show the full audit record of a conversation",
	Args:  cobra.ExactArgs(1),
	RunE:  runConversationsShow,
}

var conversationsTimelineCmd = &cobra.Command{
	Use:   "timeline <conversation-id>",
	Short: "Show the state transitions of a conversation",
	Args:  cobra.ExactArgs(1),
	RunE:  runConversationsTimeline,
}

var conversationsExportCmd = &cobra.Command{
	Use:   "export <conversation-id>",
	Short: "Export a finished conversation (again)",
	Long: `Writes the export document of a DELIVERED or FAILED conversation.
Exporting an already exported conversation rewrites the same document.`,
	Args: cobra.ExactArgs(1),
	RunE: runConversationsExport,
}

var deadLettersCmd = &cobra.Command{
	Use:     "deadletters",
	Aliases: []string{"dlq"},
	Short:   "Inspect and recover dead-lettered deliveries",
}

var deadLettersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List unresolved dead letters",
	Args:  cobra.NoArgs,
	RunE:  runDeadLettersList,
}

var deadLettersShowCmd = &cobra.Command{
	Use:   "show <delivery-id>",
	Short: "Show one dead letter with its payload",
	Args:  cobra.ExactArgs(1),
	RunE:  runDeadLettersShow,
}

var deadLettersReplayCmd = &cobra.Command{
	Use:   "replay <delivery-id>",
	Short: "POST a dead letter's payload to its destination once",
	Long: `Replays the stored payload to the original target URL with a single
POST. On a 2xx answer the dead letter is resolved. The conversation record
is not changed; its audit trail keeps the original failure.`,
	Args: cobra.ExactArgs(1),
	RunE: runDeadLettersReplay,
}

var deadLettersResolveCmd = &cobra.Command{
	Use:   "resolve <delivery-id>",
	Short: "Mark a dead letter as handled without replaying it",
	Args:  cobra.ExactArgs(1),
	RunE:  runDeadLettersResolve,
}

var (
	listState  string
	listLimit  int
	listSince  string
	replayHook time.Duration
)

func init() {
	rootCmd.PersistentFlags().StringVar(&adminAddr, "addr", envOr("PIPELINE_ADMIN_URL", "http://localhost:8080"), "admin API base URL")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second, "request timeout")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print raw JSON")

	conversationsListCmd.Flags().StringVar(&listState, "state", "", "filter by state (e.g. FAILED)")
	conversationsListCmd.Flags().IntVar(&listLimit, "limit", 20, "maximum rows")
	conversationsListCmd.Flags().StringVar(&listSince, "since", "", "only records received after this RFC 3339 time")
	deadLettersListCmd.Flags().IntVar(&listLimit, "limit", 20, "maximum rows")
	deadLettersReplayCmd.Flags().DurationVar(&replayHook, "webhook-timeout", 15*time.Second, "timeout of the replayed POST")

	conversationsCmd.AddCommand(conversationsListCmd, conversationsShowCmd, conversationsTimelineCmd, conversationsExportCmd)
	deadLettersCmd.AddCommand(deadLettersListCmd, deadLettersShowCmd, deadLettersReplayCmd, deadLettersResolveCmd)
	rootCmd.AddCommand(conversationsCmd, deadLettersCmd)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
