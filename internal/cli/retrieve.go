package cli

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/rcliao/tiered-memory/internal/memory"
)

func init() {
	cmd := &cobra.Command{
		Use:   "retrieve [text]",
		Short: "Retrieve memories across tiers",
		Long:  "Retrieve memories matching text and tag filters, ranked across tiers.",
		Run:   runRetrieve,
	}

	cmd.Flags().StringP("entity", "e", "", "Filter by entity tag")
	cmd.Flags().String("emotion", "", "Filter by emotion label")
	cmd.Flags().StringP("topic", "t", "", "Filter by topic tag")
	cmd.Flags().String("from", "", "Start of time range (RFC3339)")
	cmd.Flags().String("to", "", "End of time range (RFC3339)")
	cmd.Flags().StringP("scope", "s", "all", "Scope: all or recent (skips semantic)")
	cmd.Flags().IntP("limit", "l", 10, "Maximum results")

	RootCmd.AddCommand(cmd)
}

func runRetrieve(cmd *cobra.Command, args []string) {
	q := memory.Query{Text: strings.Join(args, " ")}
	q.Entity, _ = cmd.Flags().GetString("entity")
	q.Emotion, _ = cmd.Flags().GetString("emotion")
	q.Topic, _ = cmd.Flags().GetString("topic")
	q.Limit, _ = cmd.Flags().GetInt("limit")
	scope, _ := cmd.Flags().GetString("scope")
	q.Scope = memory.Scope(scope)

	if v, _ := cmd.Flags().GetString("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			exitErr("parse --from", err)
		}
		q.From = t
	}
	if v, _ := cmd.Flags().GetString("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			exitErr("parse --to", err)
		}
		q.To = t
	}

	m, err := openManager()
	if err != nil {
		exitErr("open memory", err)
	}
	defer m.Close()

	results, err := m.Retrieve(cmd.Context(), q)
	if err != nil {
		exitErr("retrieve", err)
	}

	b, _ := json.MarshalIndent(results, "", "  ")
	fmt.Println(string(b))
}
