package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "consolidate",
		Short: "Run a consolidation pass",
		Long:  "Promote, merge and decay items across tiers. Prints the pass report.",
		Run:   runConsolidate,
	}

	cmd.Flags().Bool("if-due", false, "Only run when the configured interval has elapsed")

	RootCmd.AddCommand(cmd)
}

func runConsolidate(cmd *cobra.Command, args []string) {
	m, err := openManager()
	if err != nil {
		exitErr("open memory", err)
	}
	defer m.Close()

	if due, _ := cmd.Flags().GetBool("if-due"); due && !m.ConsolidationDue() {
		fmt.Println(`{"skipped":true}`)
		return
	}

	report, err := m.Consolidate(cmd.Context())
	if err != nil {
		exitErr("consolidate", err)
	}

	b, _ := json.MarshalIndent(report, "", "  ")
	fmt.Println(string(b))
}
