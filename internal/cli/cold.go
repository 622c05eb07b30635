package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "cold",
		Short: "List cold-storage archive",
		Long:  "List items demoted out of the episodic tier, most recent first.",
		Run:   runCold,
	}

	cmd.Flags().IntP("limit", "l", 20, "Maximum records")

	RootCmd.AddCommand(cmd)
}

func runCold(cmd *cobra.Command, args []string) {
	limit, _ := cmd.Flags().GetInt("limit")

	m, err := openManager()
	if err != nil {
		exitErr("open memory", err)
	}
	defer m.Close()

	records, err := m.Cold().List(cmd.Context(), limit)
	if err != nil {
		exitErr("cold", err)
	}

	b, _ := json.MarshalIndent(records, "", "  ")
	fmt.Println(string(b))
}
