package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Reset all memory",
		Long:  "Remove every item from every tier, the durable files and the cold archive.",
		Run:   runClear,
	}

	cmd.Flags().Bool("yes", false, "Confirm the reset")

	RootCmd.AddCommand(cmd)
}

func runClear(cmd *cobra.Command, args []string) {
	if yes, _ := cmd.Flags().GetBool("yes"); !yes {
		exitErr("clear", fmt.Errorf("refusing to reset memory without --yes"))
	}

	m, err := openManager()
	if err != nil {
		exitErr("open memory", err)
	}
	defer m.Close()

	if err := m.Clear(cmd.Context()); err != nil {
		exitErr("clear", err)
	}

	fmt.Println(`{"ok":true}`)
}
