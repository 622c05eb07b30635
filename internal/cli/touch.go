package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "touch <id>",
		Short: "Update access metadata for an item",
		Long:  "Record an access on an item without returning its content.",
		Args:  cobra.ExactArgs(1),
		Run:   runTouch,
	}

	RootCmd.AddCommand(cmd)
}

func runTouch(cmd *cobra.Command, args []string) {
	m, err := openManager()
	if err != nil {
		exitErr("open memory", err)
	}
	defer m.Close()

	if err := m.Touch(cmd.Context(), args[0]); err != nil {
		exitErr("touch", err)
	}

	fmt.Println(`{"ok":true}`)
}
