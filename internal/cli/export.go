package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export all memory as a versioned snapshot",
		Long:  "Export the full memory state (all tiers) as a versioned JSON snapshot on stdout.",
		Run:   runExport,
	}

	RootCmd.AddCommand(cmd)
}

func runExport(cmd *cobra.Command, args []string) {
	m, err := openManager()
	if err != nil {
		exitErr("open memory", err)
	}
	defer m.Close()

	data, err := m.Export(cmd.Context())
	if err != nil {
		exitErr("export", err)
	}

	fmt.Println(string(data))
}
