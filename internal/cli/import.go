package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import a memory snapshot",
		Long:  "Import a snapshot from stdin, replacing all memory state. Fails atomically on version mismatch or corruption.",
		Run:   runImport,
	}

	RootCmd.AddCommand(cmd)
}

func runImport(cmd *cobra.Command, args []string) {
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		exitErr("read stdin", err)
	}

	m, err := openManager()
	if err != nil {
		exitErr("open memory", err)
	}
	defer m.Close()

	if err := m.Import(cmd.Context(), data); err != nil {
		exitErr("import", err)
	}

	fmt.Println(`{"ok":true}`)
}
