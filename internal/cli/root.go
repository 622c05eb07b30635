// Package cli implements the tiered-memory CLI commands. The CLI is a
// thin collaborator over the memory manager: content in, JSON out.
package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rcliao/tiered-memory/internal/config"
	"github.com/rcliao/tiered-memory/internal/memory"
)

var (
	dataDir    string
	configPath string
	verbose    bool
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "tiered-memory",
	Short: "Tiered memory engine for AI agents",
	Long:  "Short-term, episodic and semantic memory tiers with consolidation. Durable, crash-safe, single binary.",
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&dataDir, "data", "d", "", "Data directory (default: $TIERED_MEMORY_DIR or ~/.tiered-memory)")
	RootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to YAML config file")
	RootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log engine activity to stderr")
}

func getDataDir() string {
	if dataDir != "" {
		return dataDir
	}
	if env := os.Getenv("TIERED_MEMORY_DIR"); env != "" {
		return env
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".tiered-memory")
}

func newLogger() *zap.Logger {
	if !verbose {
		return zap.NewNop()
	}
	logger, err := zap.NewDevelopment()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

func openManager() (*memory.Manager, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if configPath == "" || dataDir != "" || os.Getenv("TIERED_MEMORY_DIR") != "" {
		cfg.DataDir = getDataDir()
	}
	return memory.New(cfg, newLogger())
}

func exitErr(msg string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	os.Exit(1)
}
