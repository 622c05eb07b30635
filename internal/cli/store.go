package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/tiered-memory/internal/model"
)

func init() {
	cmd := &cobra.Command{
		Use:   "store [payload]",
		Short: "Store a memory item",
		Long:  "Store a memory item. Payload can be a positional arg or piped via stdin.",
		Run:   runStore,
	}

	cmd.Flags().Float64P("importance", "i", -1, "Importance hint in [0.0, 1.0]")
	cmd.Flags().StringP("entities", "e", "", "Comma-separated entity tags")
	cmd.Flags().String("emotion", "", "Emotion label")
	cmd.Flags().StringP("topics", "t", "", "Comma-separated topic tags")
	cmd.Flags().String("tier", "", "Tier hint: episodic for direct durable admission")
	cmd.Flags().String("concept-key", "", "Concept key for semantic merge")
	cmd.Flags().Float64("decay-rate", -1, "Per-item importance decay rate per hour")

	RootCmd.AddCommand(cmd)
}

func runStore(cmd *cobra.Command, args []string) {
	var payload string
	if len(args) > 0 {
		payload = strings.Join(args, " ")
	} else {
		stat, _ := os.Stdin.Stat()
		if (stat.Mode() & os.ModeCharDevice) == 0 {
			b, err := io.ReadAll(os.Stdin)
			if err != nil {
				exitErr("read stdin", err)
			}
			payload = string(b)
		}
	}
	if strings.TrimSpace(payload) == "" {
		exitErr("store", fmt.Errorf("payload is required (positional arg or stdin)"))
	}

	rec := model.IngressRecord{
		Payload: strings.TrimSpace(payload),
	}
	if v, _ := cmd.Flags().GetFloat64("importance"); v >= 0 {
		rec.ImportanceHint = &v
	}
	if v, _ := cmd.Flags().GetFloat64("decay-rate"); v >= 0 {
		rec.DecayRate = &v
	}
	if v, _ := cmd.Flags().GetString("entities"); v != "" {
		rec.Tags.Entities = splitTags(v)
	}
	rec.Tags.Emotion, _ = cmd.Flags().GetString("emotion")
	if v, _ := cmd.Flags().GetString("topics"); v != "" {
		rec.Tags.Topics = splitTags(v)
	}
	if v, _ := cmd.Flags().GetString("tier"); v != "" {
		rec.TierHint = model.Tier(v)
	}
	rec.ConceptKey, _ = cmd.Flags().GetString("concept-key")

	m, err := openManager()
	if err != nil {
		exitErr("open memory", err)
	}
	defer m.Close()

	id, err := m.Store(cmd.Context(), rec)
	if err != nil {
		exitErr("store", err)
	}

	b, _ := json.Marshal(map[string]string{"id": id})
	fmt.Println(string(b))
}

func splitTags(s string) []string {
	var tags []string
	for _, t := range strings.Split(s, ",") {
		t = strings.TrimSpace(t)
		if t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}
