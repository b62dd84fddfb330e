package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.yaml.in/yaml/v3"

	"github.com/ShayCichocki/conductor/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config [key]",
	Short: "Show the effective configuration",
	Long: `Display the configuration after defaults, the config file and
CONDUCTOR_* environment variables are merged.

Without arguments, prints every setting as YAML.
With a dotted key (e.g. scheduler.max_concurrent_tasks), prints that value.

Secrets in connection URLs are masked.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		settings := effectiveSettings(loader.AllSettings(), cfg)

		var v any = settings
		if len(args) == 1 {
			var ok bool
			if v, ok = lookupSetting(settings, args[0]); !ok {
				return fmt.Errorf("unknown config key %q", args[0])
			}
		}

		if _, isMap := v.(map[string]any); !isMap {
			fmt.Println(v)
			return nil
		}
		if file := loader.ConfigFile(); file != "" && len(args) == 0 {
			fmt.Printf("# loaded from %s\n", file)
		}
		enc := yaml.NewEncoder(os.Stdout)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(v)
	},
}

// effectiveSettings overlays the resolved Redis URL, masked, onto the raw
// settings.
func effectiveSettings(settings map[string]any, cfg *config.Config) map[string]any {
	if dispatch, ok := settings["dispatch"].(map[string]any); ok {
		if redis, ok := dispatch["redis"].(map[string]any); ok {
			redis["url"] = config.MaskURL(config.RedisURL(cfg))
		}
	}
	return settings
}

// lookupSetting resolves a dotted key against nested settings.
func lookupSetting(settings map[string]any, key string) (any, bool) {
	var cur any = settings
	for _, part := range strings.Split(strings.ToLower(key), ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = m[part]; !ok {
			return nil, false
		}
	}
	return cur, true
}
