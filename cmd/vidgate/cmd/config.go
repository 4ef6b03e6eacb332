package cmd

import (
	"fmt"
	"reflect"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/jmylchreest/vidgate/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
}

var configDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Dump the default configuration",
	Long: `Dump the default configuration values in YAML format. Redirect the
output to create a configuration template:

  vidgate config dump > config.yaml

Every key can also be set through an environment variable with the VIDGATE_
prefix and underscores for nesting, e.g. motion.lookback_window becomes
VIDGATE_MOTION_LOOKBACK_WINDOW.`,
	RunE: runConfigDump,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configDumpCmd)
}

// toMap converts a config struct to a map keyed by mapstructure tags with
// durations in their string form.
func toMap(v any) map[string]any {
	result := make(map[string]any)
	val := reflect.ValueOf(v)
	if val.Kind() == reflect.Pointer {
		val = val.Elem()
	}
	typ := val.Type()

	for i := 0; i < val.NumField(); i++ {
		field := val.Field(i)
		key := typ.Field(i).Tag.Get("mapstructure")
		if key == "" {
			key = typ.Field(i).Name
		}
		switch fv := field.Interface().(type) {
		case time.Duration:
			result[key] = fv.String()
		default:
			if field.Kind() == reflect.Struct {
				result[key] = toMap(fv)
			} else {
				result[key] = fv
			}
		}
	}
	return result
}

func defaultConfig() (*config.Config, error) {
	v := viper.New()
	config.SetDefaults(v)
	var cfg config.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling defaults: %w", err)
	}
	return &cfg, nil
}

func runConfigDump(cmd *cobra.Command, _ []string) error {
	cfg, err := defaultConfig()
	if err != nil {
		return err
	}
	out, err := yaml.Marshal(toMap(cfg))
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	w := cmd.OutOrStdout()
	fmt.Fprintln(w, "# vidgate configuration file")
	fmt.Fprintln(w, "# All values shown are defaults. Durations use Go syntax: 500ms, 30s, 5m.")
	fmt.Fprintln(w)
	fmt.Fprint(w, string(out))
	return nil
}
