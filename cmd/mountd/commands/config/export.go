package config

import (
	"fmt"
	"os"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/marmos91/mountd/cmd/mountd/cmdutil"
	"github.com/marmos91/mountd/internal/cli/output"
	"github.com/spf13/cobra"
)

var exportFormat string

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export configuration",
	Long: `Export the effective configuration in a machine-consumable format.

The env format emits MOUNTD_* variable assignments that reproduce the
loaded configuration, suitable for a systemd EnvironmentFile or a
container environment. Durations are exported in Go duration syntax
("30s", "5m") so they parse back identically.

The export includes secrets that appear in the configuration file.

Examples:
  # Environment variable assignments
  mountd config export --format env

  # JSON for tooling
  mountd config export --format json > config.json`,
	RunE: runConfigExport,
}

func init() {
	exportCmd.Flags().StringVar(&exportFormat, "format", "env", "Export format (env|json|yaml)")
}

func runConfigExport(cmd *cobra.Command, args []string) error {
	cfg, err := cmdutil.MustLoadConfig()
	if err != nil {
		return err
	}

	switch strings.ToLower(exportFormat) {
	case "json":
		return output.PrintJSON(os.Stdout, cfg)
	case "yaml", "yml":
		return output.PrintYAML(os.Stdout, cfg)
	case "env":
		lines := flattenEnv("MOUNTD", reflect.ValueOf(cfg).Elem())
		sort.Strings(lines)
		for _, line := range lines {
			fmt.Println(line)
		}
		return nil
	default:
		return fmt.Errorf("invalid export format: %q (valid: env, json, yaml)", exportFormat)
	}
}

// flattenEnv walks a configuration struct and produces one PREFIX_KEY=value
// assignment per leaf field, following the mapstructure tags the loader
// binds environment variables with.
func flattenEnv(prefix string, v reflect.Value) []string {
	var lines []string

	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}

		key := field.Tag.Get("mapstructure")
		if idx := strings.Index(key, ","); idx >= 0 {
			key = key[:idx]
		}
		if key == "" || key == "-" {
			continue
		}
		name := prefix + "_" + strings.ToUpper(key)

		value := v.Field(i)
		if value.Kind() == reflect.Pointer {
			if value.IsNil() {
				continue
			}
			value = value.Elem()
		}

		switch {
		case value.Type() == reflect.TypeOf(time.Duration(0)):
			lines = append(lines, assignment(name, value.Interface().(time.Duration).String()))

		case value.Kind() == reflect.Struct:
			lines = append(lines, flattenEnv(name, value)...)

		case value.Kind() == reflect.Slice:
			parts := make([]string, value.Len())
			for j := 0; j < value.Len(); j++ {
				parts[j] = fmt.Sprintf("%v", value.Index(j).Interface())
			}
			lines = append(lines, assignment(name, strings.Join(parts, ",")))

		default:
			lines = append(lines, assignment(name, fmt.Sprintf("%v", value.Interface())))
		}
	}

	return lines
}

// assignment renders KEY=value, quoting values that would not survive a
// shell or EnvironmentFile round trip.
func assignment(name, value string) string {
	if strings.ContainsAny(value, " \t\"'#") {
		return fmt.Sprintf("%s=%s", name, strconv.Quote(value))
	}
	return fmt.Sprintf("%s=%s", name, value)
}
