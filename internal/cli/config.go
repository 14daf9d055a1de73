package cli

import (
	"fmt"
	"io"
	"reflect"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/runoshun/autocrew/internal/app"
	"github.com/runoshun/autocrew/internal/domain"
	"github.com/runoshun/autocrew/internal/usecase"
	"github.com/spf13/cobra"
)

// newConfigCommand creates the config command.
func newConfigCommand(c *app.Container) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Display effective configuration",
		Long: `Display effective configuration after merging all sources.

Sources are applied in order: built-in defaults, the global config
(~/.config/autocrew/config.toml) and the repository config
(.git/autocrew/config.toml). Shows which config files were loaded,
any unknown keys that were ignored, and the final merged configuration.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out, err := c.ShowConfigUseCase().Execute(cmd.Context(), usecase.ShowConfigInput{})
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()

			// Display loaded files section
			_, _ = fmt.Fprintln(w, "[Loaded from]")
			for _, info := range []domain.ConfigInfo{out.GlobalConfig, out.RepoConfig} {
				if info.Exists {
					_, _ = fmt.Fprintf(w, "- %s\n", info.Path)
				} else {
					_, _ = fmt.Fprintf(w, "- %s (not found)\n", info.Path)
				}
			}

			if len(out.Warnings) > 0 {
				_, _ = fmt.Fprintln(w)
				_, _ = fmt.Fprintln(w, "[Warnings]")
				for _, warning := range out.Warnings {
					_, _ = fmt.Fprintf(w, "- %s\n", warning)
				}
			}

			_, _ = fmt.Fprintln(w)

			// Display effective config in TOML format
			_, _ = fmt.Fprintln(w, "[Effective Config]")
			return formatEffectiveConfig(w, out.Effective)
		},
	}
}

// formatEffectiveConfig formats the effective config in TOML format.
// Uses reflection on the toml tags so new config sections show up without changes here.
// Durations are written in their string form, which the loader accepts back.
func formatEffectiveConfig(w io.Writer, cfg *domain.Config) error {
	output := tomlValue(reflect.ValueOf(cfg).Elem())

	if err := toml.NewEncoder(w).Encode(output); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

var durationType = reflect.TypeOf(time.Duration(0))

// tomlValue converts v into plain values keyed by toml tag names.
func tomlValue(v reflect.Value) any {
	if v.Type() == durationType {
		return time.Duration(v.Int()).String()
	}

	switch v.Kind() {
	case reflect.Struct:
		out := make(map[string]any)
		t := v.Type()
		for i := 0; i < v.NumField(); i++ {
			field := t.Field(i)
			tag := field.Tag.Get("toml")
			if tag == "" || tag == "-" || !field.IsExported() {
				continue
			}
			out[strings.Split(tag, ",")[0]] = tomlValue(v.Field(i))
		}
		return out
	case reflect.Map:
		out := make(map[string]any, v.Len())
		iter := v.MapRange()
		for iter.Next() {
			out[fmt.Sprint(iter.Key().Interface())] = tomlValue(iter.Value())
		}
		return out
	case reflect.Slice:
		if v.IsNil() {
			return []any{}
		}
		return v.Interface()
	default:
		return v.Interface()
	}
}
