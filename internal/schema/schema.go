// Package schema describes the command tree as data so agents can discover commands and
// flags without parsing help text.
package schema

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

type CommandSchema struct {
	Path    string   `json:"path"`
	Use     string   `json:"use"`
	Short   string   `json:"short"`
	Aliases []string `json:"aliases,omitempty"`
	// Runnable is false for grouping commands such as "cache" or "revenue".
	Runnable    bool            `json:"runnable"`
	Flags       []FlagSchema    `json:"flags,omitempty"`
	Subcommands []CommandSchema `json:"subcommands,omitempty"`
}

type FlagSchema struct {
	Name      string `json:"name"`
	Shorthand string `json:"shorthand,omitempty"`
	Type      string `json:"type"`
	Usage     string `json:"usage"`
	Default   string `json:"default,omitempty"`
	Required  bool   `json:"required,omitempty"`
	// Global marks persistent flags declared on the root command.
	Global bool `json:"global,omitempty"`
}

// Build serializes the command at commandPath, or the whole tree when it is empty. The
// root's persistent flags are listed once, on the root.
func Build(root *cobra.Command, commandPath string) (CommandSchema, error) {
	parts := strings.Fields(commandPath)
	if len(parts) == 0 {
		return serialize(root), nil
	}
	cmd, rest, err := root.Find(parts)
	if err != nil || len(rest) > 0 || cmd == root {
		return CommandSchema{}, fmt.Errorf("command not found: %s", strings.Join(parts, " "))
	}
	return serialize(cmd), nil
}

func serialize(cmd *cobra.Command) CommandSchema {
	s := CommandSchema{
		Path:     strings.TrimSpace(cmd.CommandPath()),
		Use:      cmd.Use,
		Short:    cmd.Short,
		Aliases:  cmd.Aliases,
		Runnable: cmd.Runnable(),
		Flags:    collectFlags(cmd),
	}
	for _, sub := range cmd.Commands() {
		if sub.Hidden || sub.Name() == "help" || sub.Name() == "completion" {
			continue
		}
		s.Subcommands = append(s.Subcommands, serialize(sub))
	}
	return s
}

func collectFlags(cmd *cobra.Command) []FlagSchema {
	var items []FlagSchema
	add := func(global bool) func(*pflag.Flag) {
		return func(f *pflag.Flag) {
			if f.Hidden {
				return
			}
			items = append(items, FlagSchema{
				Name:      f.Name,
				Shorthand: f.Shorthand,
				Type:      f.Value.Type(),
				Usage:     f.Usage,
				Default:   f.DefValue,
				Required:  isRequired(f),
				Global:    global,
			})
		}
	}
	cmd.LocalNonPersistentFlags().VisitAll(add(false))
	if !cmd.HasParent() {
		cmd.PersistentFlags().VisitAll(add(true))
	}
	return items
}

func isRequired(f *pflag.Flag) bool {
	values, ok := f.Annotations[cobra.BashCompOneRequiredFlag]
	return ok && len(values) > 0 && values[0] == "true"
}
