// internal/commands/list_commands.go
package voxeval

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
)

// commandEntry is one row of the command listing.
type commandEntry struct {
	path  string
	short string
}

// listCommandsCmd implements 'list-commands', which prints the command tree
// with each command's short description aligned in a second column.
var listCommandsCmd = &cobra.Command{
	Use:   "list-commands",
	Short: "List all commands in two columns",
	Run: func(cmd *cobra.Command, args []string) {
		printCommands(cmd.OutOrStdout(), walkCommands(rootCmd, "", ""))
	},
}

func init() {
	rootCmd.AddCommand(listCommandsCmd)
}

// walkCommands flattens the command tree, indenting children. Cobra's
// generated completion and help commands are skipped.
func walkCommands(cmd *cobra.Command, parent, indent string) []commandEntry {
	path := cmd.Name()
	if parent != "" {
		path = parent + " " + cmd.Name()
	}
	entries := []commandEntry{{path: indent + path, short: cmd.Short}}
	for _, sub := range cmd.Commands() {
		if sub.Name() == "completion" || sub.Name() == "help" {
			continue
		}
		entries = append(entries, walkCommands(sub, path, indent+"  ")...)
	}
	return entries
}

func printCommands(out io.Writer, entries []commandEntry) {
	width := 0
	for _, e := range entries {
		width = max(width, len(e.path))
	}
	fmt.Fprintln(out, "Commands:")
	for _, e := range entries {
		fmt.Fprintf(out, "  %s%s%s\n", e.path, strings.Repeat(" ", width-len(e.path)+2), e.short)
	}
}
