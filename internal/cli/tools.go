package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/harun/toolbox/internal/config"
	"github.com/harun/toolbox/pkg/toolregistry"
)

var callArgs string

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "Inspect and run configured tools",
}

var toolsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured tools",
	Args:  cobra.NoArgs,
	RunE:  runToolsList,
}

var toolsCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the tool configuration",
	Long: `Load and validate the tool configuration without serving it.
Exits non-zero and prints every problem found when the file is invalid.`,
	Args: cobra.NoArgs,
	RunE: runToolsCheck,
}

var toolsCallCmd = &cobra.Command{
	Use:     "call NAME",
	Short:   "Invoke one tool and print its output",
	Example: `  toolbox tools call grep --args '{"pattern":"TODO","file":"main.go"}'`,
	Args:    cobra.ExactArgs(1),
	RunE:    runToolsCall,
}

func init() {
	toolsCallCmd.Flags().StringVar(&callArgs, "args", "{}", "tool arguments as a JSON object")

	toolsCmd.AddCommand(toolsListCmd)
	toolsCmd.AddCommand(toolsCheckCmd)
	toolsCmd.AddCommand(toolsCallCmd)
	rootCmd.AddCommand(toolsCmd)
}

func runToolsList(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tTIMEOUT\tCOMMAND")
	for _, tool := range cfg.Tools {
		fmt.Fprintf(w, "%s\t%s\t%s\n", tool.Name, tool.Timeout(), tool.Command)
	}
	return w.Flush()
}

func runToolsCheck(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "OK: %d tools in %s (server %s %s)\n",
		len(cfg.Tools), cfgFile, cfg.Server.Name, cfg.Server.Version)
	return nil
}

func runToolsCall(cmd *cobra.Command, args []string) error {
	arguments, err := parseCallArgs(callArgs)
	if err != nil {
		return err
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	a, err := newApp(cfgFile, cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	content, err := a.registry.Call(ctx, args[0], arguments)
	if err != nil {
		return err
	}

	printContent(cmd, content)
	return nil
}

// parseCallArgs decodes --args keeping numbers as written
func parseCallArgs(raw string) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()

	var arguments map[string]any
	if err := dec.Decode(&arguments); err != nil {
		return nil, fmt.Errorf("%w: --args must be a JSON object: %v", toolregistry.ErrInvalidArguments, err)
	}
	if arguments == nil {
		arguments = map[string]any{}
	}
	return arguments, nil
}

// printContent writes text items one after another, each starting on its
// own line.
func printContent(cmd *cobra.Command, content []toolregistry.Content) {
	out := cmd.OutOrStdout()
	needNewline := false
	for _, item := range content {
		if item.Type != toolregistry.ContentTypeText {
			continue
		}
		if needNewline {
			fmt.Fprintln(out)
		}
		fmt.Fprint(out, item.Text)
		needNewline = item.Text != "" && !strings.HasSuffix(item.Text, "\n")
	}
}
