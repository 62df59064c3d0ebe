package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/iuriikogan/magnet-loop/internal/utils"
)

var parseCmd = &cobra.Command{
	Use:   "parse [file]",
	Short: "Parse a model reply offline",
	Long: `Parse a model reply the same way a run does and print the outcome.
The reply is read from the file argument, or from stdin when it is omitted.

Example:
  magnetloop parse reply.txt
  pbpaste | magnetloop parse --json`,
	Args: cobra.MaximumNArgs(1),
	RunE: parseReply,
}

func init() {
	rootCmd.AddCommand(parseCmd)
	parseCmd.Flags().Bool("json", false, "print the parsed response as JSON")
}

func parseReply(cmd *cobra.Command, args []string) error {
	var (
		data []byte
		err  error
	)
	if len(args) == 1 {
		data, err = os.ReadFile(args[0])
	} else {
		data, err = io.ReadAll(cmd.InOrStdin())
	}
	if err != nil {
		return fmt.Errorf("failed to read reply: %w", err)
	}

	resp, err := utils.ParseResponse(string(data))
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}
	_, err = fmt.Fprintf(out, "%s: %s\n", resp.Kind(), resp)
	return err
}
