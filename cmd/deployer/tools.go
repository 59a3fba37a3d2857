package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"sigs.k8s.io/yaml"

	"github.com/cugtyt/azure-deployer/internal/dispatch"
	"github.com/cugtyt/azure-deployer/internal/tools"
)

var toolsOutput = "table"

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List the tools the assistant may call",
	RunE: func(cmd *cobra.Command, args []string) error {
		schemas, err := tools.Catalog()
		if err != nil {
			return err
		}
		return printTools(cmd.OutOrStdout(), schemas, toolsOutput)
	},
}

func init() {
	toolsCmd.Flags().StringVarP(&toolsOutput, "output", "o", toolsOutput, "Output format: table, json or yaml")
}

func printTools(out io.Writer, schemas []tools.Schema, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(schemas)
	case "yaml":
		data, err := yaml.Marshal(schemas)
		if err != nil {
			return err
		}
		_, err = out.Write(data)
		return err
	case "table":
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tCONFIRM\tDESCRIPTION")
		for _, s := range schemas {
			confirm := "no"
			if dispatch.IsMutating(s.Name) {
				confirm = "yes"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\n", s.Name, confirm, s.Description)
		}
		return w.Flush()
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}
