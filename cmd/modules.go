package cmd

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/khanhnv2901/poc-cli/internal/domain/poc"
	"github.com/khanhnv2901/poc-cli/internal/infrastructure/loader"
)

var modulesCmd = &cobra.Command{
	Use:   "modules",
	Short: "List loadable POC modules and the ones that failed to load",
	RunE: func(cmd *cobra.Command, args []string) error {
		appCtx := getAppContext(cmd)
		out := cmd.OutOrStdout()

		path, _ := cmd.Flags().GetString("poc")
		recursive, _ := cmd.Flags().GetBool("recursive")
		asJSON, _ := cmd.Flags().GetBool("json")

		if strings.TrimSpace(path) == "" {
			dir, err := getModulesDir()
			if err != nil {
				return &ExitError{Code: ExitConfig, Err: err}
			}
			path = dir
		}

		res, err := loader.New(loader.WithLogger(appCtx.ZapLogger)).Load(path, recursive)
		if err != nil {
			return &ExitError{Code: ExitConfig, Err: err}
		}

		if asJSON {
			return printModulesJSON(cmd, res)
		}

		if len(res.Modules) == 0 {
			fmt.Fprintf(out, "No modules found in %s\n", path)
		} else {
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tName\tCapabilities\tSeverity\tSource")
			fmt.Fprintln(w, "--\t----\t------------\t--------\t------")
			for _, m := range res.Modules {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", m.ID, m.Name, m.Capabilities, dash(m.Info.Severity), m.Source)
			}
			_ = w.Flush()
		}

		if len(res.Unloaded) > 0 {
			fmt.Fprintf(out, "\n%s %d module(s) failed to load:\n", colorWarn("!"), len(res.Unloaded))
			for _, u := range res.Unloaded {
				fmt.Fprintf(out, "  %s: %s\n", u.Path, u.Reason)
			}
		}
		return nil
	},
}

func init() {
	modulesCmd.Flags().StringP("poc", "r", "", "POC file or directory (default is the data directory)")
	modulesCmd.Flags().Bool("recursive", false, "descend into subdirectories")
	modulesCmd.Flags().Bool("json", false, "print JSON instead of a table")
}

type moduleDTO struct {
	ID           string   `json:"id"`
	Name         string   `json:"name,omitempty"`
	Source       string   `json:"source"`
	Capabilities string   `json:"capabilities"`
	Info         poc.Info `json:"info"`
}

func printModulesJSON(cmd *cobra.Command, res poc.LoadResult) error {
	payload := struct {
		Modules  []moduleDTO    `json:"modules"`
		Unloaded []poc.Unloaded `json:"unloaded"`
	}{Modules: make([]moduleDTO, 0, len(res.Modules)), Unloaded: res.Unloaded}
	if payload.Unloaded == nil {
		payload.Unloaded = []poc.Unloaded{}
	}
	for _, m := range res.Modules {
		payload.Modules = append(payload.Modules, moduleDTO{
			ID:           m.ID,
			Name:         m.Name,
			Source:       m.Source,
			Capabilities: m.Capabilities.String(),
			Info:         m.Info,
		})
	}
	b, err := json.MarshalIndent(payload, jsonPrefix, jsonIndent)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(b))
	return nil
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
