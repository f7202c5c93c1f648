package cmd

import (
	"encoding/json"
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

// Version is overwritten at build time:
//
//	go build -ldflags "-X github.com/derickschaefer/meterstat/cmd.Version=v0.3.0"
var Version = "v0.2.0-dev"

// BuildTime is optionally injected alongside Version.
var BuildTime = ""

type versionInfo struct {
	Version   string `json:"version"`
	GoVersion string `json:"go_version"`
	GOOS      string `json:"goos"`
	GOARCH    string `json:"goarch"`
	BuildTime string `json:"build_time,omitempty"`
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the meterstat version and build information",
	Example: `  meterstat version
  meterstat version --format json | jq .version`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		info := versionInfo{
			Version:   Version,
			GoVersion: runtime.Version(),
			GOOS:      runtime.GOOS,
			GOARCH:    runtime.GOARCH,
			BuildTime: BuildTime,
		}
		out := cmd.OutOrStdout()

		switch globalFlags.Format {
		case "json":
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(info)
		case "jsonl":
			b, err := json.Marshal(info)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%s\n", b)
			return nil
		}
		fmt.Fprintf(out, "meterstat %s\n", info.Version)
		fmt.Fprintf(out, "go        %s\n", info.GoVersion)
		fmt.Fprintf(out, "os        %s/%s\n", info.GOOS, info.GOARCH)
		if info.BuildTime != "" {
			fmt.Fprintf(out, "built     %s\n", info.BuildTime)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
