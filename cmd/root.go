package cmd

import (
	"fmt"
	"os"

	execCmd "github.com/ValentinKolb/kvx/cmd/exec"
	"github.com/ValentinKolb/kvx/cmd/modules"
	"github.com/ValentinKolb/kvx/cmd/perf"
	"github.com/ValentinKolb/kvx/cmd/shell"
	"github.com/ValentinKolb/kvx/cmd/util"
	"github.com/spf13/cobra"
)

const (
	Version = "0.3.0"
)

var (
	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "kvx",
		Short: "key-value store with extension commands",
		Long: fmt.Sprintf(`kvx (v%s)

A key-value store host that runs extension commands (builtin or Lua modules)
against an in-memory store, with per-key access control and optional
replication of writes through RAFT.`, Version),
		SilenceUsage: true,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of kvx",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("kvx v%s\n", Version)
		},
	}
)

func init() {
	cobra.OnInitialize(util.InitConfig)

	util.SetupHostFlags(RootCmd)

	RootCmd.AddCommand(execCmd.ExecCmd)
	RootCmd.AddCommand(shell.ShellCmd)
	RootCmd.AddCommand(modules.ModulesCmd)
	RootCmd.AddCommand(perf.PerfCmd)
	RootCmd.AddCommand(versionCmd)
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
