package modules

import (
	"os"

	"github.com/ValentinKolb/kvx/cmd/util"
	"github.com/spf13/cobra"
)

// ModulesCmd lists the modules of the manifest
var ModulesCmd = &cobra.Command{
	Use:   "modules",
	Short: "List the modules and commands a host would load",
	Long:  `Load the modules of the manifest (or the builtin modules without --manifest) and list their commands.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		host, err := util.SetupHost(cmd)
		if err != nil {
			return err
		}
		defer host.Close()

		util.PrintModules(os.Stdout, host.Registry)
		return nil
	},
}
