package exec

import (
	"bufio"
	"context"
	"fmt"
	"os"

	"github.com/ValentinKolb/kvx/cmd/util"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// ExecCmd runs a single command, or one command per line read from stdin
var ExecCmd = &cobra.Command{
	Use:   "exec [command] [args...]",
	Short: "Run commands against a fresh host",
	Long: `Run a single command given as arguments, or - without arguments - one command per line
read from stdin. The exit code is 1 if any command failed.

Without --replicated the store lives only as long as the process, so exec is mostly
useful to try out modules or, in replicated mode, to run commands against a cluster.`,
	Example: `  kvx exec HSET h a 1
  printf 'HSET h a 1\nHGETALL h\n' | kvx exec --manifest kvx.toml`,
	RunE: run,
}

func init() {
	ExecCmd.Flags().Uint64("db", 0, util.WrapString("Database to run the commands against"))
	ExecCmd.Flags().Int("protocol", 2, util.WrapString("Protocol version of the replies (2 or 3)"))
	ExecCmd.Flags().String("user", "", util.WrapString("Run the commands as this ACL user"))
	ExecCmd.Flags().Bool("resp", false, util.WrapString("Print the raw RESP replies"))
}

func run(cmd *cobra.Command, args []string) error {
	host, err := util.SetupHost(cmd)
	if err != nil {
		return err
	}
	defer host.Close()

	session := util.NewSession(host, os.Stdout)
	session.SetRaw(viper.GetBool("resp"))

	if err := session.Select(viper.GetUint64("db")); err != nil {
		return err
	}
	if err := session.SetProtocol(viper.GetInt("protocol")); err != nil {
		return err
	}
	if user := viper.GetString("user"); user != "" {
		if err := session.Auth(user); err != nil {
			return err
		}
	}

	ctx := context.Background()
	if len(args) > 0 {
		session.Exec(ctx, args)
	} else {
		scanner := bufio.NewScanner(os.Stdin)
		scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
		for scanner.Scan() {
			if !session.ExecLine(ctx, scanner.Text()) {
				break
			}
		}
		if err := scanner.Err(); err != nil {
			return err
		}
	}

	if n := session.Errors(); n > 0 {
		return fmt.Errorf("%d command(s) failed", n)
	}
	return nil
}
