package shell

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/ValentinKolb/kvx/cmd/util"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// ShellCmd starts an interactive shell
var ShellCmd = &cobra.Command{
	Use:   "shell",
	Short: "Start an interactive shell",
	Long: `Start an interactive shell that runs commands against a host.
Type .help for the shell commands. In replicated mode the shell is a full member of the
RAFT cluster and keeps running until it is closed with .quit or Ctrl-D.`,
	RunE: run,
}

func init() {
	ShellCmd.Flags().Bool("resp", false, util.WrapString("Print the raw RESP replies"))
}

func run(cmd *cobra.Command, _ []string) error {
	host, err := util.SetupHost(cmd)
	if err != nil {
		return err
	}
	defer host.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	session := util.NewSession(host, os.Stdout)
	session.SetRaw(viper.GetBool("resp"))

	interactive := isTerminal(os.Stdin)
	if interactive {
		fmt.Printf("kvx shell, %d commands loaded. Type .help for help.\n", len(host.Registry.Descriptors()))
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		if interactive {
			fmt.Print(session.Prompt())
		}
		select {
		case <-ctx.Done():
			fmt.Println()
			return nil
		case line, ok := <-lines:
			if !ok || !session.ExecLine(ctx, line) {
				return nil
			}
		}
	}
}

// isTerminal reports whether f is a character device (an interactive terminal)
func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}
