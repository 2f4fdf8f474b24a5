package cmd

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/jaffee/commandeer"
	"github.com/pilosa/wikicounts/rchanges"
	"github.com/spf13/cobra"
)

// RCListenerMain is the rchanges.Main behind the rclistener subcommand. It
// is only exported for testing purposes.
var RCListenerMain *rchanges.Main

// NewRCListenerCommand returns a new cobra command which streams recent
// changes into a database until interrupted.
func NewRCListenerCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	m := rchanges.NewMain()
	RCListenerMain = m
	com := &cobra.Command{
		Use:   "rclistener",
		Short: "rclistener - store Wikimedia recent changes in MySQL",
		Long: `Subscribes to the Wikimedia recent changes event stream and inserts
one row per change into a MySQL compatible table, using several
concurrent writers. Runs until interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return m.Run(ctx)
		},
	}
	err := commandeer.Flags(com.Flags(), m)
	if err != nil {
		panic(err)
	}
	return com
}

func init() {
	subcommandFns["rclistener"] = NewRCListenerCommand
}
