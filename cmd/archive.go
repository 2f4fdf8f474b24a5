package cmd

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/jaffee/commandeer"
	"github.com/pilosa/wikicounts"
	"github.com/pilosa/wikicounts/job"
	"github.com/spf13/cobra"
)

// Mains holds the job.Main behind each archive subcommand, keyed by archive
// name. It is only exported for testing purposes.
var Mains = map[string]*job.Main{}

// NewArchiveCommand returns a new cobra command which runs one window of a.
func NewArchiveCommand(a *wikicounts.Archive, short string) func(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	return func(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
		m := job.NewMain(a)
		Mains[a.Name] = m
		com := &cobra.Command{
			Use:   a.Name,
			Short: a.Name + " - " + short,
			Long: `Processes the ` + a.Name + ` window which the reference time (default now)
falls in once the archive's publication lag is subtracted. Rerunning a window
replaces its previous output.`,
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
}

func init() {
	subcommandFns[wikicounts.Pagecounts.Name] = NewArchiveCommand(wikicounts.Pagecounts, "hourly pageviews per project and article")
	subcommandFns[wikicounts.Mediacounts.Name] = NewArchiveCommand(wikicounts.Mediacounts, "daily transfer counts per media file")
}
