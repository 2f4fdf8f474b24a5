package main

import (
	"fmt"
	"os"

	"github.com/pilosa/wikicounts"
	"github.com/pilosa/wikicounts/cmd"
)

func main() {
	rootCmd := cmd.NewRootCommand(os.Stdin, os.Stdout, os.Stderr)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if wikicounts.IsParameterError(err) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}
