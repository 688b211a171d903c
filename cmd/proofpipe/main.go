// Command proofpipe turns informal requirements into verified lemmas.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/proofpipe/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
