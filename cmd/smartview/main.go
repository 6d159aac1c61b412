// Command smartview maintains smart playlists over a media library.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/smartview/internal/cli"
)

func main() {
	err := cli.NewRootCommand().Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	os.Exit(cli.GetExitCode(err))
}
