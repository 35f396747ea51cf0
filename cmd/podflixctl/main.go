// Command podflixctl manages the database schema and fetches transcripts
// from the command line.
package main

import (
	"os"

	"github.com/suPer8Hu/podflix/internal/logging"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		logging.New("podflixctl").WithError(err).Error("command failed")
		os.Exit(1)
	}
}
