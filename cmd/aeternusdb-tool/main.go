// Command aeternusdb-tool inspects an AeternusDB data directory offline: it
// dumps manifest state, dumps individual SST contents, and verifies a
// database by opening it through the engine, whose recovery and Close can
// write to the directory.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "aeternusdb-tool",
	Short: "inspect an AeternusDB data directory",
}

func main() {
	cobra.EnableCommandSorting = false
	rootCmd.AddCommand(manifestCmd, sstableCmd, verifyCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
