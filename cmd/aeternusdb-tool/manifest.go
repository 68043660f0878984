package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/kamil-kielbasa/aeternusdb/internal/manifest"
	"github.com/kamil-kielbasa/aeternusdb/vfs"
)

var manifestCmd = &cobra.Command{
	Use:   "manifest <db-dir>",
	Short: "dump the current manifest state",
	Args:  cobra.ExactArgs(1),
	RunE:  runManifest,
}

func runManifest(cmd *cobra.Command, args []string) error {
	fs := vfs.Default
	dir := fs.PathJoin(args[0], "manifest")

	mf, err := manifest.Open(fs, dir)
	if err != nil {
		return fmt.Errorf("open manifest: %w", err)
	}
	defer mf.Close()

	state := mf.State()
	fmt.Printf("version:       %d\n", state.Version)
	fmt.Printf("last_lsn:      %d\n", state.LastLSN)
	fmt.Printf("active_wal_id: %d\n", state.ActiveWalID)
	fmt.Printf("next_sst_id:   %d\n", state.NextSstID)
	fmt.Printf("dirty:         %t\n", state.Dirty)

	fmt.Println("\nfrozen wals:")
	frozenTbl := tablewriter.NewWriter(os.Stdout)
	frozenTbl.SetHeader([]string{"wal_id"})
	for _, w := range state.FrozenWalIDs {
		frozenTbl.Append([]string{strconv.FormatUint(w, 10)})
	}
	frozenTbl.Render()

	fmt.Println("\nlive ssts:")
	sstTbl := tablewriter.NewWriter(os.Stdout)
	sstTbl.SetHeader([]string{"id", "path"})
	for _, s := range state.Ssts {
		sstTbl.Append([]string{strconv.FormatUint(s.ID, 10), s.Path})
	}
	sstTbl.Render()

	return nil
}
