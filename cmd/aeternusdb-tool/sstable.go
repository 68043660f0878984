package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/kamil-kielbasa/aeternusdb/internal/sstable"
	"github.com/kamil-kielbasa/aeternusdb/vfs"
)

var sstableTruncate bool

var sstableCmd = &cobra.Command{
	Use:   "sstable <path-to.sst>",
	Short: "dump one SST's metadata and contents",
	Args:  cobra.ExactArgs(1),
	RunE:  runSstable,
}

func init() {
	sstableCmd.Flags().BoolVarP(&sstableTruncate, "truncate", "t", true, "truncate long keys and values in the dump")
}

// sstableID recovers the numeric id sstable.FileName encoded into the
// filename, since sstable.Open takes the id as an argument and reports it
// back through Reader.ID.
func sstableID(path string) (uint64, error) {
	var id uint64
	base := filepath.Base(path)
	if _, err := fmt.Sscanf(base, "sstable-%06d.sst", &id); err != nil {
		return 0, fmt.Errorf("parse sst id from %q: %w", base, err)
	}
	return id, nil
}

func runSstable(cmd *cobra.Command, args []string) error {
	path := args[0]
	id, err := sstableID(path)
	if err != nil {
		return err
	}

	r, err := sstable.Open(vfs.Default, path, id)
	if err != nil {
		return fmt.Errorf("open sst: %w", err)
	}
	defer r.Close()

	fmt.Printf("id:                  %d\n", r.ID())
	fmt.Printf("record_count:        %d\n", r.RecordCount())
	fmt.Printf("num_deletions:       %d\n", r.NumDeletions())
	fmt.Printf("num_range_deletions: %d\n", r.NumRangeDeletions())
	fmt.Printf("min_key:             %q\n", r.MinKey())
	fmt.Printf("max_key:             %q\n", r.MaxKey())
	fmt.Printf("min_lsn:             %d\n", r.MinLSN())
	fmt.Printf("max_lsn:             %d\n", r.MaxLSN())
	fmt.Printf("created_at:          %d\n", r.CreatedAt())

	entries, err := r.ScanAll()
	if err != nil {
		return fmt.Errorf("scan sst: %w", err)
	}

	fmt.Println()
	tbl := tablewriter.NewWriter(os.Stdout)
	tbl.SetHeader([]string{"kind", "key", "value", "lsn", "ts"})
	for _, e := range entries {
		if e.Tombstone != nil {
			tbl.Append([]string{
				"range_delete",
				truncateBytes(e.Tombstone.Start), truncateBytes(e.Tombstone.End),
				fmt.Sprintf("%d", e.Tombstone.LSN), fmt.Sprintf("%d", e.Tombstone.Ts),
			})
			continue
		}
		kind := "put"
		if e.Delete {
			kind = "delete"
		}
		tbl.Append([]string{
			kind, truncateBytes(e.Key), truncateBytes(e.Value),
			fmt.Sprintf("%d", e.LSN), fmt.Sprintf("%d", e.Ts),
		})
	}
	tbl.Render()

	return nil
}

func truncateBytes(b []byte) string {
	if !sstableTruncate || len(b) <= 40 {
		return fmt.Sprintf("%q", b)
	}
	return fmt.Sprintf("%q...(%d bytes)", b[:20], len(b))
}
