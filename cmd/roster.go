package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/andresmejia3/rollcall/internal/client"
	"github.com/andresmejia3/rollcall/internal/roster"
	"github.com/andresmejia3/rollcall/internal/types"
	"github.com/andresmejia3/rollcall/internal/utils"
	"github.com/spf13/cobra"
)

var rosterCmd = &cobra.Command{
	Use:   "roster",
	Short: "List students as an agent would load them",
	RunE: func(cmd *cobra.Command, args []string) error {
		backend, err := requireBackend()
		if err != nil {
			return err
		}
		cmd.SilenceUsage = true

		roomID, _ := cmd.Flags().GetString("room-id")
		minDim, _ := cmd.Flags().GetInt("min-dim")

		cl := client.New(backend, 0)
		students, err := cl.ListStudents(cmd.Context(), roomID)
		if err != nil {
			utils.ShowError("Failed to list students", err, nil)
			return err
		}
		entries, err := roster.Load(cmd.Context(), staticStudents(students), roomID, minDim)
		if err != nil {
			return err
		}

		if len(students) == 0 {
			fmt.Println("No students found.")
			return nil
		}
		printRoster(students, entries)
		fmt.Printf("\n%d of %d students would be loaded.\n", len(entries), len(students))
		return nil
	},
}

func init() {
	rosterCmd.Flags().String("room-id", "", "Only students assigned to this room")
	rosterCmd.Flags().Int("min-dim", roster.MinEncodingDim, "Shortest encoding an agent accepts")
	rootCmd.AddCommand(rosterCmd)
}

// staticStudents serves an already fetched list to roster.Load.
type staticStudents []types.Student

func (s staticStudents) ListStudents(_ context.Context, _ string) ([]types.Student, error) {
	return s, nil
}

func printRoster(students []types.Student, loaded []types.RosterEntry) {
	ok := make(map[string]bool, len(loaded))
	for _, e := range loaded {
		ok[e.IdentityID] = true
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tROLL\tENCODING\tLOADED")
	fmt.Fprintln(w, "--\t----\t----\t--------\t------")
	for _, s := range students {
		roll := "-"
		if s.RollNo != nil {
			roll = *s.RollNo
		}
		enc := "missing"
		if len(s.Encoding) > 0 {
			enc = fmt.Sprintf("%d-d", len(s.Encoding))
		}
		loadedMark := "no"
		if ok[s.ID] {
			loadedMark = "yes"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", s.ID, s.Name, roll, enc, loadedMark)
	}
	w.Flush()
}
