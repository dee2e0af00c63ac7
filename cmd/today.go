package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/andresmejia3/rollcall/internal/client"
	"github.com/andresmejia3/rollcall/internal/utils"
	"github.com/spf13/cobra"
)

var todayCmd = &cobra.Command{
	Use:   "today",
	Short: "Show today's attendance (UTC day)",
	RunE: func(cmd *cobra.Command, args []string) error {
		backend, err := requireBackend()
		if err != nil {
			return err
		}
		cmd.SilenceUsage = true

		roomID, _ := cmd.Flags().GetString("room-id")
		marks, err := client.New(backend, 0).Today(cmd.Context(), roomID)
		if err != nil {
			utils.ShowError("Failed to fetch attendance", err, nil)
			return err
		}
		if len(marks) == 0 {
			fmt.Println("No attendance recorded today.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "STUDENT\tROOM\tTIME\tSOURCE")
		fmt.Fprintln(w, "-------\t----\t----\t------")
		for _, m := range marks {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", m.StudentID, m.RoomID, m.Timestamp.Local().Format("15:04:05"), m.Source)
		}
		return w.Flush()
	},
}

func init() {
	todayCmd.Flags().String("room-id", "", "Only this room")
	rootCmd.AddCommand(todayCmd)
}
