package cmd

import (
	"fmt"
	"os"

	"github.com/andresmejia3/rollcall/internal/config"
	"github.com/andresmejia3/rollcall/internal/server"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:         "serve",
	Short:       "Run the attendance store HTTP API",
	Annotations: map[string]string{needsDB: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadServer(settings)
		if err != nil {
			return err
		}
		cmd.SilenceUsage = true

		fmt.Fprintf(os.Stderr, "🗄️  Attendance store ready on %s\n", cfg.Addr)
		if err := server.New(cfg, DB).Start(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintln(os.Stderr, "👋 Store stopped.")
		return nil
	},
}

func init() {
	serveCmd.Flags().String("addr", ":8000", "Listen address")
	serveCmd.Flags().StringSlice("cors-origins", []string{"*"}, "Allowed CORS origins (* allows any)")
	rootCmd.AddCommand(serveCmd)
}
