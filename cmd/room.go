package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/andresmejia3/rollcall/internal/client"
	"github.com/andresmejia3/rollcall/internal/types"
	"github.com/andresmejia3/rollcall/internal/utils"
	"github.com/spf13/cobra"
)

var roomCmd = &cobra.Command{
	Use:   "room",
	Short: "Manage rooms in the attendance store",
}

var roomCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Register a room and print its id",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		backend, err := requireBackend()
		if err != nil {
			return err
		}
		cmd.SilenceUsage = true

		in := types.RoomInput{Name: args[0]}
		if u, _ := cmd.Flags().GetString("camera-url"); u != "" {
			in.CameraURL = &u
		}
		room, err := client.New(backend, 0).CreateRoom(cmd.Context(), in)
		if err != nil {
			utils.ShowError("Failed to create room", err, nil)
			return err
		}
		fmt.Printf("✅ Room '%s' created with ID %s\n", room.Name, room.ID)
		return nil
	},
}

var roomListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all rooms",
	RunE: func(cmd *cobra.Command, args []string) error {
		backend, err := requireBackend()
		if err != nil {
			return err
		}
		cmd.SilenceUsage = true

		rooms, err := client.New(backend, 0).ListRooms(cmd.Context())
		if err != nil {
			utils.ShowError("Failed to list rooms", err, nil)
			return err
		}
		if len(rooms) == 0 {
			fmt.Println("No rooms found.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tACTIVE\tCAMERA")
		fmt.Fprintln(w, "--\t----\t------\t------")
		for _, r := range rooms {
			cam := "-"
			if r.CameraURL != nil {
				cam = *r.CameraURL
			}
			fmt.Fprintf(w, "%s\t%s\t%v\t%s\n", r.ID, r.Name, r.IsActive, cam)
		}
		return w.Flush()
	},
}

func init() {
	roomCreateCmd.Flags().String("camera-url", "", "Camera stream URL recorded with the room")
	roomCmd.AddCommand(roomCreateCmd, roomListCmd)
	rootCmd.AddCommand(roomCmd)
}

// requireBackend returns the store URL from --backend, ROLLCALL_BACKEND or the config file.
func requireBackend() (string, error) {
	backend := settings.GetString("backend")
	if err := validateBackend(backend); err != nil {
		return "", err
	}
	return backend, nil
}
