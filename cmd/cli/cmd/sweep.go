package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Delete aged finished jobs",
	Long: `Run the server's retention sweep, deleting finished jobs older than its
backlog windows. The token must be the server's system secret.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		if viper.GetString("token") == "" {
			cmd.Println("System secret not found. Please set it using the --token flag or the BACKJOB_TOKEN environment variable")
			return
		}

		result, err := newClient().Sweep()
		if err != nil {
			printAPIError(cmd, "Sweep", err)
			return
		}
		cmd.Printf("✓ Deleted %d finished job(s)\n", result.Deleted)
	},
}

func init() {
	rootCmd.AddCommand(sweepCmd)
}
