package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "backjobctl",
	Short: "backjobctl starts and watches background jobs on a backjob server",
	Long: `backjobctl is the command-line interface for a backjob server.

A backjob server runs registered actions as background jobs. Each job is started
by an authenticated call the server makes to itself, and its progress is stored
so any client can poll it.

Common workflows:

  Start a job:
    backjobctl start countdown -p steps=10 -p interval=2s

  Start a job after a delay:
    backjobctl start echo -p name=ada --delay 30s

  Check job status:
    backjobctl status 42

  Watch a job until it finishes:
    backjobctl status 42 --watch

  Delete old finished jobs (requires the server's system secret):
    backjobctl sweep --token $SYSTEM_SECRET

Configuration:
  Set the API endpoint and credentials via environment variables or a config file:
    BACKJOB_URL      API endpoint (default: http://localhost:6161)
    BACKJOB_TOKEN    Bearer token sent with every request`,
}

func Execute() error {
	return rootCmd.Execute()
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}

		// Search config in home directory with name ".backjobctl"
		viper.AddConfigPath(home)
		viper.SetConfigName(".backjobctl")
		viper.SetConfigType("yaml")
	}

	// Read environment variables that match "BACKJOB_VARNAME"
	viper.SetEnvPrefix("BACKJOB")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.backjobctl.yaml)")

	rootCmd.PersistentFlags().String("url", "http://localhost:6161", "backjob server URL")
	viper.BindPFlag("url", rootCmd.PersistentFlags().Lookup("url"))

	rootCmd.PersistentFlags().StringP("token", "t", "", "Bearer token for authentication")
	viper.BindPFlag("token", rootCmd.PersistentFlags().Lookup("token"))
}

// newClient builds a client from the resolved url and token.
func newClient() *JobClient {
	return NewJobClient(viper.GetString("url"), viper.GetString("token"))
}

// printAPIError reports err, unwrapping server error bodies.
func printAPIError(cmd *cobra.Command, what string, err error) {
	if apiErr, ok := err.(*APIError); ok {
		cmd.Printf("%s failed (%d): %s\n", what, apiErr.StatusCode, apiErr.Message)
		return
	}
	cmd.Printf("%s failed: %v\n", what, err)
}
