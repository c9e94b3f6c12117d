package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"backjob/pkg/api"
)

var startCmd = &cobra.Command{
	Use:   "start [action]",
	Short: "Start a background job",
	Long: `Start the named action as a background job and print its id.

Example:
  backjobctl start countdown -p steps=10
  backjobctl start import --method POST -d file=data.csv --delay 1m`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		flags := cmd.Flags()
		params, _ := flags.GetStringArray("param")
		postData, _ := flags.GetStringArray("data")
		method, _ := flags.GetString("method")
		delay, _ := flags.GetDuration("delay")
		asUser, _ := flags.GetBool("as-current-user")

		paramMap, err := parsePairs(params)
		if err != nil {
			cmd.Printf("Error: --param %v\n", err)
			return
		}
		dataMap, err := parsePairs(postData)
		if err != nil {
			cmd.Printf("Error: --data %v\n", err)
			return
		}
		if delay < 0 {
			cmd.Println("Error: --delay must not be negative")
			return
		}

		req := api.StartJobRequest{
			Action:        args[0],
			Params:        paramMap,
			Method:        strings.ToUpper(method),
			PostData:      dataMap,
			DelaySeconds:  int(delay.Round(time.Second) / time.Second),
			AsCurrentUser: asUser,
		}

		result, err := newClient().StartJob(req)
		if err != nil {
			printAPIError(cmd, "Start", err)
			return
		}

		cmd.Printf("✓ Job started!\nJob ID: %d\n", result.JobID)
	},
}

// parsePairs turns "k=v" strings into a map.
func parsePairs(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("expected key=value, got %q", p)
		}
		out[k] = v
	}
	return out, nil
}

func init() {
	flags := startCmd.Flags()
	flags.StringArrayP("param", "p", nil, "Query parameter for the action as key=value (repeatable)")
	flags.StringArrayP("data", "d", nil, "POST field for the action as key=value (repeatable)")
	flags.StringP("method", "m", "GET", "HTTP method the worker uses to call the action (GET or POST)")
	flags.Duration("delay", 0, "Earliest start, relative to now (e.g. 30s, 5m)")
	flags.Bool("as-current-user", false, "Forward the token to the action as the caller's Authorization")

	rootCmd.AddCommand(startCmd)
}
