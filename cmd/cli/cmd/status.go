package cmd

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"backjob/pkg/api"
)

var statusCmd = &cobra.Command{
	Use:   "status [job_id]",
	Short: "Get status of a job",
	Long: `Retrieve the progress, status (STARTED, INPROGRESS, COMPLETED, FAILED) and
status text of a job. With --watch, poll until the job finishes.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil || id < 0 {
			cmd.Printf("Error: invalid job id %q\n", args[0])
			return
		}
		watch, _ := cmd.Flags().GetBool("watch")
		interval, _ := cmd.Flags().GetDuration("interval")
		if interval <= 0 {
			interval = time.Second
		}

		client := newClient()
		var last string
		for {
			job, err := client.GetJob(id)
			if err != nil {
				printAPIError(cmd, "Status", err)
				return
			}

			if !watch {
				printStatus(cmd, *job)
				return
			}

			// Only print when something changed.
			line := fmt.Sprintf("%s %3d%% %s", colorizeStatus(job.Status), job.Progress, lastLine(job.StatusText))
			if line != last {
				cmd.Println(line)
				last = line
			}
			if isTerminal(job.Status) {
				cmd.Println()
				printStatus(cmd, *job)
				return
			}
			time.Sleep(interval)
		}
	},
}

func printStatus(cmd *cobra.Command, job api.JobStatusResponse) {
	// Header with status icon
	icon := statusIcon(job.Status)
	cmd.Printf("%s %sJob Details%s\n", icon, colorBold, colorReset)
	cmd.Println("──────────────────────────────")

	cmd.Printf("%sID:%s          %d\n", colorDim, colorReset, job.ID)
	cmd.Printf("%sStatus:%s      %s\n", colorDim, colorReset, colorizeStatus(job.Status))
	cmd.Printf("%sProgress:%s    %s\n", colorDim, colorReset, progressBar(job.Progress))

	if job.StatusText != "" {
		cmd.Printf("%sOutput:%s\n", colorDim, colorReset)
		for _, line := range strings.Split(strings.TrimRight(job.StatusText, "\n"), "\n") {
			if strings.HasPrefix(line, "Error:") {
				cmd.Printf("  %s%s%s\n", colorRed, line, colorReset)
			} else {
				cmd.Printf("  %s\n", line)
			}
		}
	}
}

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorBold   = "\033[1m"
	colorDim    = "\033[2m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
)

func isTerminal(status string) bool {
	return status == "COMPLETED" || status == "FAILED"
}

func statusIcon(status string) string {
	switch status {
	case "COMPLETED":
		return colorGreen + "✓" + colorReset
	case "FAILED":
		return colorRed + "✗" + colorReset
	case "INPROGRESS":
		return colorYellow + "⏳" + colorReset
	case "STARTED":
		return colorCyan + "◯" + colorReset
	default:
		return "•"
	}
}

func colorizeStatus(status string) string {
	icon := statusIcon(status)
	switch status {
	case "COMPLETED":
		return icon + " " + colorGreen + status + colorReset
	case "FAILED":
		return icon + " " + colorRed + status + colorReset
	case "INPROGRESS":
		return icon + " " + colorYellow + status + colorReset
	case "STARTED":
		return icon + " " + colorCyan + status + colorReset
	default:
		return status
	}
}

func progressBar(p int) string {
	const width = 20
	if p < 0 {
		p = 0
	}
	if p > 100 {
		p = 100
	}
	filled := p * width / 100
	return fmt.Sprintf("[%s%s] %d%%", strings.Repeat("█", filled), strings.Repeat("░", width-filled), p)
}

func lastLine(s string) string {
	s = strings.TrimRight(s, "\n")
	if i := strings.LastIndex(s, "\n"); i >= 0 {
		return s[i+1:]
	}
	return s
}

func init() {
	statusCmd.Flags().BoolP("watch", "w", false, "Poll until the job completes or fails")
	statusCmd.Flags().Duration("interval", time.Second, "Polling interval for --watch")

	rootCmd.AddCommand(statusCmd)
}
