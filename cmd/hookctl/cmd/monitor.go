package cmd

import (
	"github.com/spf13/cobra"

	"github.com/cranesched/pluginhook/internal/hook"
)

// monitorCmd represents the monitor command
var monitorCmd = &cobra.Command{
	Use:   "monitor [job-id] [cgroup-path]",
	Short: "Send a JobMonitorHook for a job's cgroup",
	Long: `Ask the plugin daemon to start monitoring the resource group of a job.

Example:
  hookctl monitor 1001 /sys/fs/cgroup/crane/job_1001`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ids, err := parseJobIDs(args[:1])
		if err != nil {
			return err
		}
		cgroup := args[1]
		return runFire(cmd.OutOrStdout(), hook.KindJobMonitor, 1, func(c *hook.Client) {
			c.JobMonitorHookAsync(ids[0], cgroup)
		})
	},
}

func init() {
	rootCmd.AddCommand(monitorCmd)
}
