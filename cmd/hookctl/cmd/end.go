package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cranesched/pluginhook/internal/hook"
)

var (
	endFlags    jobFlags
	endExitCode uint32
	endAt       string
)

// endCmd represents the end command
var endCmd = &cobra.Command{
	Use:   "end [job-id...]",
	Short: "Send an EndHook for one or more jobs",
	Long: `Send a single EndHook carrying every listed job. Elapsed time is
measured from --started-at to the moment the hook is queued.

Example:
  hookctl end 1001 --started-at 2024-03-01T08:00:00Z --exit-code 0 --status Completed`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ids, err := parseJobIDs(args)
		if err != nil {
			return err
		}
		jobs, err := endFlags.jobs(ids)
		if err != nil {
			return err
		}
		end, err := parseTimestamp(endAt)
		if err != nil {
			return fmt.Errorf("--ended-at: %w", err)
		}
		for i := range jobs {
			jobs[i].ExitCode = endExitCode
			jobs[i].EndTime = end
		}
		return runFire(cmd.OutOrStdout(), hook.KindEnd, 1, func(c *hook.Client) {
			c.EndHookAsync(jobs)
		})
	},
}

func init() {
	rootCmd.AddCommand(endCmd)
	endFlags.register(endCmd)
	endCmd.Flags().Uint32Var(&endExitCode, "exit-code", 0, "job exit code")
	endCmd.Flags().StringVar(&endAt, "ended-at", "", "end time (RFC3339)")
}
