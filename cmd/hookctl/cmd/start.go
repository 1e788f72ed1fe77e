package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/cranesched/pluginhook/internal/hook"
	"github.com/cranesched/pluginhook/internal/pluginapi"
)

// jobFlags are the job descriptor fields shared by start and end.
type jobFlags struct {
	name      string
	user      string
	account   string
	partition string
	qos       string
	nodeList  string
	status    string
	submitAt  string
	startAt   string
}

func (f *jobFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.name, "name", "", "job name")
	cmd.Flags().StringVar(&f.user, "user", "", "job owner")
	cmd.Flags().StringVar(&f.account, "account", "", "charge account")
	cmd.Flags().StringVar(&f.partition, "partition", "", "partition")
	cmd.Flags().StringVar(&f.qos, "qos", "", "quality of service")
	cmd.Flags().StringVar(&f.nodeList, "nodes", "", "allocated node list, e.g. cn[01-04]")
	cmd.Flags().StringVar(&f.status, "status", "", "job status")
	cmd.Flags().StringVar(&f.submitAt, "submitted-at", "", "submit time (RFC3339)")
	cmd.Flags().StringVar(&f.startAt, "started-at", "", "start time (RFC3339, default now)")
}

// jobs builds one descriptor per id from the flags.
func (f *jobFlags) jobs(ids []uint32) ([]pluginapi.JobInfo, error) {
	submit, err := parseTimestamp(f.submitAt)
	if err != nil {
		return nil, fmt.Errorf("--submitted-at: %w", err)
	}
	start, err := parseTimestamp(f.startAt)
	if err != nil {
		return nil, fmt.Errorf("--started-at: %w", err)
	}
	if start.IsZero() {
		start = time.Now()
	}

	jobs := make([]pluginapi.JobInfo, 0, len(ids))
	for _, id := range ids {
		jobs = append(jobs, pluginapi.JobInfo{
			JobID:      id,
			Name:       f.name,
			User:       f.user,
			Account:    f.account,
			Partition:  f.partition,
			QoS:        f.qos,
			NodeList:   f.nodeList,
			Status:     f.status,
			SubmitTime: submit,
			StartTime:  start,
		})
	}
	return jobs, nil
}

var startFlags jobFlags

// startCmd represents the start command
var startCmd = &cobra.Command{
	Use:   "start [job-id...]",
	Short: "Send a StartHook for one or more jobs",
	Long: `Send a single StartHook carrying every listed job.

Example:
  hookctl start 1001 1002 --user alice --partition gpu --status Running`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ids, err := parseJobIDs(args)
		if err != nil {
			return err
		}
		jobs, err := startFlags.jobs(ids)
		if err != nil {
			return err
		}
		return runFire(cmd.OutOrStdout(), hook.KindStart, 1, func(c *hook.Client) {
			c.StartHookAsync(jobs)
		})
	},
}

func init() {
	rootCmd.AddCommand(startCmd)
	startFlags.register(startCmd)
}
