package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/cranesched/pluginhook/internal/logging"
)

var (
	cfgFile          string
	socketPath       string
	timeout          time.Duration
	callTimeout      time.Duration
	reconnectBackoff time.Duration
	dlqAddr          string
	dlqTopic         string
	outputJSON       bool
	verbose          bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "hookctl",
	Short: "Plugin hook CLI - fire job hooks at a plugin daemon",
	Long: `hookctl sends job lifecycle hooks to a plugin daemon over its unix socket
using the same asynchronous client the scheduler uses.

Each command queues its hook, waits until the queue drains or the timeout
passes, and then stops the client. Hooks still queued at that point are
reported as pending.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if !verbose {
			logging.SetOutput(io.Discard)
			return
		}
		logging.SetOutput(os.Stderr)
		logging.SetLevel(logging.LevelDebug)
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.hookctl.yaml)")
	rootCmd.PersistentFlags().StringVar(&socketPath, "socket", "/run/crane/cplugind.sock", "plugin daemon unix socket")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "how long to wait for queued hooks to be delivered")
	rootCmd.PersistentFlags().DurationVar(&callTimeout, "call-timeout", 0, "per-RPC deadline (0 disables)")
	rootCmd.PersistentFlags().DurationVar(&reconnectBackoff, "reconnect-backoff", time.Second, "sleep between connection attempts")
	rootCmd.PersistentFlags().StringVar(&dlqAddr, "dlq-nsqd", "", "nsqd TCP address for publishing rejected hooks (empty disables)")
	rootCmd.PersistentFlags().StringVar(&dlqTopic, "dlq-topic", "plugin_hooks_dlq", "dead letter topic")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "print client logs to stderr")

	viper.BindPFlag("socket", rootCmd.PersistentFlags().Lookup("socket"))
	viper.BindPFlag("timeout", rootCmd.PersistentFlags().Lookup("timeout"))
	viper.BindPFlag("call_timeout", rootCmd.PersistentFlags().Lookup("call-timeout"))
	viper.BindPFlag("reconnect_backoff", rootCmd.PersistentFlags().Lookup("reconnect-backoff"))
	viper.BindPFlag("dlq_nsqd", rootCmd.PersistentFlags().Lookup("dlq-nsqd"))
	viper.BindPFlag("dlq_topic", rootCmd.PersistentFlags().Lookup("dlq-topic"))
	viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".hookctl")
	}

	viper.SetEnvPrefix("HOOKCTL")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}

	// Override global variables with config values if flags weren't explicitly set
	flags := rootCmd.PersistentFlags()
	if !flags.Changed("socket") {
		if s := viper.GetString("socket"); s != "" {
			socketPath = s
		}
	}
	if !flags.Changed("timeout") {
		if d := viper.GetDuration("timeout"); d > 0 {
			timeout = d
		}
	}
	if !flags.Changed("call-timeout") {
		callTimeout = viper.GetDuration("call_timeout")
	}
	if !flags.Changed("reconnect-backoff") {
		if d := viper.GetDuration("reconnect_backoff"); d > 0 {
			reconnectBackoff = d
		}
	}
	if !flags.Changed("dlq-nsqd") {
		dlqAddr = viper.GetString("dlq_nsqd")
	}
	if !flags.Changed("dlq-topic") {
		if s := viper.GetString("dlq_topic"); s != "" {
			dlqTopic = s
		}
	}
	if !flags.Changed("json") {
		outputJSON = viper.GetBool("json")
	}
}

// printOutput prints v as indented JSON when --json is set, otherwise with
// the human formatter.
func printOutput(w io.Writer, v any, human func(io.Writer)) error {
	if !outputJSON {
		human(w)
		return nil
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal output: %w", err)
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}

// parseJobIDs parses job ids given as separate arguments or comma lists.
func parseJobIDs(args []string) ([]uint32, error) {
	var ids []uint32
	for _, arg := range args {
		for _, part := range strings.Split(arg, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			id, err := strconv.ParseUint(part, 10, 32)
			if err != nil {
				return nil, fmt.Errorf("invalid job id %q: %w", part, err)
			}
			ids = append(ids, uint32(id))
		}
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("no job ids given")
	}
	return ids, nil
}

// parseTimestamp parses an RFC3339 timestamp; empty means the zero time.
func parseTimestamp(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse timestamp (expected RFC3339 format): %w", err)
	}
	return t, nil
}
