package main

import (
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// rootCmd profiles a demo workload on the cooperative loop and renders the
// session. It doubles as a smoke test for the whole engine.
var rootCmd = &cobra.Command{
	Use:   "loopscope",
	Short: "Profile a cooperative task loop and report what it did.",
	Long: `Loopscope runs a workload on a cooperative, single-threaded task ` +
		`loop under the profiling engine and reports the task hierarchy, ` +
		`blocking callbacks, and event-loop lag of the session.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return run(cmd, loadOptions())
	},
}

type options struct {
	Backend           string
	BlockingThreshold time.Duration
	LagInterval       time.Duration
	MaxTasks          int
	Stall             time.Duration
	JSON              bool
	DBPath            string
	Serve             bool
	Port              int
	Open              bool
}

// Execute adds all child commands to the root command and sets flags
// appropriately.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	// A .env file, when present, feeds the LOOPSCOPE_* variables.
	_ = godotenv.Load()

	flags := rootCmd.Flags()
	flags.String("backend", "auto",
		"profiling backend: auto, tracker, deep, or none")
	flags.Duration("blocking-threshold", 100*time.Millisecond,
		"report callbacks that hold the loop longer than this")
	flags.Duration("lag-interval", 10*time.Millisecond,
		"interval between event-loop lag probes")
	flags.Int("max-tasks", 10000,
		"maximum number of tasks tracked per session")
	flags.Duration("stall", 150*time.Millisecond,
		"length of the synthetic blocking callback in the demo workload")
	flags.Bool("json", false, "print the full stats structure as JSON")
	flags.String("db", "", "record the session into this SQLite file")
	flags.Bool("serve", false, "keep running and expose the monitoring server")
	flags.Int("port", 0, "monitoring server port, random when 0")
	flags.Bool("open", false, "open the monitoring server in a browser")

	viper.SetEnvPrefix("LOOPSCOPE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	if err := viper.BindPFlags(flags); err != nil {
		panic(err)
	}
}

func loadOptions() options {
	return options{
		Backend:           viper.GetString("backend"),
		BlockingThreshold: viper.GetDuration("blocking-threshold"),
		LagInterval:       viper.GetDuration("lag-interval"),
		MaxTasks:          viper.GetInt("max-tasks"),
		Stall:             viper.GetDuration("stall"),
		JSON:              viper.GetBool("json"),
		DBPath:            viper.GetString("db"),
		Serve:             viper.GetBool("serve"),
		Port:              viper.GetInt("port"),
		Open:              viper.GetBool("open"),
	}
}
