// Copyright 2016 Ericsson AB All Rights Reserved.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/erixzone/repman/pkg/lock"
	"github.com/erixzone/repman/pkg/manager"
	"github.com/erixzone/repman/pkg/policy"
	"github.com/erixzone/repman/pkg/replicate"
	"github.com/erixzone/repman/pkg/report"
	"github.com/erixzone/repman/pkg/runconf"
	"github.com/erixzone/repman/pkg/util/log"
)

// repmanVersion is the actual repman release version.
// For major releases this should be incremented.
const repmanVersion = "v0.1"

// Exit codes.
const (
	exitOK           = 0
	exitFailure      = 1
	exitInconsistent = 2
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.WithError(err).Error("repman failed")
		os.Exit(exitCode(err))
	}
}

// exitCode maps an error to the process exit status. State the operator
// must repair by hand gets its own code so cluster wrappers can stop
// resubmitting.
func exitCode(err error) int {
	switch errors.Cause(err).(type) {
	case nil:
		return exitOK
	case *replicate.NoCheckpointError, *replicate.TransitionError:
		return exitInconsistent
	}
	return exitFailure
}

var cfgFile string
var showVersion bool
var policyFlag = policy.Name(policy.Default)

func init() {
	log.SetLevel(logrus.InfoLevel)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "settings file (default is $(PWD)/.repman.yaml)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolP("quiet", "q", false, "only log warnings and errors")

	flags := rootCmd.Flags()
	flags.VarP(&policyFlag, "policy", "p", fmt.Sprintf("selection policy %v", policy.Names()))
	flags.Duration("poll-interval", lock.DefaultPollInterval, "delay between attempts to take the results directory lock")
	flags.Duration("lock-timeout", 0, "give up waiting for the lock after this long (0 waits forever)")
	flags.Bool("break-stale", false, "remove a lock left by a dead process on this host")
	flags.Bool("mark-done", false, "mark the replicate done when the experiment exits cleanly")
	flags.BoolVar(&showVersion, "version", false, "Print version info and exit.")

	statusCmd.Flags().String("metrics-file", "", "also write Prometheus metrics to this file")

	rootCmd.AddCommand(statusCmd, markCmd)
	cobra.OnInitialize(initConfig)
}

// initConfig reads in the settings file and REPMAN_* environment variables.
func initConfig() {
	viper.SetEnvPrefix("repman")
	viper.AutomaticEnv()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}
	viper.SetConfigName(".repman")
	viper.AddConfigPath(".")

	viper.BindPFlags(rootCmd.PersistentFlags())
	bindFlags(rootCmd.Flags(), map[string]string{
		"policy":        "policy",
		"poll_interval": "poll-interval",
		"lock_timeout":  "lock-timeout",
		"break_stale":   "break-stale",
		"mark_done":     "mark-done",
	})
	bindFlags(statusCmd.Flags(), map[string]string{"metrics_file": "metrics-file"})

	viper.SetDefault("policy", policy.Default)
	viper.SetDefault("poll_interval", lock.DefaultPollInterval)
	viper.SetDefault("lock_timeout", 0)

	err := viper.ReadInConfig()

	// ReadInConfig will return an error if no settings file exists.
	// We only want to raise an error if a file was provided.
	if viper.ConfigFileUsed() != "" && err != nil {
		fmt.Fprintf(os.Stderr, "Error reading repman settings: %s\n", err)
		os.Exit(exitFailure)
	}

	switch {
	case viper.GetBool("debug"):
		log.SetLevel(logrus.DebugLevel)
		log.SetVerbosity(2)
	case viper.GetBool("quiet"):
		log.SetLevel(logrus.WarnLevel)
	}
	log.Debugf("Using settings file: %s", viper.ConfigFileUsed())
}

func bindFlags(fs *pflag.FlagSet, keys map[string]string) {
	for key, name := range keys {
		viper.BindPFlag(key, fs.Lookup(name))
	}
}

func loadConfig(path string) (*runconf.Config, error) {
	cfg, err := runconf.Load(path)
	if err != nil {
		return nil, err
	}
	log.WithFields(logrus.Fields{
		"res_dir":    cfg.ResDir,
		"bin_dir":    cfg.BinDir,
		"replicates": cfg.Replicates,
	}).Debugf("loaded %s", path)
	return cfg, nil
}

var rootCmd = &cobra.Command{
	Use:   "repman [flags] CONFIG [" + policyList() + "]",
	Short: "Claim and run one pending experiment replicate",
	Long: `repman picks one ready or interrupted replicate from the results
directory named in CONFIG, marks it running and launches the experiment
binary on it. Interrupt and quit signals are relayed to the binary and
the replicate is marked interrupted so a later run resumes it from its
newest checkpoint.`,
	Example:       "repman -d experiments.json fair",
	SilenceErrors: true,
	Args:          cobra.MaximumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if showVersion {
			printVersion()
			os.Exit(exitOK)
		}
		if len(args) == 0 {
			return cmd.Usage()
		}
		cmd.SilenceUsage = true

		name := viper.GetString("policy")
		if len(args) == 2 {
			name = args[1]
		}
		p, err := policy.Get(name)
		if err != nil {
			return err
		}

		cfg, err := loadConfig(args[0])
		if err != nil {
			return err
		}
		m, err := manager.New(cfg, p, manager.Options{
			Lock: lock.Options{
				PollInterval: viper.GetDuration("poll_interval"),
				Timeout:      viper.GetDuration("lock_timeout"),
				BreakStale:   viper.GetBool("break_stale"),
			},
			MarkDone: viper.GetBool("mark_done"),
		})
		if err != nil {
			return err
		}

		sigs := make(chan os.Signal, 1)
		signal.Notify(sigs, syscall.SIGINT, syscall.SIGQUIT)
		defer signal.Stop(sigs)

		out, err := m.Run(context.Background(), sigs)
		if err != nil {
			return err
		}
		switch {
		case out.NoWork:
			log.Info("nothing to do")
		case out.Signal != nil:
			log.Warnf("stopped by %v", out.Signal)
		default:
			log.WithReplicate(out.Claim.Experiment, out.Claim.Index).Info("finished")
		}
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:     "status [--metrics-file PATH] CONFIG",
	Short:   "Show the status of every replicate",
	Example: "repman status --metrics-file /var/lib/node_exporter/repman.prom experiments.json",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		cfg, err := loadConfig(args[0])
		if err != nil {
			return err
		}
		store := replicate.NewStore(cfg.ResDir)
		store.DoneMarker = cfg.LastFile

		rows, err := report.Collect(store, cfg.Exps, cfg.Replicates)
		if err != nil {
			return err
		}
		if err := report.Write(cmd.OutOrStdout(), rows); err != nil {
			return err
		}
		if path := viper.GetString("metrics_file"); path != "" {
			return report.WriteMetrics(path, rows)
		}
		return nil
	},
}

var markCmd = &cobra.Command{
	Use:   "mark CONFIG EXP IDX STATUS",
	Short: "Move a replicate to another status",
	Long: `mark applies one status transition by hand, for example to return a
replicate whose node died from running to interrupted. Only transitions
a manager could make itself are accepted.`,
	Example: "repman mark experiments.json ex_nsga2 3 interrupted",
	Args:    cobra.ExactArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		cfg, err := loadConfig(args[0])
		if err != nil {
			return err
		}
		r, to, err := markTarget(cfg, args[1], args[2], args[3])
		if err != nil {
			return err
		}
		lk, err := lock.Acquire(context.Background(), cfg.ResDir, lock.Options{
			PollInterval: viper.GetDuration("poll_interval"),
			Timeout:      viper.GetDuration("lock_timeout"),
		})
		if err != nil {
			return err
		}
		defer func() {
			if err := lk.Release(); err != nil {
				log.WithError(err).Errorf("release %s", lk.Path())
			}
		}()

		store := replicate.NewStore(cfg.ResDir)
		from, err := store.Read(r)
		if err != nil {
			return err
		}
		if err := store.Write(r, to); err != nil {
			return err
		}
		log.WithReplicate(r.Experiment, r.Index).Infof("%s -> %s", from, to)
		return nil
	},
}

// markTarget checks that exp and idx name a configured replicate and
// that status is a known status.
func markTarget(cfg *runconf.Config, exp, idx, status string) (replicate.Replicate, replicate.Status, error) {
	var r replicate.Replicate
	known := false
	for _, e := range cfg.Exps {
		known = known || e == exp
	}
	if !known {
		return r, "", errors.Errorf("experiment %q is not in %s", exp, cfg.Path())
	}
	i, err := strconv.Atoi(idx)
	if err != nil || i < 0 || i >= cfg.Replicates {
		return r, "", errors.Errorf("replicate index %q out of range [0, %d)", idx, cfg.Replicates)
	}
	to, err := replicate.ParseStatus(status)
	if err != nil {
		return r, "", err
	}
	return replicate.Replicate{Experiment: exp, Index: i}, to, nil
}

func policyList() string {
	return strings.Join(policy.Names(), "|")
}
