package main

import (
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/aristath/taskflow/internal/config"
	"github.com/aristath/taskflow/internal/logger"
)

// app is the state shared by every subcommand, filled in before RunE.
type app struct {
	globalPath  string
	projectPath string
	cfg         *config.Config
	log         *logrus.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}

	cmd := &cobra.Command{
		Use:           "taskflow",
		Short:         "Run agents over a dependency-ordered task store",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load()
		},
	}

	globalPath, projectPath, err := config.DefaultPaths()
	if err != nil {
		// No home directory: only the project layer applies
		globalPath, projectPath = "", filepath.Join(".taskflow", "config.yaml")
	}
	flags := cmd.PersistentFlags()
	flags.StringVar(&a.projectPath, "config", projectPath, "project config file")
	flags.StringVar(&a.globalPath, "global-config", globalPath, "global config file")

	cmd.AddCommand(newServeCmd(a))
	cmd.AddCommand(newTaskCmd(a))
	cmd.AddCommand(newConfigCmd(a))
	return cmd
}

func (a *app) load() error {
	cfg, err := config.Load(a.globalPath, a.projectPath)
	if err != nil {
		return err
	}
	log, err := logger.New(cfg.Log)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.log = log
	return nil
}
