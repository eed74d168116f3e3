package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/worldrt/internal/config"
	"github.com/haasonsaas/worldrt/internal/worldbus"
	"github.com/haasonsaas/worldrt/internal/skills"
)

func buildSkillsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "skills",
		Short: "Inspect and sync skill directories",
	}
	cmd.AddCommand(buildSkillsSyncCmd())
	return cmd
}

func buildSkillsSyncCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Sync configured skill roots and list what was found",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
			// skills.New wants a bus to publish skill-change events on; a
			// standalone sync has no live world, so it gets a detached one.
			bus := worldbus.New("cli-skills-sync", nil)
			reg := skills.New(cfg.Skills.ProjectRoots, cfg.Skills.UserRoots, bus, logger)

			if err := reg.Sync(cmd.Context()); err != nil {
				return fmt.Errorf("sync skills: %w", err)
			}

			out := cmd.OutOrStdout()
			descs := reg.List()
			if len(descs) == 0 {
				fmt.Fprintln(out, "no skills found")
				return nil
			}
			for _, d := range descs {
				fmt.Fprintf(out, "%s\t%s\t%s\n", d.Name, d.Root, d.Description)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	return cmd
}
