// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-playground/validator/v10"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/consolepoints/campaign/pkg/logging"
	"github.com/consolepoints/campaign/pkg/validation"
	"github.com/consolepoints/campaign/services/campaign"
	"github.com/consolepoints/campaign/services/campaign/catalog"
	"github.com/consolepoints/campaign/services/campaign/datatypes"
	"github.com/consolepoints/campaign/services/campaign/ledger"
	"github.com/consolepoints/campaign/services/campaign/store"
)

// cli carries state shared by every subcommand.
type cli struct {
	configPath string
	logLevel   string
	logDir     string
	jsonLogs   bool

	cfg    campaign.Config
	logger *logging.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:           "campaignd",
		Short:         "Testnet points campaign service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.setup(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if c.logger != nil {
				_ = c.logger.Close()
			}
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&c.configPath, "config", "c", os.Getenv("CAMPAIGN_CONFIG"), "path to the YAML config file")
	flags.StringVar(&c.logLevel, "log-level", "info", "debug, info, warn or error")
	flags.StringVar(&c.logDir, "log-dir", "", "also write daily JSON log files to this directory")
	flags.BoolVar(&c.jsonLogs, "json", false, "force JSON console logs (default when stderr is not a terminal)")

	root.AddCommand(
		c.serveCmd(),
		c.migrateCmd(),
		c.reconcileCmd(),
		c.tasksCmd(),
		c.rolesCmd(),
	)
	return root
}

func (c *cli) setup(cmd *cobra.Command) error {
	level, err := logging.ParseLevel(c.logLevel)
	if err != nil {
		return err
	}
	jsonOut := c.jsonLogs || !isatty.IsTerminal(os.Stderr.Fd()) && !isatty.IsCygwinTerminal(os.Stderr.Fd())
	c.logger = logging.New(logging.Config{
		Level:   level,
		LogDir:  c.logDir,
		Service: "campaignd",
		JSON:    jsonOut,
		Output:  cmd.ErrOrStderr(),
	})
	slog.SetDefault(c.logger.Slog())

	c.cfg, err = campaign.LoadConfig(c.configPath)
	if err != nil {
		return err
	}
	return nil
}

// openStore opens and migrates the configured database.
func (c *cli) openStore(ctx context.Context) (*store.GormStore, error) {
	s, err := store.Open(c.cfg.Database)
	if err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// =============================================================================
// serve
// =============================================================================

func (c *cli) serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the campaign HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			svc, err := campaign.New(ctx, c.cfg, nil)
			if err != nil {
				return err
			}
			return svc.Run(ctx)
		},
	}
}

// =============================================================================
// migrate
// =============================================================================

func (c *cli) migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := c.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()
			slog.Info("schema is up to date", "driver", c.cfg.Database.Driver)
			fmt.Fprintln(cmd.OutOrStdout(), "migrated")
			return nil
		},
	}
}

// =============================================================================
// reconcile
// =============================================================================

func (c *cli) reconcileCmd() *cobra.Command {
	var wallet string
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Re-derive point balances from the ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := c.openStore(ctx)
			if err != nil {
				return err
			}
			defer s.Close()
			settler := ledger.NewSettler(s, slog.Default(), nil)

			if wallet == "" {
				changed, err := settler.ReconcileAll(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "reconciled all users, %d balance(s) changed\n", changed)
				return nil
			}

			normalized, err := validation.NormalizeWallet(wallet)
			if err != nil {
				return err
			}
			user, err := s.GetUserByWallet(ctx, normalized)
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("user %s not found", normalized)
			}
			if err != nil {
				return err
			}
			before, after, err := settler.Reconcile(ctx, user.ID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d -> %d\n", normalized, before, after)
			return nil
		},
	}
	cmd.Flags().StringVar(&wallet, "wallet", "", "reconcile only this wallet")
	return cmd
}

// =============================================================================
// tasks
// =============================================================================

func (c *cli) tasksCmd() *cobra.Command {
	tasks := &cobra.Command{
		Use:   "tasks",
		Short: "Manage the task catalog",
	}
	tasks.AddCommand(&cobra.Command{
		Use:   "import <file>",
		Short: "Create or update tasks from a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed, err := catalog.ParseFile(args[0])
			if err != nil {
				return err
			}
			s, err := c.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()
			if err := catalog.New(s).Import(cmd.Context(), parsed); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d task(s)\n", len(parsed))
			return nil
		},
	})
	return tasks
}

// =============================================================================
// roles
// =============================================================================

func (c *cli) rolesCmd() *cobra.Command {
	roles := &cobra.Command{
		Use:   "roles",
		Short: "Manage operator and admin roles",
	}
	roles.AddCommand(&cobra.Command{
		Use:   "grant <wallet> <admin|operator|user>",
		Short: "Persist a role for a wallet",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := datatypes.RoleGrantRequest{Wallet: args[0], Role: datatypes.Role(args[1])}
			if err := roleValidator().Struct(req); err != nil {
				return fmt.Errorf("invalid grant: %w", err)
			}
			wallet, err := validation.NormalizeWallet(req.Wallet)
			if err != nil {
				return err
			}
			s, err := c.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()
			if err := s.SetRole(cmd.Context(), wallet, req.Role); err != nil {
				return err
			}
			slog.Info("role granted", "wallet", wallet, "role", req.Role)
			fmt.Fprintf(cmd.OutOrStdout(), "%s is now %s\n", wallet, req.Role)
			return nil
		},
	})
	return roles
}

// roleValidator checks requests with the same rules gin applies to the
// HTTP body.
func roleValidator() *validator.Validate {
	v := validator.New()
	v.SetTagName("binding")
	return v
}
