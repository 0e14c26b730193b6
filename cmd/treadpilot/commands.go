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
	"github.com/spf13/cobra"
)

// --- Global Command Variables ---
var (
	// rules add/update flags
	ruleName     string
	ruleProfile  string
	rulePriority int

	// history flag
	historyLimit int

	// client-side API address override
	apiAddr string

	rootCmd = &cobra.Command{
		Use:   "treadpilot",
		Short: "A daemon that switches power profiles when watched processes run",
		Long: `Treadpilot watches process starts and stops and switches the host
power profile according to a user-defined rule set: launch a game,
get the performance profile; close it, fall back to the default.`,
	}

	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Run the monitoring daemon in the foreground",
		RunE:  runDaemon, // Defined in cmd_run.go
	}

	statusCmd = &cobra.Command{
		Use:   "status",
		Short: "Show the state of a running daemon",
		RunE:  runStatus, // Defined in cmd_status.go
	}

	profilesCmd = &cobra.Command{
		Use:   "profiles",
		Short: "List the power profiles this host offers",
		RunE:  runProfiles, // Defined in cmd_status.go
	}

	historyCmd = &cobra.Command{
		Use:   "history",
		Short: "Show recent power-plan changes, newest first",
		RunE:  runHistory, // Defined in cmd_status.go
	}

	// --- Rule Management ---
	rulesCmd = &cobra.Command{
		Use:   "rules",
		Short: "Manage process-to-profile associations",
	}
	rulesListCmd = &cobra.Command{
		Use:   "list",
		Short: "List all associations and the default profile",
		RunE:  runRulesList, // Defined in cmd_rules.go
	}
	rulesAddCmd = &cobra.Command{
		Use:   "add",
		Short: "Add an association (--name, --profile, optional --priority)",
		RunE:  runRulesAdd, // Defined in cmd_rules.go
	}
	rulesRemoveCmd = &cobra.Command{
		Use:   "remove [id]",
		Short: "Remove an association by id",
		Args:  cobra.ExactArgs(1),
		RunE:  runRulesRemove, // Defined in cmd_rules.go
	}
	rulesEnableCmd = &cobra.Command{
		Use:   "enable [id]",
		Short: "Enable an association by id",
		Args:  cobra.ExactArgs(1),
		RunE:  runRulesEnable, // Defined in cmd_rules.go
	}
	rulesDisableCmd = &cobra.Command{
		Use:   "disable [id]",
		Short: "Disable an association by id",
		Args:  cobra.ExactArgs(1),
		RunE:  runRulesDisable, // Defined in cmd_rules.go
	}
	rulesDefaultCmd = &cobra.Command{
		Use:   "default [profile-id]",
		Short: "Set the default profile restored when no rule matches",
		Args:  cobra.ExactArgs(1),
		RunE:  runRulesDefault, // Defined in cmd_rules.go
	}
)

func init() {
	rootCmd.AddCommand(runCmd)

	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().StringVar(&apiAddr, "api", "", "daemon API address (default from config)")

	rootCmd.AddCommand(profilesCmd)

	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "maximum changes to show")
	historyCmd.Flags().StringVar(&apiAddr, "api", "", "daemon API address (default from config)")

	rootCmd.AddCommand(rulesCmd)
	rulesCmd.AddCommand(rulesListCmd)
	rulesCmd.AddCommand(rulesAddCmd)
	rulesAddCmd.Flags().StringVar(&ruleName, "name", "", "executable name to match (e.g. game.exe, * for any)")
	rulesAddCmd.Flags().StringVar(&ruleProfile, "profile", "", "profile id to activate")
	rulesAddCmd.Flags().IntVar(&rulePriority, "priority", 0, "priority, higher wins")
	rulesAddCmd.MarkFlagRequired("name")
	rulesAddCmd.MarkFlagRequired("profile")
	rulesCmd.AddCommand(rulesRemoveCmd)
	rulesCmd.AddCommand(rulesEnableCmd)
	rulesCmd.AddCommand(rulesDisableCmd)
	rulesCmd.AddCommand(rulesDefaultCmd)
}
