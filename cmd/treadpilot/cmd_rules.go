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
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/treadpilot/cmd/treadpilot/config"
	"github.com/AleutianAI/treadpilot/internal/powerplan"
	"github.com/AleutianAI/treadpilot/internal/rules"
	"github.com/AleutianAI/treadpilot/internal/store"
)

// The rules commands edit the rule file directly. A running daemon picks
// the change up through its file watcher.

func openRulesStore() (*store.Store, error) {
	if err := config.Load(); err != nil {
		return nil, err
	}
	return store.New(config.Global.Paths.Rules), nil
}

func runRulesList(_ *cobra.Command, _ []string) error {
	s, err := openRulesStore()
	if err != nil {
		return err
	}
	cfg, err := s.Load(context.Background())
	if err != nil {
		return err
	}

	if cfg.DefaultProfileID != "" {
		fmt.Printf("Default profile: %s (%s)\n\n", cfg.DefaultProfileName, cfg.DefaultProfileID)
	} else {
		fmt.Print("Default profile: (none)\n\n")
	}

	if len(cfg.Associations) == 0 {
		fmt.Println("No associations defined. Add one with: treadpilot rules add")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tEXECUTABLE\tPROFILE\tPRIORITY\tENABLED")
	for _, assoc := range cfg.Associations {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%t\n",
			assoc.ID, assoc.ExecutableName, assoc.ProfileID, assoc.Priority, assoc.Enabled)
	}
	return w.Flush()
}

func runRulesAdd(_ *cobra.Command, _ []string) error {
	s, err := openRulesStore()
	if err != nil {
		return err
	}
	ctx := context.Background()
	cfg, err := s.Load(ctx)
	if err != nil {
		return err
	}

	assoc := rules.NewAssociation(ruleName, ruleProfile, powerplan.DisplayName(ruleProfile), rulePriority)
	if err := cfg.AddAssociation(assoc); err != nil {
		return err
	}
	if err := s.Save(ctx, cfg); err != nil {
		return err
	}
	fmt.Printf("Added association %s: %s -> %s (priority %d)\n",
		assoc.ID, assoc.ExecutableName, assoc.ProfileID, assoc.Priority)
	return nil
}

func runRulesRemove(_ *cobra.Command, args []string) error {
	return mutateRule(args[0], "Removed", func(cfg *rules.Configuration, id uuid.UUID) error {
		return cfg.RemoveAssociation(id)
	})
}

func runRulesEnable(_ *cobra.Command, args []string) error {
	return mutateRule(args[0], "Enabled", func(cfg *rules.Configuration, id uuid.UUID) error {
		return setEnabled(cfg, id, true)
	})
}

func runRulesDisable(_ *cobra.Command, args []string) error {
	return mutateRule(args[0], "Disabled", func(cfg *rules.Configuration, id uuid.UUID) error {
		return setEnabled(cfg, id, false)
	})
}

func runRulesDefault(_ *cobra.Command, args []string) error {
	s, err := openRulesStore()
	if err != nil {
		return err
	}
	ctx := context.Background()
	cfg, err := s.Load(ctx)
	if err != nil {
		return err
	}

	cfg.DefaultProfileID = args[0]
	cfg.DefaultProfileName = powerplan.DisplayName(args[0])
	if err := s.Save(ctx, cfg); err != nil {
		return err
	}
	fmt.Printf("Default profile set to %s\n", args[0])
	return nil
}

func mutateRule(rawID, verb string, mutate func(*rules.Configuration, uuid.UUID) error) error {
	id, err := uuid.Parse(rawID)
	if err != nil {
		return fmt.Errorf("invalid association id %q: %w", rawID, err)
	}

	s, err := openRulesStore()
	if err != nil {
		return err
	}
	ctx := context.Background()
	cfg, err := s.Load(ctx)
	if err != nil {
		return err
	}
	if err := mutate(cfg, id); err != nil {
		return err
	}
	if err := s.Save(ctx, cfg); err != nil {
		return err
	}
	fmt.Printf("%s association %s\n", verb, id)
	return nil
}

func setEnabled(cfg *rules.Configuration, id uuid.UUID, enabled bool) error {
	assoc, ok := cfg.FindByID(id)
	if !ok {
		return rules.ErrAssociationNotFound
	}
	assoc.Enabled = enabled
	return cfg.UpdateAssociation(assoc)
}
