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
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/treadpilot/cmd/treadpilot/config"
	"github.com/AleutianAI/treadpilot/internal/history"
	"github.com/AleutianAI/treadpilot/internal/powerplan"
)

// apiClientTimeout bounds every client call against the daemon API.
const apiClientTimeout = 5 * time.Second

func apiBase() (string, error) {
	if apiAddr != "" {
		return "http://" + apiAddr, nil
	}
	if err := config.Load(); err != nil {
		return "", err
	}
	if !config.Global.API.Enabled {
		return "", fmt.Errorf("the daemon API is disabled in the config; pass --api to target one anyway")
	}
	return "http://" + config.Global.API.Listen, nil
}

func apiGet(path string, out any) error {
	base, err := apiBase()
	if err != nil {
		return err
	}
	client := &http.Client{Timeout: apiClientTimeout}
	resp, err := client.Get(base + path)
	if err != nil {
		return fmt.Errorf("is the daemon running? %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("daemon: %s", apiErr.Error)
		}
		return fmt.Errorf("daemon returned %s", resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func runStatus(_ *cobra.Command, _ []string) error {
	var status struct {
		State         string             `json:"state"`
		Running       bool               `json:"running"`
		EventDriven   bool               `json:"event_driven"`
		ActiveProfile *powerplan.Profile `json:"active_profile"`
	}
	if err := apiGet("/v1/power/status", &status); err != nil {
		return err
	}

	fmt.Printf("State:       %s\n", status.State)
	mode := "polling"
	if status.EventDriven {
		mode = "event-driven"
	}
	fmt.Printf("Monitoring:  %s\n", mode)
	if status.ActiveProfile != nil {
		fmt.Printf("Profile:     %s (%s)\n", status.ActiveProfile.Name, status.ActiveProfile.ID)
	} else {
		fmt.Println("Profile:     unknown")
	}
	return nil
}

func runHistory(_ *cobra.Command, _ []string) error {
	var payload struct {
		Changes []history.ChangeRecord `json:"changes"`
	}
	path := fmt.Sprintf("/v1/power/history?limit=%d", historyLimit)
	if err := apiGet(path, &payload); err != nil {
		return err
	}

	if len(payload.Changes) == 0 {
		fmt.Println("No changes recorded yet.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tACTION\tPROCESS\tFROM\tTO")
	for _, rec := range payload.Changes {
		from := rec.FromID
		if from == "" {
			from = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			rec.Time.Format(time.DateTime), rec.Action, rec.ProcessName, from, rec.ToID)
	}
	return w.Flush()
}

// runProfiles queries the host tool directly, so it works whether or not
// the daemon is running.
func runProfiles(_ *cobra.Command, _ []string) error {
	ctx := context.Background()
	controller := powerplan.NewPowerProfilesCtl()

	profiles, err := controller.ListProfiles(ctx)
	if err != nil {
		return err
	}
	active, err := controller.GetActive(ctx)
	if err != nil {
		active = nil
	}

	for _, p := range profiles {
		marker := " "
		if active != nil && active.ID == p.ID {
			marker = "*"
		}
		fmt.Printf("%s %s (%s)\n", marker, p.Name, p.ID)
	}
	return nil
}
