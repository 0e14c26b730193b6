// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command treadpilot watches running processes and switches the host's
// power profile according to a user-defined rule set.
//
// Usage:
//
//	treadpilot run                     # start the daemon
//	treadpilot status                  # query a running daemon
//	treadpilot profiles                # list host power profiles
//	treadpilot rules list              # show the rule set
//	treadpilot rules add --name game.exe --profile performance
//	treadpilot history                 # recent power-plan changes
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
