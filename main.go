// polychat - a multi-model chat orchestrator for the terminal.
//
// Copyright (c) 2025 Van Hai Nguyen
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"fmt"
	"os"

	"github.com/vhnguyen/polychat/internal/cli"
)

func main() {
	if err := cli.Run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "polychat:", err)
		os.Exit(1)
	}
}
