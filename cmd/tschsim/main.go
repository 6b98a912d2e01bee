// SPDX-License-Identifier: GPL-3.0
// Copyright 2024 Pete Heist

// tschsim simulates a 6TiSCH low-power wireless mesh network.
package main

import "github.com/tsch-sim/tschsim/cmd/tschsim/commands"

func main() {
	commands.Execute()
}
