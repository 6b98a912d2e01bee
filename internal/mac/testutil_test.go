// SPDX-License-Identifier: GPL-3.0
// Copyright 2024 Pete Heist

package mac

import "math/rand"

// deterministicRNG returns a fixed-seed RNG for reproducible unit tests,
// matching spec.md §5's determinism requirement.
func deterministicRNG() *rand.Rand {
	return rand.New(rand.NewSource(42))
}
