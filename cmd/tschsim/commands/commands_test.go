// SPDX-License-Identifier: GPL-3.0
// Copyright 2024 Pete Heist

package commands

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestVersionCommandPrintsVersionString(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "tschsim")
}

func TestValidateConfigAcceptsDefaultConfig(t *testing.T) {
	out, err := execute(t, "validate-config")
	require.NoError(t, err)
	assert.Contains(t, out, "config OK")
}

func TestValidateConfigRejectsBadSF(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tschsim.yml")
	require.NoError(t, os.WriteFile(path, []byte("sf: bogus\n"), 0o600))

	_, err := execute(t, "validate-config", "--config", path)
	assert.Error(t, err)
}

func TestValidateConfigHonorsFlagOverride(t *testing.T) {
	out, err := execute(t, "validate-config", "--num_motes", "9")
	require.NoError(t, err)
	assert.Contains(t, out, "9 motes")
}
