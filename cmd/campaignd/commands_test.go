// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/consolepoints/campaign/services/campaign/datatypes"
	"github.com/consolepoints/campaign/services/campaign/store"
	"github.com/consolepoints/campaign/services/campaign/store/storetest"
)

const catalogYAML = `
tasks:
  - id: follow-x
    title: Follow us on X
    category: twitter
    verification_mode: link
    cp_reward: 250
    cap: 1
    active: true
  - id: bug-report
    title: File a bug report
    category: community
    verification_mode: manual
    cp_reward: 500
    cap: 3
    active: true
`

// useDatabase points the CLI at a fresh sqlite file and returns its path.
func useDatabase(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	dsn := filepath.Join(dir, "campaign.db")
	t.Setenv("CAMPAIGN_CONFIG", "")
	t.Setenv("CAMPAIGN_DB_DRIVER", "sqlite")
	t.Setenv("CAMPAIGN_DB_DSN", dsn)
	t.Setenv("CAMPAIGN_STORAGE_BACKEND", "local")
	t.Setenv("CAMPAIGN_UPLOAD_DIR", filepath.Join(dir, "uploads"))
	return dsn
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCmd()
	cmd.SetArgs(append(args, "--log-level", "error"))
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

// withStore opens the CLI's database between command runs.
func withStore(t *testing.T, dsn string, fn func(s *store.GormStore)) {
	t.Helper()
	s, err := store.Open(store.Config{Driver: "sqlite", DSN: dsn})
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.Migrate(context.Background()))
	fn(s)
}

func TestMigrate(t *testing.T) {
	useDatabase(t)
	out, err := runCLI(t, "migrate")
	require.NoError(t, err)
	assert.Contains(t, out, "migrated")
}

func TestTasksImport(t *testing.T) {
	dsn := useDatabase(t)
	file := filepath.Join(t.TempDir(), "tasks.yaml")
	require.NoError(t, os.WriteFile(file, []byte(catalogYAML), 0o600))

	out, err := runCLI(t, "tasks", "import", file)
	require.NoError(t, err)
	assert.Contains(t, out, "imported 2 task(s)")

	withStore(t, dsn, func(s *store.GormStore) {
		tasks, err := s.ListTasks(context.Background(), true)
		require.NoError(t, err)
		assert.Len(t, tasks, 2)
	})

	_, err = runCLI(t, "tasks", "import")
	assert.Error(t, err, "file argument is required")
}

func TestTasksImport_RejectsInvalidCatalog(t *testing.T) {
	useDatabase(t)
	file := filepath.Join(t.TempDir(), "tasks.yaml")
	require.NoError(t, os.WriteFile(file, []byte("tasks:\n  - id: Bad ID\n    title: x\n"), 0o600))

	_, err := runCLI(t, "tasks", "import", file)
	assert.Error(t, err)
}

func TestRolesGrant(t *testing.T) {
	dsn := useDatabase(t)
	wallet := storetest.Wallet(42)

	out, err := runCLI(t, "roles", "grant", wallet, "operator")
	require.NoError(t, err)
	assert.Contains(t, out, "is now operator")

	withStore(t, dsn, func(s *store.GormStore) {
		role, err := s.GetRole(context.Background(), wallet)
		require.NoError(t, err)
		assert.Equal(t, datatypes.RoleOperator, role)
	})

	_, err = runCLI(t, "roles", "grant", wallet, "superuser")
	assert.Error(t, err)
	_, err = runCLI(t, "roles", "grant", "0x12", "admin")
	assert.Error(t, err)
}

func TestReconcile(t *testing.T) {
	dsn := useDatabase(t)
	wallet := storetest.Wallet(7)
	withStore(t, dsn, func(s *store.GormStore) {
		u := storetest.SeedUser(t, s, wallet, 100)
		// Balance bumped without a ledger row.
		require.NoError(t, s.AddPoints(context.Background(), u.ID, 50))
	})

	out, err := runCLI(t, "reconcile", "--wallet", wallet)
	require.NoError(t, err)
	assert.Contains(t, out, "150 -> 100")

	out, err = runCLI(t, "reconcile")
	require.NoError(t, err)
	assert.Contains(t, out, "0 balance(s) changed")

	_, err = runCLI(t, "reconcile", "--wallet", storetest.Wallet(8))
	assert.Error(t, err)
}

func TestRoot_RejectsBadLogLevel(t *testing.T) {
	useDatabase(t)
	cmd := newRootCmd()
	cmd.SetArgs([]string{"migrate", "--log-level", "chatty"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	assert.Error(t, cmd.Execute())
}
