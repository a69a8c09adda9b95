// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package catalog

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/consolepoints/campaign/services/campaign/apperr"
	"github.com/consolepoints/campaign/services/campaign/datatypes"
	"github.com/consolepoints/campaign/services/campaign/store/storetest"
)

const sampleCatalog = `
tasks:
  - id: follow-x
    title: Follow us on X
    category: twitter
    verification_mode: link
    cp_reward: 250
    cap: 1
    frequency: once
    active: true
  - id: bug-report
    title: File a bug report
    category: testnet
    verification_mode: manual
    cp_reward: 500
    cap: 3
    active: false
`

func TestParse_SampleCatalog(t *testing.T) {
	tasks, err := Parse([]byte(sampleCatalog))
	require.NoError(t, err)
	require.Len(t, tasks, 2)

	assert.Equal(t, "follow-x", tasks[0].ID)
	assert.Equal(t, datatypes.ModeLink, tasks[0].VerificationMode)
	assert.Equal(t, int64(250), tasks[0].CPReward)
	assert.True(t, tasks[0].TweetShaped())
	assert.Equal(t, 3, tasks[1].EffectiveCap())
	assert.False(t, tasks[1].Active)
}

func TestParse_RejectsUnknownField(t *testing.T) {
	_, err := Parse([]byte("tasks:\n  - id: a\n    reward: 5\n"))
	assert.Error(t, err)
}

func TestParse_Empty(t *testing.T) {
	tasks, err := Parse(nil)
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestImport_FromFileAndLookup(t *testing.T) {
	s := storetest.New(t)
	c := New(s)
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "tasks.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleCatalog), 0o600))
	tasks, err := ParseFile(path)
	require.NoError(t, err)
	require.NoError(t, c.Import(ctx, tasks))

	got, err := c.ActiveTask(ctx, "follow-x")
	require.NoError(t, err)
	assert.Equal(t, "Follow us on X", got.Title)

	_, err = c.ActiveTask(ctx, "bug-report")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err), "inactive task reads as missing")

	_, err = c.ActiveTask(ctx, "nope")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	active, err := c.List(ctx, true)
	require.NoError(t, err)
	assert.Len(t, active, 1)

	all, err := c.List(ctx, false)
	require.NoError(t, err)
	opts := cmp.Options{
		cmpopts.IgnoreFields(datatypes.Task{}, "CreatedAt", "UpdatedAt"),
		cmpopts.SortSlices(func(a, b datatypes.Task) bool { return a.ID < b.ID }),
	}
	if diff := cmp.Diff(tasks, all, opts); diff != "" {
		t.Errorf("stored catalog mismatch (-imported +stored):\n%s", diff)
	}
}

func TestImport_RejectsDuplicatesWithoutWriting(t *testing.T) {
	s := storetest.New(t)
	c := New(s)
	ctx := context.Background()

	task := datatypes.Task{ID: "a", Title: "A", Category: "x", VerificationMode: datatypes.ModeAuto, Active: true}
	err := c.Import(ctx, []datatypes.Task{task, task})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	all, err := c.List(ctx, false)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestValidate_FieldHints(t *testing.T) {
	base := datatypes.Task{ID: "ok", Title: "T", Category: "c", VerificationMode: datatypes.ModeManual}

	tests := []struct {
		name  string
		edit  func(*datatypes.Task)
		field string
	}{
		{"bad id", func(t *datatypes.Task) { t.ID = "Has Space" }, "id"},
		{"no title", func(t *datatypes.Task) { t.Title = "" }, "title"},
		{"no category", func(t *datatypes.Task) { t.Category = "" }, "category"},
		{"bad mode", func(t *datatypes.Task) { t.VerificationMode = "vibes" }, "verification_mode"},
		{"negative reward", func(t *datatypes.Task) { t.CPReward = -1 }, "cp_reward"},
		{"negative cap", func(t *datatypes.Task) { t.Cap = -1 }, "cap"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task := base
			tt.edit(&task)
			err := Validate(task)
			var appErr *apperr.Error
			require.ErrorAs(t, err, &appErr)
			assert.Equal(t, tt.field, appErr.Field)
		})
	}

	assert.NoError(t, Validate(base))
}
