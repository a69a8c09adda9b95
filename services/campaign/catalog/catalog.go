// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package catalog owns task definitions. The submission engine only reads
// through Lookup; writes come from admin tooling and YAML imports.
package catalog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"

	"github.com/consolepoints/campaign/services/campaign/apperr"
	"github.com/consolepoints/campaign/services/campaign/datatypes"
	"github.com/consolepoints/campaign/services/campaign/store"
	"gopkg.in/yaml.v3"
)

var taskIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)

// Lookup is the read-only view the submission engine depends on.
type Lookup interface {
	ActiveTask(ctx context.Context, id string) (*datatypes.Task, error)
}

// Catalog implements Lookup and the admin write path.
type Catalog struct {
	store store.Store
}

func New(s store.Store) *Catalog {
	return &Catalog{store: s}
}

// ActiveTask returns the task if it exists and is active; otherwise a
// not-found error. Inactive tasks are indistinguishable from missing ones.
func (c *Catalog) ActiveTask(ctx context.Context, id string) (*datatypes.Task, error) {
	t, err := c.store.GetTask(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("task %q not found", id)
	}
	if err != nil {
		return nil, apperr.Internal(err, "failed to load task %s", id)
	}
	if !t.Active {
		return nil, apperr.NotFound("task %q not found", id)
	}
	return t, nil
}

// List returns tasks ordered by id.
func (c *Catalog) List(ctx context.Context, activeOnly bool) ([]datatypes.Task, error) {
	tasks, err := c.store.ListTasks(ctx, activeOnly)
	if err != nil {
		return nil, apperr.Internal(err, "failed to list tasks")
	}
	return tasks, nil
}

// Upsert validates and writes one task.
func (c *Catalog) Upsert(ctx context.Context, task datatypes.Task) (*datatypes.Task, error) {
	if err := Validate(task); err != nil {
		return nil, err
	}
	if err := c.store.UpsertTask(ctx, &task); err != nil {
		return nil, apperr.Internal(err, "failed to save task %s", task.ID)
	}
	return &task, nil
}

// Import validates every task, then writes them in one transaction.
func (c *Catalog) Import(ctx context.Context, tasks []datatypes.Task) error {
	seen := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		if err := Validate(t); err != nil {
			return fmt.Errorf("task %q: %w", t.ID, err)
		}
		if seen[t.ID] {
			return apperr.Validation("id", "duplicate task id %q in import", t.ID)
		}
		seen[t.ID] = true
	}
	if err := c.store.ImportTasks(ctx, tasks); err != nil {
		return apperr.Internal(err, "failed to import tasks")
	}
	return nil
}

// Validate checks the fields an operator can get wrong.
func Validate(t datatypes.Task) error {
	switch {
	case !taskIDPattern.MatchString(t.ID):
		return apperr.Validation("id", "task id %q must be lowercase alphanumeric with - or _ (max 64)", t.ID)
	case t.Title == "":
		return apperr.Validation("title", "title is required")
	case t.Category == "":
		return apperr.Validation("category", "category is required")
	case !t.VerificationMode.Valid():
		return apperr.Validation("verification_mode", "verification_mode %q must be manual, screenshot, link or auto", t.VerificationMode)
	case t.CPReward < 0:
		return apperr.Validation("cp_reward", "cp_reward must not be negative")
	case t.Cap < 0:
		return apperr.Validation("cap", "cap must not be negative")
	}
	return nil
}

// =============================================================================
// YAML Import
// =============================================================================

// File is the on-disk catalog layout:
//
//	tasks:
//	  - id: follow-x
//	    title: Follow us on X
//	    category: twitter
//	    verification_mode: link
//	    cp_reward: 250
//	    cap: 1
//	    active: true
type File struct {
	Tasks []datatypes.Task `yaml:"tasks"`
}

// ParseFile reads a catalog YAML file.
func ParseFile(path string) ([]datatypes.Task, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes catalog YAML. Unknown fields are rejected.
func Parse(data []byte) ([]datatypes.Task, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	return f.Tasks, nil
}
