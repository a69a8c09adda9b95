// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package httperr renders classified errors as JSON responses.
//
// Response body:
//
//	{"error": "cap reached for task follow-x", "kind": "conflict"}
//	{"error": "wallet cannot be empty", "kind": "validation", "field": "wallet"}
//	{"error": "failed to record approval (step: status)", "kind": "persistence", "step": "status"}
//
// Internal errors never leak their cause; the full error is logged instead.
package httperr

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/consolepoints/campaign/services/campaign/apperr"
)

// GenericMessage is returned for internal errors.
const GenericMessage = "internal server error"

// Body is the JSON error envelope.
type Body struct {
	Error string      `json:"error"`
	Kind  apperr.Kind `json:"kind"`
	Field string      `json:"field,omitempty"`
	Step  string      `json:"step,omitempty"`
}

// Render returns the status and body for err.
func Render(err error) (int, Body) {
	var e *apperr.Error
	if !errors.As(err, &e) {
		return http.StatusInternalServerError, Body{Error: GenericMessage, Kind: apperr.KindInternal}
	}
	body := Body{Error: e.Message, Kind: e.Kind, Field: e.Field, Step: e.Step}
	switch e.Kind {
	case apperr.KindInternal:
		body.Error = GenericMessage
	case apperr.KindPersistence:
		body.Error = e.Message + " (step: " + e.Step + ")"
	}
	return apperr.HTTPStatus(e.Kind), body
}

// Write logs err when it is a server-side failure and writes the response.
func Write(c *gin.Context, err error) {
	status, body := Render(err)
	logError(c, status, err)
	c.JSON(status, body)
}

// Abort is Write followed by aborting the handler chain.
func Abort(c *gin.Context, err error) {
	status, body := Render(err)
	logError(c, status, err)
	c.AbortWithStatusJSON(status, body)
}

// Unauthorized aborts with 401 for missing or invalid credentials.
func Unauthorized(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": msg, "kind": "unauthenticated"})
}

func logError(c *gin.Context, status int, err error) {
	if status < http.StatusInternalServerError && status != http.StatusBadGateway {
		return
	}
	slog.ErrorContext(c.Request.Context(), "request failed",
		"method", c.Request.Method,
		"path", c.FullPath(),
		"status", status,
		"kind", apperr.KindOf(err),
		"error", err,
	)
}
