// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/consolepoints/campaign/pkg/extensions"
	"github.com/consolepoints/campaign/pkg/validation"
	"github.com/consolepoints/campaign/services/campaign/apperr"
	"github.com/consolepoints/campaign/services/campaign/datatypes"
	"github.com/consolepoints/campaign/services/campaign/httperr"
	"github.com/consolepoints/campaign/services/campaign/storage"
	"github.com/consolepoints/campaign/services/campaign/submissions"
)

// DefaultMaxUpload bounds a screenshot upload.
const DefaultMaxUpload int64 = storage.MaxUploadBytes

// =============================================================================
// Intake
// =============================================================================

// CreateSubmission accepts a proof for the task in the :id path parameter.
//
// # Description
//
// Two encodings are accepted:
//
//   - multipart/form-data with fields wallet, proof_url, proof_text and an
//     optional "file" part (screenshot)
//   - application/json matching datatypes.SubmissionJSONRequest
//
// Exactly one proof channel must be present. The response is 201 with the
// created row; when adjudication approved it synchronously the row is
// already approved and the ledger entry is included.
func CreateSubmission(engine *submissions.Engine, maxUpload int64) gin.HandlerFunc {
	if maxUpload <= 0 {
		maxUpload = DefaultMaxUpload
	}
	return func(c *gin.Context) {
		req, err := bindSubmission(c, maxUpload)
		if err != nil {
			httperr.Write(c, err)
			return
		}
		req.TaskID = c.Param("id")

		res, err := engine.Create(c.Request.Context(), req)
		if err != nil {
			httperr.Write(c, err)
			return
		}
		resp := datatypes.SubmissionResponse{
			Submission:  res.Submission,
			Status:      string(res.Submission.Status),
			LedgerEntry: res.LedgerEntry,
		}
		if res.Verdict != nil {
			resp.Adjudication = res.Verdict.View()
		}
		c.JSON(http.StatusCreated, resp)
	}
}

func bindSubmission(c *gin.Context, maxUpload int64) (submissions.CreateRequest, error) {
	if !strings.HasPrefix(c.ContentType(), "multipart/") {
		var body datatypes.SubmissionJSONRequest
		if err := bindJSON(c, &body); err != nil {
			return submissions.CreateRequest{}, err
		}
		return submissions.CreateRequest{
			Wallet: body.Wallet,
			Proof:  submissions.Proof{URL: strings.TrimSpace(body.ProofURL), Text: body.ProofText},
		}, nil
	}

	// Leave room for the form fields around the file part.
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUpload+64<<10)
	if err := c.Request.ParseMultipartForm(maxUpload); err != nil {
		return submissions.CreateRequest{}, apperr.Validation("file", "multipart body too large or malformed (max %d bytes)", maxUpload)
	}
	req := submissions.CreateRequest{
		Wallet: c.PostForm("wallet"),
		Proof:  submissions.Proof{URL: strings.TrimSpace(c.PostForm("proof_url")), Text: c.PostForm("proof_text")},
	}

	fh, err := c.FormFile("file")
	if errors.Is(err, http.ErrMissingFile) {
		return req, nil
	}
	if err != nil {
		return req, apperr.Validation("file", "unreadable file part: %v", err)
	}
	if fh.Size > maxUpload {
		return req, apperr.Validation("file", "file exceeds %d bytes", maxUpload)
	}
	f, err := fh.Open()
	if err != nil {
		return req, apperr.Validation("file", "unreadable file part: %v", err)
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, maxUpload+1))
	if err != nil {
		return req, apperr.Validation("file", "unreadable file part: %v", err)
	}
	if int64(len(data)) > maxUpload {
		return req, apperr.Validation("file", "file exceeds %d bytes", maxUpload)
	}
	req.Proof.File = &submissions.Upload{Filename: fh.Filename, Data: data}
	return req, nil
}

// =============================================================================
// Review
// =============================================================================

// ListSubmissions serves the operator review queue.
func ListSubmissions(engine *submissions.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, offset := validation.ParsePagination(c.Query("limit"), c.Query("offset"))
		subs, limit, offset, err := engine.List(c.Request.Context(), submissions.ListFilter{
			Status: datatypes.SubmissionStatus(c.Query("status")),
			TaskID: c.Query("task_id"),
			Wallet: c.Query("wallet"),
			Limit:  limit,
			Offset: offset,
		})
		if err != nil {
			httperr.Write(c, err)
			return
		}
		if subs == nil {
			subs = []datatypes.TaskSubmission{}
		}
		c.JSON(http.StatusOK, datatypes.SubmissionListResponse{Submissions: subs, Limit: limit, Offset: offset})
	}
}

// ApproveSubmission approves a pending submission as the authenticated
// reviewer, optionally overriding the reward.
func ApproveSubmission(engine *submissions.Engine, auditor extensions.AuditLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		var body datatypes.ApproveRequest
		if err := bindOptionalJSON(c, &body); err != nil {
			httperr.Write(c, err)
			return
		}
		reviewer, err := reviewerWallet(c, body.ReviewerWallet)
		if err != nil {
			httperr.Write(c, err)
			return
		}

		sub, entry, err := engine.Approve(c.Request.Context(), id, reviewer, body.Reward)
		meta := map[string]any{}
		if body.Reward != nil {
			meta["override"] = *body.Reward
		}
		if entry != nil {
			meta["amount"] = entry.Amount
		}
		audit(c, auditor, "submission.approve", "submission", id, err, meta)
		if err != nil {
			httperr.Write(c, err)
			return
		}
		c.JSON(http.StatusOK, datatypes.ReviewResponse{Submission: sub, LedgerEntry: entry})
	}
}

// RejectSubmission rejects a pending submission. An empty reason is
// replaced by the default placeholder.
func RejectSubmission(engine *submissions.Engine, auditor extensions.AuditLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		var body datatypes.RejectRequest
		if err := bindOptionalJSON(c, &body); err != nil {
			httperr.Write(c, err)
			return
		}
		reviewer, err := reviewerWallet(c, body.ReviewerWallet)
		if err != nil {
			httperr.Write(c, err)
			return
		}

		sub, err := engine.Reject(c.Request.Context(), id, reviewer, body.Reason)
		audit(c, auditor, "submission.reject", "submission", id, err, map[string]any{"reason": body.Reason})
		if err != nil {
			httperr.Write(c, err)
			return
		}
		c.JSON(http.StatusOK, datatypes.ReviewResponse{Submission: sub})
	}
}

// reviewerWallet returns the authenticated wallet. A reviewer_wallet in the
// body must name the same wallet.
func reviewerWallet(c *gin.Context, claimed string) (string, error) {
	reviewer := actor(c)
	if reviewer == "" {
		return "", apperr.Forbidden("reviewer identity required")
	}
	if strings.TrimSpace(claimed) == "" {
		return reviewer, nil
	}
	normalized, err := validation.NormalizeWallet(claimed)
	if err != nil {
		return "", apperr.Validation("reviewer_wallet", "%v", err)
	}
	if normalized != reviewer {
		return "", apperr.Validation("reviewer_wallet", "reviewer_wallet %s does not match the authenticated wallet", normalized)
	}
	return reviewer, nil
}
