// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"bytes"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/consolepoints/campaign/pkg/extensions"
	"github.com/consolepoints/campaign/services/campaign/apperr"
	"github.com/consolepoints/campaign/services/campaign/middleware"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func multipartContext(t *testing.T, fields map[string]string, file []byte) *gin.Context {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if file != nil {
		part, err := mw.CreateFormFile("file", "proof.png")
		require.NoError(t, err)
		_, err = part.Write(file)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodPost, "/tasks/x/submissions", &buf)
	c.Request.Header.Set("Content-Type", mw.FormDataContentType())
	return c
}

// =============================================================================
// bindSubmission
// =============================================================================

func TestBindSubmission_MultipartFields(t *testing.T) {
	c := multipartContext(t, map[string]string{"wallet": "0xabc", "proof_url": " https://example.com/p "}, nil)
	req, err := bindSubmission(c, 1024)
	require.NoError(t, err)
	assert.Equal(t, "0xabc", req.Wallet)
	assert.Equal(t, "https://example.com/p", req.Proof.URL)
	assert.Nil(t, req.Proof.File)
}

func TestBindSubmission_MultipartFile(t *testing.T) {
	c := multipartContext(t, map[string]string{"wallet": "0xabc"}, []byte("image-bytes"))
	req, err := bindSubmission(c, 1024)
	require.NoError(t, err)
	require.NotNil(t, req.Proof.File)
	assert.Equal(t, "proof.png", req.Proof.File.Filename)
	assert.Equal(t, []byte("image-bytes"), req.Proof.File.Data)
}

func TestBindSubmission_OversizedFile(t *testing.T) {
	c := multipartContext(t, map[string]string{"wallet": "0xabc"}, bytes.Repeat([]byte{1}, 2048))
	_, err := bindSubmission(c, 1024)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestBindSubmission_JSON(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(`{"wallet":"0xabc","proof_text":"  did it  "}`))
	c.Request.Header.Set("Content-Type", "application/json")

	req, err := bindSubmission(c, 1024)
	require.NoError(t, err)
	assert.Equal(t, "  did it  ", req.Proof.Text, "text is stored verbatim")

	c.Request = httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(`{"proof_text":"x"}`))
	c.Request.Header.Set("Content-Type", "application/json")
	_, err = bindSubmission(c, 1024)
	assert.True(t, apperr.Is(err, apperr.KindValidation), "wallet is required")
}

// =============================================================================
// reviewerWallet
// =============================================================================

func TestReviewerWallet(t *testing.T) {
	const wallet = "0x00000000000000000000000000000000000000b2"
	c, _ := gin.CreateTestContext(httptest.NewRecorder())

	_, err := reviewerWallet(c, "")
	assert.True(t, apperr.Is(err, apperr.KindAuthorization))

	middleware.SetAuthInfo(c, &extensions.AuthInfo{Wallet: wallet})
	got, err := reviewerWallet(c, "")
	require.NoError(t, err)
	assert.Equal(t, wallet, got)

	got, err = reviewerWallet(c, "0x00000000000000000000000000000000000000B2")
	require.NoError(t, err)
	assert.Equal(t, wallet, got)

	_, err = reviewerWallet(c, "0x00000000000000000000000000000000000000c3")
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

// =============================================================================
// audit
// =============================================================================

func TestAudit_RecordsOutcomeAndActor(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodPost, "/", nil)
	middleware.SetAuthInfo(c, &extensions.AuthInfo{Wallet: "0xadmin"})
	log := &extensions.MemoryAuditLogger{}

	audit(c, log, "user.ban", "user", "0xu", nil, map[string]any{"banned": true})
	audit(c, log, "user.ban", "user", "0xv", apperr.NotFound("nope"), nil)

	events := log.Events()
	require.Len(t, events, 2)
	assert.Equal(t, "success", events[0].Outcome)
	assert.Equal(t, "0xadmin", events[0].Actor)
	assert.Equal(t, "failure", events[1].Outcome)
	assert.Equal(t, "not_found", events[1].Metadata["error_kind"])
}
