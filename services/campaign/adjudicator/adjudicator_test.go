// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package adjudicator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/consolepoints/campaign/services/campaign/datatypes"
	"github.com/consolepoints/campaign/services/campaign/observability"
	"github.com/consolepoints/campaign/services/campaign/settings"
	"github.com/consolepoints/campaign/services/llm"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// ============================================================================
// Fakes
// ============================================================================

type fakeLLM struct {
	mu       sync.Mutex
	calls    int
	lastEv   llm.Evidence
	response string
	err      error
	block    bool
}

func (f *fakeLLM) Generate(ctx context.Context, _ string, ev llm.Evidence, params llm.GenerationParams) (string, error) {
	f.mu.Lock()
	f.calls++
	f.lastEv = ev
	f.mu.Unlock()
	if f.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return f.response, f.err
}

func (f *fakeLLM) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type failingReader struct{}

func (failingReader) Flags(context.Context) (settings.Flags, error) {
	return settings.Flags{}, errors.New("db down")
}

var (
	reviewOn = settings.Static{CampaignLive: true, AIReviewEnabled: true}
	allOff   = settings.Static{CampaignLive: true}

	screenshotTask = datatypes.Task{ID: "share-screenshot", Title: "Share", Category: "community", VerificationMode: datatypes.ModeScreenshot}
	tweetTask      = datatypes.Task{ID: "tweet", Title: "Tweet", Category: datatypes.CategoryTwitter, VerificationMode: datatypes.ModeLink}
	manualTask     = datatypes.Task{ID: "essay", Title: "Essay", Category: "community", VerificationMode: datatypes.ModeManual}

	imageProof = Proof{Kind: datatypes.ProofFile, Value: "gs://b/k.png", ImageData: []byte("png"), ImageMIME: "image/png"}
)

// ============================================================================
// Ordering Tests
// ============================================================================

func TestAdjudicate_MalformedTweetLinkShortCircuits(t *testing.T) {
	client := &fakeLLM{response: `{"verified":true,"reason":"ok"}`}
	a := New(client, reviewOn, Config{}, nil, nil)

	v := a.Adjudicate(context.Background(), PurposeTaskReview, tweetTask,
		Proof{Kind: datatypes.ProofURL, Value: "https://facebook.com/post/1"})

	assert.False(t, v.Verified)
	assert.Equal(t, ReasonMalformedLink, v.Reason)
	assert.Equal(t, 0, client.Calls())
}

func TestAdjudicate_MalformedLinkRefutedEvenWithToggleOff(t *testing.T) {
	client := &fakeLLM{}
	a := New(client, allOff, Config{}, nil, nil)

	v := a.Adjudicate(context.Background(), PurposeRegistration, tweetTask,
		Proof{Kind: datatypes.ProofURL, Value: "not a url"})

	assert.False(t, v.Verified)
	assert.Equal(t, 0, client.Calls())
}

func TestAdjudicate_ToggleOffAcceptsWithoutCallingAI(t *testing.T) {
	client := &fakeLLM{response: `{"verified":false,"reason":"no"}`}
	a := New(client, allOff, Config{}, nil, nil)

	v := a.Adjudicate(context.Background(), PurposeTaskReview, screenshotTask, imageProof)

	assert.True(t, v.Verified)
	assert.False(t, v.AIInvoked)
	assert.Equal(t, ReasonToggleOff, v.Reason)
	assert.Equal(t, 0, client.Calls())
}

func TestAdjudicate_TogglesAreIndependent(t *testing.T) {
	client := &fakeLLM{response: `{"verified":false,"reason":"nope"}`}
	a := New(client, settings.Static{AIRegistrationEnabled: true}, Config{}, nil, nil)

	review := a.Adjudicate(context.Background(), PurposeTaskReview, screenshotTask, imageProof)
	assert.True(t, review.Verified)
	assert.Equal(t, 0, client.Calls())

	reg := a.Adjudicate(context.Background(), PurposeRegistration, tweetTask,
		Proof{Kind: datatypes.ProofURL, Value: "https://x.com/user/status/1"})
	assert.False(t, reg.Verified)
	assert.Equal(t, 1, client.Calls())
}

func TestAdjudicate_ManualTaskNeverAutomated(t *testing.T) {
	client := &fakeLLM{response: `{"verified":true,"reason":"ok"}`}
	a := New(client, allOff, Config{}, nil, nil)

	v := a.Adjudicate(context.Background(), PurposeTaskReview, manualTask,
		Proof{Kind: datatypes.ProofText, Value: "I did it"})

	assert.False(t, v.Verified)
	assert.Equal(t, ReasonManualOnly, v.Reason)
	assert.Equal(t, 0, client.Calls())
}

// ============================================================================
// AI Verdict Tests
// ============================================================================

func TestAdjudicate_PositiveVerdict(t *testing.T) {
	client := &fakeLLM{response: `{"verified":true,"reason":"screenshot shows the post"}`}
	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)
	a := New(client, reviewOn, Config{}, nil, metrics)

	v := a.Adjudicate(context.Background(), PurposeTaskReview, screenshotTask, imageProof)

	assert.True(t, v.Verified)
	assert.True(t, v.AIInvoked)
	assert.Equal(t, "screenshot shows the post", v.Reason)
	assert.Equal(t, []byte("png"), client.lastEv.ImageData)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.AdjudicationsTotal.WithLabelValues("task_review", "verified")))
}

func TestAdjudicate_LinkEvidenceForwarded(t *testing.T) {
	client := &fakeLLM{response: `{"verified":true,"reason":"ok"}`}
	a := New(client, reviewOn, Config{}, nil, nil)

	v := a.Adjudicate(context.Background(), PurposeTaskReview, tweetTask,
		Proof{Kind: datatypes.ProofURL, Value: "https://twitter.com/someone/status/42"})

	assert.True(t, v.Verified)
	assert.Equal(t, "https://twitter.com/someone/status/42", client.lastEv.Link)
}

func TestAdjudicate_FailClosed(t *testing.T) {
	tests := []struct {
		name   string
		client *fakeLLM
		reason string
	}{
		{"unreachable", &fakeLLM{err: errors.New("connection refused")}, ReasonManualFallback},
		{"prose answer", &fakeLLM{response: "Yes, this looks verified."}, ReasonUnparseable},
		{"missing field", &fakeLLM{response: `{"reason":"ok"}`}, ReasonUnparseable},
		{"wrong type", &fakeLLM{response: `{"verified":"yes","reason":"ok"}`}, ReasonUnparseable},
		{"extra field", &fakeLLM{response: `{"verified":true,"reason":"ok","score":1}`}, ReasonUnparseable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := New(tt.client, reviewOn, Config{}, nil, nil)
			v := a.Adjudicate(context.Background(), PurposeTaskReview, screenshotTask, imageProof)
			assert.False(t, v.Verified)
			assert.True(t, v.AIInvoked)
			assert.Equal(t, tt.reason, v.Reason)
			assert.Equal(t, 1, tt.client.Calls())
		})
	}
}

func TestAdjudicate_TimeoutFailsClosed(t *testing.T) {
	client := &fakeLLM{block: true}
	a := New(client, reviewOn, Config{Timeout: 20 * time.Millisecond}, nil, nil)

	start := time.Now()
	v := a.Adjudicate(context.Background(), PurposeTaskReview, screenshotTask, imageProof)

	assert.False(t, v.Verified)
	assert.Equal(t, ReasonManualFallback, v.Reason)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestAdjudicate_NilClientFallsBack(t *testing.T) {
	a := New(nil, reviewOn, Config{}, nil, nil)
	v := a.Adjudicate(context.Background(), PurposeTaskReview, screenshotTask, imageProof)
	assert.False(t, v.Verified)
	assert.Equal(t, ReasonManualFallback, v.Reason)
}

func TestAdjudicate_SettingsErrorFailsClosed(t *testing.T) {
	client := &fakeLLM{response: `{"verified":true,"reason":"ok"}`}
	a := New(client, failingReader{}, Config{}, nil, nil)
	v := a.Adjudicate(context.Background(), PurposeTaskReview, screenshotTask, imageProof)
	assert.False(t, v.Verified)
	assert.Equal(t, 0, client.Calls())
}

func TestAdjudicate_RateLimited(t *testing.T) {
	client := &fakeLLM{response: `{"verified":true,"reason":"ok"}`}
	a := New(client, reviewOn, Config{RatePerMinute: 0.001, Burst: 1}, nil, nil)

	first := a.Adjudicate(context.Background(), PurposeTaskReview, screenshotTask, imageProof)
	second := a.Adjudicate(context.Background(), PurposeTaskReview, screenshotTask, imageProof)

	assert.True(t, first.Verified)
	assert.False(t, second.Verified)
	assert.Equal(t, ReasonRateLimited, second.Reason)
	assert.Equal(t, 1, client.Calls())
}

// ============================================================================
// ParseVerdict Tests
// ============================================================================

func TestParseVerdict(t *testing.T) {
	v, err := ParseVerdict("```json\n{\"verified\": false, \"reason\": \"blurry\"}\n```")
	require.NoError(t, err)
	assert.False(t, v.Verified)
	assert.Equal(t, "blurry", v.Reason)

	v, err = ParseVerdict(`  {"verified": true}  `)
	require.NoError(t, err)
	assert.True(t, v.Verified)
	assert.Equal(t, "no reason given", v.Reason)

	_, err = ParseVerdict(`{"verified": true} {"verified": false}`)
	assert.Error(t, err)

	_, err = ParseVerdict("")
	assert.Error(t, err)
}
