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
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/consolepoints/campaign/pkg/validation"
	"github.com/consolepoints/campaign/services/campaign/catalog"
	"github.com/consolepoints/campaign/services/campaign/datatypes"
	"github.com/consolepoints/campaign/services/campaign/httperr"
	"github.com/consolepoints/campaign/services/campaign/leaderboard"
	"github.com/consolepoints/campaign/services/campaign/referrals"
	"github.com/consolepoints/campaign/services/campaign/registration"
)

// LeaderboardCacheControl lets CDNs and browsers reuse a page briefly.
const LeaderboardCacheControl = "public, max-age=30"

// ListTasks returns the active catalog.
func ListTasks(cat *catalog.Catalog) gin.HandlerFunc {
	return func(c *gin.Context) {
		tasks, err := cat.List(c.Request.Context(), true)
		if err != nil {
			httperr.Write(c, err)
			return
		}
		if tasks == nil {
			tasks = []datatypes.Task{}
		}
		c.JSON(http.StatusOK, gin.H{"tasks": tasks})
	}
}

// GetLeaderboard serves one ranking page. Pagination is clamped, never
// rejected.
func GetLeaderboard(lb *leaderboard.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, offset := validation.ParsePagination(c.Query("limit"), c.Query("offset"))
		page, err := lb.Page(c.Request.Context(), limit, offset)
		if err != nil {
			httperr.Write(c, err)
			return
		}
		c.Header("Cache-Control", LeaderboardCacheControl)
		c.JSON(http.StatusOK, page)
	}
}

func GetUserPoints(lb *leaderboard.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		points, err := lb.Points(c.Request.Context(), c.Param("wallet"))
		if err != nil {
			httperr.Write(c, err)
			return
		}
		c.JSON(http.StatusOK, points)
	}
}

// GetUser returns the registration state of a wallet.
func GetUser(reg *registration.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := reg.Status(c.Request.Context(), c.Param("wallet"))
		if err != nil {
			httperr.Write(c, err)
			return
		}
		c.JSON(http.StatusOK, user)
	}
}

func GetReferralStats(refs *referrals.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		stats, err := refs.Stats(c.Request.Context(), c.Param("wallet"))
		if err != nil {
			httperr.Write(c, err)
			return
		}
		c.JSON(http.StatusOK, stats)
	}
}

// =============================================================================
// Registration
// =============================================================================

func VerifyTweet(reg *registration.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.TweetRegistrationRequest
		if err := bindJSON(c, &req); err != nil {
			httperr.Write(c, err)
			return
		}
		res, err := reg.VerifyTweet(c.Request.Context(), req)
		if err != nil {
			httperr.Write(c, err)
			return
		}
		c.JSON(http.StatusOK, res.Response())
	}
}

func VerifyFollow(reg *registration.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.FollowRegistrationRequest
		if err := bindJSON(c, &req); err != nil {
			httperr.Write(c, err)
			return
		}
		res, err := reg.VerifyFollow(c.Request.Context(), req)
		if err != nil {
			httperr.Write(c, err)
			return
		}
		c.JSON(http.StatusOK, res.Response())
	}
}
