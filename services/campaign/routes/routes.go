// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/consolepoints/campaign/pkg/extensions"
	"github.com/consolepoints/campaign/services/campaign/catalog"
	"github.com/consolepoints/campaign/services/campaign/handlers"
	"github.com/consolepoints/campaign/services/campaign/identity"
	"github.com/consolepoints/campaign/services/campaign/leaderboard"
	"github.com/consolepoints/campaign/services/campaign/ledger"
	"github.com/consolepoints/campaign/services/campaign/middleware"
	"github.com/consolepoints/campaign/services/campaign/referrals"
	"github.com/consolepoints/campaign/services/campaign/registration"
	"github.com/consolepoints/campaign/services/campaign/settings"
	"github.com/consolepoints/campaign/services/campaign/store"
	"github.com/consolepoints/campaign/services/campaign/submissions"
)

// Deps are the collaborators wired into the router.
type Deps struct {
	Store        store.Store
	Catalog      *catalog.Catalog
	Engine       *submissions.Engine
	Settler      *ledger.Settler
	Settings     *settings.Service
	Leaderboard  *leaderboard.Service
	Referrals    *referrals.Service
	Registration *registration.Service
	Gate         middleware.RoleResolver
	Options      extensions.ServiceOptions

	// Gatherer backs /metrics. Nil serves the default registry.
	Gatherer prometheus.Gatherer
	// MaxUpload bounds screenshot uploads in bytes.
	MaxUpload int64
	// CORSOrigins lists the browser origins of the campaign UI. Empty
	// disables CORS handling.
	CORSOrigins []string
}

// SetupRoutes registers every campaign endpoint on router.
func SetupRoutes(router *gin.Engine, d Deps) {
	opts := d.Options.Merge()
	if opts.AuthProvider == nil {
		opts.AuthProvider = identity.HeaderAuthProvider{}
	}
	if len(d.CORSOrigins) > 0 {
		router.Use(cors.New(cors.Config{
			AllowOrigins:  d.CORSOrigins,
			AllowMethods:  []string{"GET", "POST", "PUT", "OPTIONS"},
			AllowHeaders:  []string{"Origin", "Content-Type", "X-Wallet-Address", "X-Wallet-Message", "X-Wallet-Signature"},
			ExposeHeaders: []string{"Content-Length"},
			MaxAge:        12 * time.Hour,
		}))
	}

	router.GET("/health", handlers.HealthCheck(d.Store))
	gatherer := d.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	// Public surface
	router.GET("/tasks", handlers.ListTasks(d.Catalog))
	router.POST("/tasks/:id/submissions", handlers.CreateSubmission(d.Engine, d.MaxUpload))
	router.GET("/leaderboard", handlers.GetLeaderboard(d.Leaderboard))
	router.GET("/referrals/:wallet/stats", handlers.GetReferralStats(d.Referrals))
	users := router.Group("/users")
	{
		users.GET("/:wallet", handlers.GetUser(d.Registration))
		users.GET("/:wallet/points", handlers.GetUserPoints(d.Leaderboard))
	}
	reg := router.Group("/registration")
	{
		reg.POST("/tweet", handlers.VerifyTweet(d.Registration))
		reg.POST("/follow", handlers.VerifyFollow(d.Registration))
	}

	auth := middleware.Authenticate(opts.AuthProvider)

	// Operator review: reviewer existence (404) before role (403).
	operator := router.Group("/operator", auth, middleware.RequireOperator(d.Gate))
	{
		operator.GET("/submissions", handlers.ListSubmissions(d.Engine))
		operator.POST("/submissions/:id/approve",
			middleware.Authorize(opts.AuthzProvider, "approve", "submission", "id"),
			handlers.ApproveSubmission(d.Engine, opts.AuditLogger))
		operator.POST("/submissions/:id/reject",
			middleware.Authorize(opts.AuthzProvider, "reject", "submission", "id"),
			handlers.RejectSubmission(d.Engine, opts.AuditLogger))
	}

	// Admin: role (403) before target existence (404).
	admin := router.Group("/admin", auth, middleware.RequireAdmin(d.Gate))
	{
		admin.GET("/settings", handlers.GetSettings(d.Settings))
		admin.POST("/settings",
			middleware.Authorize(opts.AuthzProvider, "update_setting", "setting", ""),
			handlers.UpdateSetting(d.Settings, opts.AuditLogger))
		admin.POST("/users/:wallet/ban",
			middleware.Authorize(opts.AuthzProvider, "ban", "user", "wallet"),
			handlers.BanUser(d.Store, opts.AuditLogger))
		admin.POST("/users/:wallet/points",
			middleware.Authorize(opts.AuthzProvider, "adjust_points", "user", "wallet"),
			handlers.AdjustPoints(d.Store, d.Settler, opts.AuditLogger))
		admin.POST("/users/:wallet/reconcile",
			middleware.Authorize(opts.AuthzProvider, "reconcile", "user", "wallet"),
			handlers.ReconcileUser(d.Store, d.Settler, opts.AuditLogger))
		admin.PUT("/tasks/:id",
			middleware.Authorize(opts.AuthzProvider, "upsert_task", "task", "id"),
			handlers.UpsertTask(d.Catalog, opts.AuditLogger))
		admin.POST("/roles",
			middleware.Authorize(opts.AuthzProvider, "grant_role", "profile", ""),
			handlers.GrantRole(d.Store, opts.AuditLogger))
	}
}
