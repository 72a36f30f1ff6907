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
	"net/http"

	"github.com/AleutianAI/datalens/services/devbackend/handlers"
	"github.com/AleutianAI/datalens/services/devbackend/middleware"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRoutes mounts /health, /metrics and the /api group on router.
// Everything under /api except /api/auth requires a bearer token.
func SetupRoutes(router *gin.Engine, h *handlers.Handler, verifier middleware.Verifier, gatherer prometheus.Gatherer) {
	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"message": "Not found"})
	})

	api := router.Group("/api")
	{
		authGroup := api.Group("/auth")
		{
			authGroup.POST("/register", h.Register)
			authGroup.POST("/login", h.Login)
			authGroup.POST("/refresh", h.Refresh)
		}

		protected := api.Group("", middleware.RequireAuth(verifier))
		{
			protected.GET("/user/me", h.Me)

			files := protected.Group("/files")
			{
				files.POST("/upload", h.Upload)
				files.GET("/my", h.ListFiles)
				files.GET("/download/:id", h.Download)
				files.DELETE("/:id", h.DeleteFile)
				files.GET("/:id/preview", h.Preview)
				files.GET("/:id/mapping", h.ListMappings)
				files.POST("/:id/mapping", h.CreateMapping)
				files.PUT("/:id/mapping/:mid", h.UpdateMapping)
				files.DELETE("/:id/mapping", h.ClearMappings)
			}

			credits := protected.Group("/credits")
			{
				credits.GET("/my", h.Balance)
				credits.GET("/history", h.History)
				credits.POST("/add", h.AddCredits)
			}

			protected.POST("/ai/:id/analyze", h.Analyze)
		}
	}
}
