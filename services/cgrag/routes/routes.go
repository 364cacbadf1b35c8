// Copyright (C) 2025 Codelore (oss@codelore.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/codelore/codelore/services/cgrag/handlers"
	"github.com/codelore/codelore/services/cgrag/index"
	"github.com/codelore/codelore/services/cgrag/loop"
	"github.com/codelore/codelore/services/cgrag/session"
)

// SetupRoutes registers all HTTP routes on the router.
func SetupRoutes(router *gin.Engine, engine *loop.Engine, ix *index.CodeIndex,
	sessions *session.Store) {

	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API version 1 group
	v1 := router.Group("/v1")
	{
		v1.POST("/ask", handlers.HandleAsk(engine))
		v1.GET("/index/status", handlers.IndexStatus(ix))

		sessionRoutes := v1.Group("/sessions")
		{
			sessionRoutes.GET("", handlers.ListSessions(sessions))
			sessionRoutes.GET("/:sessionId", handlers.GetSession(sessions))
		}
	}
}
