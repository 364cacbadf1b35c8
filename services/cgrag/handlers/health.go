// Copyright (C) 2025 Codelore (oss@codelore.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/codelore/codelore/services/cgrag/index"
)

// HealthCheck reports liveness.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// IndexStatus reports what the code index currently holds.
func IndexStatus(ix *index.CodeIndex) gin.HandlerFunc {
	return func(c *gin.Context) {
		if ix == nil {
			c.JSON(http.StatusOK, gin.H{"indexed": false})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"indexed": true,
			"files":   len(ix.Files()),
			"symbols": ix.SymbolCount(),
		})
	}
}
