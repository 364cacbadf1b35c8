// Copyright (C) 2025 Codelore (oss@codelore.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/codelore/codelore/services/cgrag/datatypes"
	"github.com/codelore/codelore/services/cgrag/loop"
	"github.com/codelore/codelore/services/cgrag/observability"
)

// HandleAsk answers a question about the indexed codebase.
//
// # Description
//
// Binds an AskRequest, validates it, and runs it through the answer
// loop. Engine failures degrade inside the loop itself, so anything
// other than a bad request or a cancelled context comes back 200 with
// an answer, possibly a low-confidence one.
func HandleAsk(engine *loop.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.AskRequest
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
		if err := req.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		started := time.Now()
		resp, err := engine.Ask(c.Request.Context(), req)
		if err != nil {
			if errors.Is(err, c.Request.Context().Err()) {
				// Client went away; nothing useful to write.
				c.Status(http.StatusRequestTimeout)
				return
			}
			slog.Error("Answer loop failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to answer question"})
			return
		}

		observability.RecordQuestion(
			resp.CGRAG.Mode, string(resp.Confidence),
			resp.CGRAG.PassesUsed, time.Since(started).Seconds())
		observability.RecordGaps(
			len(resp.CGRAG.GapsResolved), len(resp.CGRAG.GapsUnresolved))

		c.JSON(http.StatusOK, resp)
	}
}
