// Copyright (C) 2025 Codelore (oss@codelore.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/codelore/codelore/services/cgrag/session"
)

// SessionSummary is the wire shape for session inspection.
type SessionSummary struct {
	SessionID        string    `json:"session_id"`
	CreatedAt        time.Time `json:"created_at"`
	LastAccess       time.Time `json:"last_access"`
	CachedItems      int       `json:"cached_items"`
	UnresolvableGaps []string  `json:"unresolvable_gaps"`
}

// GetSession returns a summary of one conversation session.
//
// Looking up a session does not touch it; inspection must not extend
// its lifetime.
func GetSession(store *session.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("sessionId")
		sess, ok := store.Get(id)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "Session not found or expired"})
			return
		}

		c.JSON(http.StatusOK, SessionSummary{
			SessionID:        sess.ID,
			CreatedAt:        sess.CreatedAt,
			LastAccess:       sess.LastAccess(),
			CachedItems:      sess.CachedCount(),
			UnresolvableGaps: sess.UnresolvableGaps(),
		})
	}
}

// ListSessions reports the live session count.
func ListSessions(store *session.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"count": store.Len(),
			"ttl":   store.TTL().String(),
		})
	}
}
