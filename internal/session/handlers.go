package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nextgendem/slicehub/internal/apperrors"
	"github.com/nextgendem/slicehub/internal/logger"
	"github.com/nextgendem/slicehub/internal/store"
	"github.com/nextgendem/slicehub/internal/validate"
)

// loginRequest is bound from the login form; the hubusername tag enforces
// the same identity shape domain.NormalizeUser and the dev verifier's
// pattern expect, so a malformed username is rejected before it ever
// reaches the credential check (teacher's go-playground/validator binding
// style, internal/validate).
type loginRequest struct {
	Username string `form:"username" binding:"required" validate:"required,hubusername"`
	Password string `form:"password" binding:"required" validate:"required"`
}

// Root redirects to the landing page.
func (h *Hub) Root(c *gin.Context) {
	c.Redirect(http.StatusFound, "/index.html")
}

// IndexHTML lists every session marked shared, for the landing page.
func (h *Hub) IndexHTML(c *gin.Context) {
	sessions, err := h.Store.ListSharedSessions(c.Request.Context())
	if err != nil {
		respondError(c, apperrors.DatabaseError(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

// LoginForm serves the login form. Rendering the form body itself is out
// of this spec's scope (HTML templating is a non-goal); this handler only
// establishes the route.
func (h *Hub) LoginForm(c *gin.Context) {
	c.Status(http.StatusOK)
}

// Login verifies credentials, then either redirects to an existing session
// or launches a new one, following §4.2 step 3 exactly.
func (h *Hub) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBind(&req); err != nil {
		respondError(c, apperrors.BadRequest("username and password are required"))
		return
	}
	if err := validate.Struct(&req); err != nil {
		respondError(c, apperrors.BadRequest(err.Error()))
		return
	}

	ctx := c.Request.Context()

	ok, err := h.Verifier.Verify(ctx, req.Username, req.Password)
	if err != nil {
		logger.Auth().Warn().Err(err).Str("user", req.Username).Msg("credential check errored")
		respondError(c, apperrors.AuthFailure())
		return
	}
	if !ok {
		respondError(c, apperrors.AuthFailure())
		return
	}

	existing, err := h.Store.GetSessionByUser(ctx, req.Username)
	if err == nil {
		c.Redirect(http.StatusFound, fmt.Sprintf("/sessions/%s", existing.ID))
		return
	}
	if !errors.Is(err, store.ErrSessionNotFound) {
		respondError(c, apperrors.DatabaseError(err))
		return
	}

	if !h.Config.Unlimited() {
		count, err := h.Store.CountSessions(ctx)
		if err != nil {
			respondError(c, apperrors.DatabaseError(err))
			return
		}
		if count >= h.Config.MaxSessions {
			respondError(c, apperrors.CapacityExceeded(h.Config.MaxSessions))
			return
		}
	}

	newSession, err := h.launchSession(context.WithoutCancel(ctx), req.Username)
	if err != nil {
		var conflict = errors.Is(err, store.ErrSessionConflict)
		if conflict {
			existing, getErr := h.Store.GetSessionByUser(ctx, req.Username)
			if getErr == nil {
				c.Redirect(http.StatusFound, fmt.Sprintf("/sessions/%s", existing.ID))
				return
			}
		}
		logger.HTTP().Error().Err(err).Str("user", req.Username).Msg("session launch failed")
		respondError(c, apperrors.ContainerLaunchFailed(req.Username, err))
		return
	}

	if err := h.reconcileProxy(ctx); err != nil {
		logger.Proxy().Warn().Err(err).Msg("proxy reconciliation failed after login")
	}

	c.Redirect(http.StatusFound, fmt.Sprintf("/sessions/%s", newSession.ID))
}

// GetSession serves a session's management page.
func (h *Hub) GetSession(c *gin.Context) {
	id := c.Param("id")
	sess, err := h.Store.GetSession(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrSessionNotFound) {
			respondError(c, apperrors.NotFound("session"))
			return
		}
		respondError(c, apperrors.DatabaseError(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"session":  sess,
		"full_url": h.Config.BaseURL() + sess.URLPath,
	})
}

// Share marks a session visible on the landing page.
//
// The interactive=0|1 query parameter is accepted but intentionally does
// not change any stored state: it selects noVNC's view_only mode, which is
// enforced entirely client-side by the URL the viewer opens, not by
// anything the hub proxies or persists. The hub's own notion of sharing
// is binary (listed vs. not), so the parameter is validated here only to
// reject a malformed value early rather than have it silently ignored by
// the browser.
func (h *Hub) Share(c *gin.Context) {
	if v := c.Query("interactive"); v != "" && v != "0" && v != "1" {
		respondError(c, apperrors.BadRequest("interactive must be 0 or 1"))
		return
	}
	h.setShared(c, true)
}

// Unshare hides a session from the landing page.
func (h *Hub) Unshare(c *gin.Context) {
	h.setShared(c, false)
}

func (h *Hub) setShared(c *gin.Context, shared bool) {
	id := c.Param("id")
	ctx := c.Request.Context()

	if _, err := h.Store.GetSession(ctx, id); err != nil {
		if errors.Is(err, store.ErrSessionNotFound) {
			respondError(c, apperrors.NotFound("session"))
			return
		}
		respondError(c, apperrors.DatabaseError(err))
		return
	}
	if err := h.Store.UpdateShared(ctx, id, shared); err != nil {
		respondError(c, apperrors.DatabaseError(err))
		return
	}
	c.Status(http.StatusOK)
}

// Close stops and removes a session's container, deletes its row, and
// reconciles the proxy so its locations disappear.
func (h *Hub) Close(c *gin.Context) {
	id := c.Param("id")
	ctx := c.Request.Context()

	sess, err := h.Store.GetSession(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrSessionNotFound) {
			respondError(c, apperrors.NotFound("session"))
			return
		}
		respondError(c, apperrors.DatabaseError(err))
		return
	}

	if _, err := h.Backend.StopContainer(ctx, sess.ContainerName); err != nil {
		logger.Orchestrator().Warn().Err(err).Str("container", sess.ContainerName).Msg("failed to stop container on close")
	}
	if _, err := h.Backend.RemoveContainer(ctx, sess.ContainerName); err != nil {
		logger.Orchestrator().Warn().Err(err).Str("container", sess.ContainerName).Msg("failed to remove container on close")
	}
	if err := h.Store.DeleteSession(ctx, id); err != nil {
		respondError(c, apperrors.DatabaseError(err))
		return
	}

	if err := h.reconcileProxy(ctx); err != nil {
		logger.Proxy().Warn().Err(err).Msg("proxy reconciliation failed after close")
	}

	c.Redirect(http.StatusFound, "/")
}

// AdminRestart sets a session's restart intent flag — the administrative
// write path resolving spec.md §9's Open Question: exposing restart as a
// reachable endpoint rather than leaving it as dead code gives the
// startup reaper's re-association branch a testable precondition.
func (h *Hub) AdminRestart(c *gin.Context) {
	id := c.Param("id")
	var body struct {
		Restart bool `json:"restart"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, apperrors.BadRequest("restart must be a boolean body field"))
		return
	}

	ctx := c.Request.Context()
	if _, err := h.Store.GetSession(ctx, id); err != nil {
		if errors.Is(err, store.ErrSessionNotFound) {
			respondError(c, apperrors.NotFound("session"))
			return
		}
		respondError(c, apperrors.DatabaseError(err))
		return
	}
	if err := h.Store.UpdateRestart(ctx, id, body.Restart); err != nil {
		respondError(c, apperrors.DatabaseError(err))
		return
	}
	c.Status(http.StatusOK)
}

// NotFoundFallback serves the hub's catch-all page for unmatched routes.
func (h *Hub) NotFoundFallback(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "not found"})
}

func respondError(c *gin.Context, appErr *apperrors.AppError) {
	c.JSON(appErr.StatusCode, appErr.ToResponse())
	c.Abort()
}
