package session

import (
	"github.com/gin-gonic/gin"

	"github.com/nextgendem/slicehub/internal/middleware"
)

// NewRouter assembles the gin engine with the hub's middleware chain and
// HTTP surface (§4.2), following the teacher's cmd/main.go convention of
// gin.New() plus an explicit middleware chain rather than gin.Default().
func (h *Hub) NewRouter() *gin.Engine {
	router := gin.New()
	router.Use(middleware.RequestID())
	router.Use(gin.Recovery())
	router.Use(middleware.StructuredLogger())

	router.GET("/", h.Root)
	router.GET("/index.html", h.IndexHTML)
	router.GET("/login", h.LoginForm)
	router.POST("/login", h.Login)
	router.GET("/sessions/:id", h.GetSession)
	router.POST("/sessions/:id/share", h.Share)
	router.POST("/sessions/:id/unshare", h.Unshare)
	router.POST("/sessions/:id/close", h.Close)
	router.POST("/admin/sessions/:id/restart", h.AdminRestart)
	router.NoRoute(h.NotFoundFallback)

	return router
}
