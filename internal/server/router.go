package server

import (
	"github.com/gin-gonic/gin"

	"github.com/nomadflow/nomadflow/internal/common/httpmw"
)

// BuildRouter assembles the gin engine: /health and the WebSocket proxy
// outside the auth middleware, everything else behind it.
func (s *AppState) BuildRouter() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(httpmw.RequestID())
	router.Use(httpmw.RequestLogger(s.Log))
	router.Use(httpmw.CORS())

	router.GET("/health", s.handleHealth)

	// /terminal/ws shares the wildcard with the asset proxy; the dispatch
	// handler separates WebSocket upgrades (token query auth) from asset
	// requests (header auth).
	router.GET("/terminal/*path", s.handleTerminalDispatch)

	authed := router.Group("/", AuthMiddleware(s.Settings.Auth.Secret))
	{
		authed.POST("/api/list-repos", s.handleListRepos)
		authed.POST("/api/clone-repo", s.handleCloneRepo)
		authed.POST("/api/list-features", s.handleListFeatures)
		authed.POST("/api/create-feature", s.handleCreateFeature)
		authed.POST("/api/delete-feature", s.handleDeleteFeature)
		authed.POST("/api/switch-feature", s.handleSwitchFeature)
		authed.POST("/api/list-branches", s.handleListBranches)
		authed.POST("/api/attach-branch", s.handleAttachBranch)
		authed.GET("/terminal", s.handleTerminalHTML)
	}

	return router
}
