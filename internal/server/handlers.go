package server

import (
	"net/http"
	"path/filepath"

	"github.com/gin-gonic/gin"

	apperrors "github.com/nomadflow/nomadflow/internal/common/errors"
	"github.com/nomadflow/nomadflow/internal/tmux"
)

func (s *AppState) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, healthResponse{
		Status:      "ok",
		TmuxSession: s.Settings.Tmux.Session,
		APIPort:     s.Settings.API.Port,
	})
}

func (s *AppState) handleListRepos(c *gin.Context) {
	repos, err := s.Git.ListRepos(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorResponse{Detail: err.Error()})
		return
	}
	c.JSON(http.StatusOK, listReposResponse{Repos: repos})
}

func (s *AppState) handleCloneRepo(c *gin.Context) {
	var req cloneRepoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Detail: err.Error()})
		return
	}

	repo, err := s.Git.CloneRepo(c.Request.Context(), req.URL, req.Token, req.Name)
	if err != nil {
		status := http.StatusInternalServerError
		if apperrors.IsKind(err, apperrors.KindAlreadyExists) {
			status = http.StatusConflict
		}
		c.JSON(status, errorResponse{Detail: err.Error()})
		return
	}

	c.JSON(http.StatusOK, cloneRepoResponse{Name: repo.Name, Path: repo.Path, Branch: repo.Branch})
}

func (s *AppState) handleListFeatures(c *gin.Context) {
	var req listFeaturesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Detail: err.Error()})
		return
	}

	features, err := s.Git.ListFeatures(c.Request.Context(), req.RepoPath)
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorResponse{Detail: err.Error()})
		return
	}
	c.JSON(http.StatusOK, listFeaturesResponse{Features: features})
}

func (s *AppState) handleCreateFeature(c *gin.Context) {
	var req createFeatureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Detail: err.Error()})
		return
	}
	branchName := req.branch()
	if branchName == "" {
		c.JSON(http.StatusBadRequest, errorResponse{Detail: "branchName is required"})
		return
	}

	// "main" is the client default and means auto-detect.
	base := req.BaseBranch
	if base == "main" {
		base = ""
	}

	ctx := c.Request.Context()
	wtPath, branch, err := s.Git.CreateFeature(ctx, req.RepoPath, branchName, base)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Detail: err.Error()})
		return
	}

	winName := tmux.WindowName(req.RepoPath, filepath.Base(wtPath))
	if err := s.Tmux.EnsureSession(ctx); err != nil {
		c.JSON(http.StatusInternalServerError, errorResponse{Detail: err.Error()})
		return
	}
	if err := s.Tmux.EnsureWindow(ctx, winName, wtPath); err != nil {
		c.JSON(http.StatusInternalServerError, errorResponse{Detail: err.Error()})
		return
	}

	c.JSON(http.StatusOK, createFeatureResponse{
		WorktreePath: wtPath,
		Branch:       branch,
		TmuxWindow:   winName,
	})
}

func (s *AppState) handleDeleteFeature(c *gin.Context) {
	var req deleteFeatureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Detail: err.Error()})
		return
	}

	ctx := c.Request.Context()
	features, err := s.Git.ListFeatures(ctx, req.RepoPath)
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorResponse{Detail: err.Error()})
		return
	}
	for _, f := range features {
		if f.Name == req.FeatureName && f.IsMain {
			c.JSON(http.StatusBadRequest, errorResponse{Detail: "Cannot delete the main repository branch"})
			return
		}
	}

	s.Tmux.KillWindow(ctx, tmux.WindowName(req.RepoPath, req.FeatureName))

	deleted, err := s.Git.DeleteFeature(ctx, req.RepoPath, req.FeatureName)
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorResponse{Detail: err.Error()})
		return
	}
	c.JSON(http.StatusOK, deleteFeatureResponse{Deleted: deleted})
}

func (s *AppState) handleSwitchFeature(c *gin.Context) {
	var req switchFeatureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Detail: err.Error()})
		return
	}

	ctx := c.Request.Context()
	features, err := s.Git.ListFeatures(ctx, req.RepoPath)
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorResponse{Detail: err.Error()})
		return
	}

	var wtPath string
	for _, f := range features {
		if f.Name == req.FeatureName {
			wtPath = f.WorktreePath
			break
		}
	}
	if wtPath == "" {
		// Missing features are created on the fly with an auto-detected base.
		wtPath, _, err = s.Git.CreateFeature(ctx, req.RepoPath, req.FeatureName, "")
		if err != nil {
			c.JSON(http.StatusBadRequest, errorResponse{Detail: err.Error()})
			return
		}
	}

	if err := s.Tmux.EnsureSession(ctx); err != nil {
		c.JSON(http.StatusInternalServerError, errorResponse{Detail: err.Error()})
		return
	}

	winName := tmux.WindowName(req.RepoPath, req.FeatureName)
	switched, hasRunning, err := s.Tmux.SwitchToWindow(ctx, winName, wtPath)
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorResponse{Detail: err.Error()})
		return
	}
	if !switched {
		c.JSON(http.StatusInternalServerError,
			errorResponse{Detail: "Failed to switch to window '" + winName + "'"})
		return
	}

	c.JSON(http.StatusOK, switchFeatureResponse{
		Switched:          true,
		WorktreePath:      wtPath,
		TmuxWindow:        winName,
		HasRunningProcess: hasRunning,
	})
}

func (s *AppState) handleListBranches(c *gin.Context) {
	var req listBranchesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Detail: err.Error()})
		return
	}

	branches, defaultBranch, err := s.Git.ListBranches(c.Request.Context(), req.RepoPath)
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorResponse{Detail: err.Error()})
		return
	}
	c.JSON(http.StatusOK, listBranchesResponse{Branches: branches, DefaultBranch: defaultBranch})
}

func (s *AppState) handleAttachBranch(c *gin.Context) {
	var req attachBranchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Detail: err.Error()})
		return
	}

	ctx := c.Request.Context()
	wtPath, branch, err := s.Git.AttachBranch(ctx, req.RepoPath, req.BranchName)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Detail: err.Error()})
		return
	}

	winName := tmux.WindowName(req.RepoPath, filepath.Base(wtPath))
	if err := s.Tmux.EnsureSession(ctx); err != nil {
		c.JSON(http.StatusInternalServerError, errorResponse{Detail: err.Error()})
		return
	}
	if err := s.Tmux.EnsureWindow(ctx, winName, wtPath); err != nil {
		c.JSON(http.StatusInternalServerError, errorResponse{Detail: err.Error()})
		return
	}

	c.JSON(http.StatusOK, attachBranchResponse{
		WorktreePath: wtPath,
		Branch:       branch,
		TmuxWindow:   winName,
	})
}
