package server

import "github.com/nomadflow/nomadflow/internal/git"

// Requests. All JSON keys are camelCase.

type listFeaturesRequest struct {
	RepoPath string `json:"repoPath" binding:"required"`
}

type createFeatureRequest struct {
	RepoPath string `json:"repoPath" binding:"required"`
	// Full branch name, e.g. "feature/add-login" or "my-branch".
	BranchName string `json:"branchName"`
	// Legacy alias for BranchName kept for older clients.
	FeatureName string `json:"featureName"`
	BaseBranch  string `json:"baseBranch"`
}

func (r *createFeatureRequest) branch() string {
	if r.BranchName != "" {
		return r.BranchName
	}
	return r.FeatureName
}

type deleteFeatureRequest struct {
	RepoPath    string `json:"repoPath" binding:"required"`
	FeatureName string `json:"featureName" binding:"required"`
}

type switchFeatureRequest struct {
	RepoPath    string `json:"repoPath" binding:"required"`
	FeatureName string `json:"featureName" binding:"required"`
}

type listBranchesRequest struct {
	RepoPath string `json:"repoPath" binding:"required"`
}

type attachBranchRequest struct {
	RepoPath   string `json:"repoPath" binding:"required"`
	BranchName string `json:"branchName" binding:"required"`
}

type cloneRepoRequest struct {
	URL   string `json:"url" binding:"required"`
	Token string `json:"token"`
	Name  string `json:"name"`
}

// Responses.

type healthResponse struct {
	Status      string `json:"status"`
	TmuxSession string `json:"tmuxSession"`
	APIPort     int    `json:"apiPort"`
}

type listReposResponse struct {
	Repos []git.Repository `json:"repos"`
}

type cloneRepoResponse struct {
	Name   string `json:"name"`
	Path   string `json:"path"`
	Branch string `json:"branch"`
}

type listFeaturesResponse struct {
	Features []git.Feature `json:"features"`
}

type createFeatureResponse struct {
	WorktreePath string `json:"worktreePath"`
	Branch       string `json:"branch"`
	TmuxWindow   string `json:"tmuxWindow"`
}

type deleteFeatureResponse struct {
	Deleted bool `json:"deleted"`
}

type switchFeatureResponse struct {
	Switched          bool   `json:"switched"`
	WorktreePath      string `json:"worktreePath"`
	TmuxWindow        string `json:"tmuxWindow"`
	HasRunningProcess bool   `json:"hasRunningProcess"`
}

type listBranchesResponse struct {
	Branches      []git.BranchInfo `json:"branches"`
	DefaultBranch string           `json:"defaultBranch"`
}

type attachBranchResponse struct {
	WorktreePath string `json:"worktreePath"`
	Branch       string `json:"branch"`
	TmuxWindow   string `json:"tmuxWindow"`
}

// errorResponse is the uniform error body.
type errorResponse struct {
	Detail string `json:"detail"`
}
