package relay

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type registerRequest struct {
	Port      uint16 `json:"port"`
	Secret    string `json:"secret"`
	Subdomain string `json:"subdomain,omitempty"`
}

type registerResponse struct {
	Subdomain string `json:"subdomain"`
}

type errorResponse struct {
	Detail string `json:"detail"`
}

// handleRegister claims a subdomain for a bore tunnel port. Checks run in
// a fixed order: port range, shared secret, active-tunnel cap, hourly
// registration cap. A rate-limit timestamp is recorded once those pass,
// so rejected subdomains still count as attempts.
func (s *State) handleRegister(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Detail: "Invalid request body"})
		return
	}

	ip := clientIPFrom(c.GetHeader("X-Forwarded-For"), c.Request.RemoteAddr)

	if req.Port < 1024 {
		c.JSON(http.StatusBadRequest, errorResponse{Detail: "Invalid port"})
		return
	}

	if s.cfg.Secret != "" {
		if subtle.ConstantTimeCompare([]byte(req.Secret), []byte(s.cfg.Secret)) != 1 {
			c.JSON(http.StatusUnauthorized, errorResponse{Detail: "Invalid secret"})
			return
		}
	}

	if s.activeTunnels(ip) >= MaxTunnelsPerIP {
		c.JSON(http.StatusTooManyRequests, errorResponse{Detail: "Too many active tunnels"})
		return
	}

	if !s.allowRegistration(ip) {
		c.JSON(http.StatusTooManyRequests, errorResponse{Detail: "Too many registrations, try again later"})
		return
	}

	subdomain := req.Subdomain
	if subdomain != "" {
		if subdomain != strings.ToLower(subdomain) || !validSubdomain(subdomain) {
			c.JSON(http.StatusBadRequest, errorResponse{Detail: "Invalid subdomain"})
			return
		}
		if owner, taken := s.owner(subdomain); taken && owner != ip {
			c.JSON(http.StatusConflict, errorResponse{Detail: "Subdomain already taken"})
			return
		}
	} else {
		for {
			subdomain = generateSubdomain()
			if !s.exists(subdomain) {
				break
			}
		}
	}

	s.insert(subdomain, req.Port, ip)
	s.log.Info("registered tunnel",
		zap.String("subdomain", subdomain),
		zap.Uint16("borePort", req.Port),
		zap.String("clientIp", ip))
	c.JSON(http.StatusOK, registerResponse{Subdomain: subdomain})
}

// handleCheck answers the on-demand TLS hook: 200 when the domain's first
// label is a registered subdomain, 404 otherwise.
func (s *State) handleCheck(c *gin.Context) {
	domain := c.Query("domain")
	label, _, _ := strings.Cut(domain, ".")
	if label != "" && s.exists(label) {
		c.String(http.StatusOK, "ok")
		return
	}
	c.String(http.StatusNotFound, "unknown domain")
}

func (s *State) handleHealth(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}
