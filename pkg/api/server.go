// Package api exposes the anonymous identity and quota endpoints over HTTP.
package api

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/alpacahack/quotaguard/pkg/fingerprint"
	"github.com/alpacahack/quotaguard/pkg/quota"
	"github.com/alpacahack/quotaguard/pkg/resolver"
	"github.com/alpacahack/quotaguard/pkg/storage"
)

const (
	// SessionCookieName carries the session identity between visits.
	SessionCookieName = "anon_user_id"

	// cookieMaxAge is one year; session identities are long-lived.
	cookieMaxAge = 365 * 24 * 60 * 60
)

// Server binds the resolver and enforcer to the HTTP surface.
type Server struct {
	resolver *resolver.Resolver
	enforcer *quota.Enforcer
	store    storage.Store
}

// NewServer creates the HTTP layer over an already-wired core.
func NewServer(res *resolver.Resolver, enf *quota.Enforcer, store storage.Store) *Server {
	return &Server{resolver: res, enforcer: enf, store: store}
}

// Register mounts all routes on the given engine.
func (s *Server) Register(r *gin.Engine) {
	r.POST("/api/auth/anonymous", s.handleAnonymous)
	r.POST("/api/auth/anonymous/increment", s.handleIncrement)
	r.GET("/healthz", s.handleHealthz)
}

// handleAnonymous resolves the caller to an identity pair from the session
// cookie plus request headers, minting and setting the cookie when needed.
func (s *Server) handleAnonymous(c *gin.Context) {
	sessionCookie, _ := c.Cookie(SessionCookieName)
	meta := fingerprint.FromRequest(c.Request)

	res, err := s.resolver.Resolve(c.Request.Context(), sessionCookie, meta)
	if err != nil {
		s.writeError(c, err)
		return
	}

	if res.MintedCookie {
		c.SetSameSite(http.SameSiteLaxMode)
		c.SetCookie(SessionCookieName, res.SessionID, cookieMaxAge, "/", "", false, true)
	}

	c.JSON(http.StatusOK, gin.H{
		"userId":          res.QuotaID,
		"sessionId":       res.SessionID,
		"generationsUsed": res.UsageCount,
		"maxGenerations":  res.UsageLimit,
		"canGenerate":     res.CanUseMore,
	})
}

type incrementRequest struct {
	UserID string `json:"userId"`
}

// handleIncrement consumes one generation for the given quota identity.
func (s *Server) handleIncrement(c *gin.Context) {
	var req incrementRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.UserID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "userId es requerido"})
		return
	}

	usage, err := s.enforcer.ConsumeOne(c.Request.Context(), req.UserID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Usuario no encontrado"})
			return
		}
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"generationsUsed": usage.UsageCount,
		"maxGenerations":  usage.UsageLimit,
		"canGenerate":     usage.CanUseMore,
	})
}

func (s *Server) handleHealthz(c *gin.Context) {
	if err := s.store.Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// writeError maps internal failures onto the wire taxonomy: store outages
// get a fixed message, everything else is logged and reported generically
// with no internal detail leaked.
func (s *Server) writeError(c *gin.Context, err error) {
	if errors.Is(err, storage.ErrUnavailable) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Servicio no disponible, intenta más tarde"})
		return
	}
	log.Printf("api: %s %s: %v", c.Request.Method, c.FullPath(), err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Error interno del servidor"})
}
