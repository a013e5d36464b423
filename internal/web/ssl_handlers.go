// internal/web/ssl_handlers.go
package web

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"hostwatch/internal/certs"
)

type AddDomainRequest struct {
	Domain string `json:"domain" binding:"required"`
}

func (s *Server) listCertificates(c *gin.Context) {
	states, err := s.engine.Certificates().List(c.Request.Context())
	if err != nil {
		respondError(c, err, "Failed to get certificates")
		return
	}

	summary := map[string]int{}
	for _, st := range states {
		summary[string(st.Status)]++
	}
	c.JSON(http.StatusOK, gin.H{
		"data":    states,
		"count":   len(states),
		"summary": summary,
	})
}

// GET /api/ssl/:domain inspects the live certificate and returns the refreshed state.
func (s *Server) checkCertificate(c *gin.Context) {
	state, err := s.engine.Certificates().Check(c.Request.Context(), c.Param("domain"))
	if err != nil {
		respondError(c, err, "Failed to check certificate")
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": state})
}

func (s *Server) addCertificate(c *gin.Context) {
	var req AddDomainRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	state, err := s.engine.Certificates().Add(c.Request.Context(), req.Domain)
	if err != nil {
		respondError(c, err, "Failed to add domain")
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": state})
}

func (s *Server) discoverCertificates(c *gin.Context) {
	report, err := s.engine.Certificates().Discover(c.Request.Context())
	if err != nil {
		respondError(c, err, "Certificate discovery failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": report})
}

func (s *Server) issueCertificate(c *gin.Context) {
	state, err := s.engine.Certificates().Issue(c.Request.Context(), c.Param("domain"))

	var issueErr *certs.IssuanceError
	switch {
	case errors.As(err, &issueErr):
		c.JSON(http.StatusBadGateway, gin.H{
			"error":          "Certificate issuance failed",
			"provider_error": issueErr.Err.Error(),
		})
		return
	case err != nil:
		respondError(c, err, "Certificate issuance failed")
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": state})
}

// acmeChallenge answers HTTP-01 validation requests for in-flight orders.
func (s *Server) acmeChallenge(c *gin.Context) {
	challenges := s.engine.Challenges()
	if challenges == nil {
		c.Status(http.StatusNotFound)
		return
	}

	token := c.Param("token")
	keyAuth, ok := challenges.Lookup(token)
	if !ok {
		logrus.WithField("token", token).Debug("Unknown ACME challenge token")
		c.Status(http.StatusNotFound)
		return
	}
	c.String(http.StatusOK, keyAuth)
}
