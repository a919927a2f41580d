package main

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/trustplane/trustplane/pkg/engine"
	"github.com/trustplane/trustplane/pkg/signals"
	"github.com/trustplane/trustplane/pkg/threat"
)

// Server holds the evaluation engine and the stores the handlers query.
type Server struct {
	engine    *engine.Engine
	incidents *incidentStore
	logger    zerolog.Logger
}

func (s *Server) routes(r *gin.Engine, limiter *RateLimiter, adminToken string) {
	r.Use(requestMiddleware(s.logger))
	r.Use(rateLimitMiddleware(limiter, s.logger))

	r.POST("/v1/evaluate", s.handleEvaluate)
	r.POST("/v1/threats", s.handleThreat)
	r.POST("/v1/segmentation/check", s.handleSegmentationCheck)
	r.GET("/v1/health", s.handleHealth)

	admin := r.Group("/v1", adminAuth(adminToken, s.logger))
	admin.GET("/incidents", s.listIncidents)
	admin.GET("/incidents/:id", s.getIncident)
}

func (s *Server) handleEvaluate(c *gin.Context) {
	var ec signals.EvaluationContext
	if err := c.ShouldBindJSON(&ec); err != nil {
		respondError(c, http.StatusBadRequest, "invalid evaluation context: "+err.Error(), s.logger)
		return
	}
	if ec.SubjectID == "" || ec.ResourceID == "" {
		respondError(c, http.StatusBadRequest, "subject_id and resource_id are required", s.logger)
		return
	}

	assessment := s.engine.EvaluateAccess(c.Request.Context(), &ec)
	c.JSON(http.StatusOK, assessment)
}

type threatRequest struct {
	SubjectID string               `json:"subject_id"`
	Event     threat.SecurityEvent `json:"event"`
}

func (s *Server) handleThreat(c *gin.Context) {
	var req threatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid threat request: "+err.Error(), s.logger)
		return
	}
	if req.SubjectID == "" || req.Event.ID == "" {
		respondError(c, http.StatusBadRequest, "subject_id and event.id are required", s.logger)
		return
	}

	assessment := s.engine.AssessThreat(c.Request.Context(), req.SubjectID, req.Event)
	c.JSON(http.StatusOK, assessment)
}

type segmentCheckRequest struct {
	Source    string `json:"source"`
	Target    string `json:"target"`
	Operation string `json:"operation"`
}

func (s *Server) handleSegmentationCheck(c *gin.Context) {
	var req segmentCheckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid segmentation request: "+err.Error(), s.logger)
		return
	}
	if req.Source == "" || req.Target == "" || req.Operation == "" {
		respondError(c, http.StatusBadRequest, "source, target, and operation are required", s.logger)
		return
	}

	allowed := s.engine.ValidateCommunication(c.Request.Context(), req.Source, req.Target, req.Operation)
	c.JSON(http.StatusOK, gin.H{
		"source":    req.Source,
		"target":    req.Target,
		"operation": req.Operation,
		"allowed":   allowed,
	})
}

func (s *Server) listIncidents(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			respondError(c, http.StatusBadRequest, "invalid limit", s.logger)
			return
		}
		limit = parsed
	}

	incidents, err := s.incidents.ListIncidents(c.Request.Context(), limit)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "incident query failed", s.logger)
		return
	}
	c.JSON(http.StatusOK, gin.H{"incidents": incidents, "count": len(incidents)})
}

func (s *Server) getIncident(c *gin.Context) {
	incident, assessments, err := s.incidents.GetIncident(c.Request.Context(), c.Param("id"))
	if err == errIncidentNotFound {
		respondError(c, http.StatusNotFound, "incident not found", s.logger)
		return
	}
	if err != nil {
		respondError(c, http.StatusInternalServerError, "incident query failed", s.logger)
		return
	}
	c.JSON(http.StatusOK, gin.H{"incident": incident, "assessments": assessments})
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"version": Version,
		"uptime":  time.Since(startTime).Round(time.Second).String(),
	})
}
