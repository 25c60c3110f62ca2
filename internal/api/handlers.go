package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"classpresence/internal/apperr"
	"classpresence/internal/attendance"
	"classpresence/internal/audit"
	"classpresence/internal/auth"
	"classpresence/internal/challenge"
	"classpresence/internal/metrics"
	"classpresence/internal/qrport"
	"classpresence/internal/session"
)

// Handlers adapts the domain services to HTTP.
type Handlers struct {
	Sessions   *session.Manager
	Verifier   *attendance.Service
	Reverifier *attendance.Reverifier
	Challenges *challenge.Service
	Ports      *qrport.Broker
	Trail      *audit.Trail
}

type sessionView struct {
	*session.Session
	PhaseEndsAt *time.Time `json:"phase_ends_at"`
}

func (h *Handlers) view(s *session.Session) sessionView {
	at := s.ObservedAt
	if at.IsZero() {
		at = h.Sessions.Now()
	}
	return sessionView{Session: s, PhaseEndsAt: session.PhaseEndsAt(s, at)}
}

func actor(c *gin.Context) (auth.Actor, bool) {
	a, ok := auth.ActorFrom(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
	}
	return a, ok
}

func (h *Handlers) startSession(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	var req struct {
		CourseID          string `json:"course_id" binding:"required"`
		InitialWindowSec  int    `json:"initial_window_sec" binding:"gte=0"`
		ReverifyWindowSec int    `json:"reverify_window_sec" binding:"gte=0"`
		RotationSec       int    `json:"rotation_sec" binding:"gte=0"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperr.Invalid(err, "invalid session request"))
		return
	}
	s, err := h.Sessions.Start(c.Request.Context(), a, session.StartInput{
		CourseID:       req.CourseID,
		InitialWindow:  time.Duration(req.InitialWindowSec) * time.Second,
		ReverifyWindow: time.Duration(req.ReverifyWindowSec) * time.Second,
		Rotation:       time.Duration(req.RotationSec) * time.Second,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, h.view(s))
}

func (h *Handlers) getSession(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	s, err := h.Sessions.Get(c.Request.Context(), a, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.view(s))
}

func (h *Handlers) closeSession(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	s, err := h.Sessions.Close(c.Request.Context(), a, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.view(s))
}

func (h *Handlers) ownerQR(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	ch, err := h.Challenges.Owner(c.Request.Context(), a, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusOK, ch)
}

func (h *Handlers) verify(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	var req struct {
		Token           string   `json:"token"`
		Latitude        *float64 `json:"latitude"`
		Longitude       *float64 `json:"longitude"`
		CredentialProof string   `json:"credential_proof"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperr.Invalid(err, "invalid verification request"))
		return
	}
	res, err := h.Verifier.Verify(c.Request.Context(), a, attendance.VerifyInput{
		SessionID:       c.Param("id"),
		Token:           req.Token,
		Latitude:        req.Latitude,
		Longitude:       req.Longitude,
		CredentialProof: req.CredentialProof,
		ClientIP:        c.ClientIP(),
	})
	if err != nil {
		metrics.Verifications.WithLabelValues("unknown", "rejected").Inc()
		writeError(c, err)
		return
	}
	metrics.Verifications.WithLabelValues(string(res.Phase), outcome(res)).Inc()
	metrics.ConfidenceScores.Observe(float64(res.Score))
	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	c.JSON(status, res)
}

func outcome(res attendance.VerifyResult) string {
	switch {
	case res.Created:
		return "created"
	case res.Phase == session.PhaseInitial:
		return "existing"
	default:
		return string(res.Record.ReverifyStatus)
	}
}

func (h *Handlers) listRecords(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	recs, err := h.Reverifier.List(c.Request.Context(), a, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": recs})
}

func (h *Handlers) myRecord(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	rec, err := h.Reverifier.Mine(c.Request.Context(), a, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h *Handlers) manualMark(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	rec, err := h.Reverifier.ManualMark(c.Request.Context(), a, c.Param("id"), c.Param("studentId"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h *Handlers) requestPort(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	req, err := h.Ports.Request(c.Request.Context(), a, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, req)
}

// listPorts returns every request to staff and the caller's own to students.
func (h *Handlers) listPorts(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	var (
		reqs []qrport.Request
		err  error
	)
	if a.IsStaff() {
		reqs, err = h.Ports.List(c.Request.Context(), a, c.Param("id"))
	} else {
		reqs, err = h.Ports.Mine(c.Request.Context(), a, c.Param("id"))
	}
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"requests": reqs})
}

func (h *Handlers) decidePort(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	var body struct {
		Decision string `json:"decision" binding:"required,oneof=approve reject"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		writeError(c, apperr.Invalid(err, `decision must be "approve" or "reject"`))
		return
	}
	decide := h.Ports.Approve
	if body.Decision == "reject" {
		decide = h.Ports.Reject
	}
	req, err := decide(c.Request.Context(), a, c.Param("requestId"))
	if err != nil {
		writeError(c, err)
		return
	}
	metrics.PortDecisions.WithLabelValues(string(req.Status)).Inc()
	c.JSON(http.StatusOK, req)
}

func (h *Handlers) portQR(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	ch, err := h.Ports.LiveQR(c.Request.Context(), a, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusOK, ch)
}

func (h *Handlers) auditTrail(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	entries, err := h.Trail.ForSession(c.Request.Context(), a, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}
