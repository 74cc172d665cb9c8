package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"muse/internal/confirm"
	"muse/internal/events"
	"muse/internal/persist"
)

type postMessageRequest struct {
	UserID  string `json:"userId" binding:"required"`
	Content string `json:"content" binding:"required"`
}

type suggestionResponse struct {
	SuggestionID  string         `json:"suggestionId"`
	AgentType     string         `json:"agentType"`
	Confidence    float64        `json:"confidence"`
	Reasoning     string         `json:"reasoning"`
	PrefillParams map[string]any `json:"prefillParams"`
}

type messageResponse struct {
	MessageID  string              `json:"messageId"`
	Suggestion *suggestionResponse `json:"suggestion,omitempty"`
}

// handlePostMessage stores the chat message and, when the detector fires,
// attaches a suggestion to it.
func (s *Server) handlePostMessage(c *gin.Context) {
	conversationID := c.Param("id")
	var req postMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	record := persist.ChatMessageRecord{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Role:           "user",
		Content:        req.Content,
		Type:           persist.MessageTypeText,
		CreatedAt:      time.Now(),
	}
	if err := s.deps.Store.InsertMessage(c.Request.Context(), record); err != nil {
		s.logger.Error("store chat message: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not store message"})
		return
	}

	resp := messageResponse{MessageID: record.ID}
	if suggestion := s.deps.Detector.Detect(req.Content); suggestion != nil {
		state := s.deps.Controller.Suggest(conversationID, record.ID, req.UserID, *suggestion)
		resp.Suggestion = &suggestionResponse{
			SuggestionID:  state.SuggestionID,
			AgentType:     string(state.AgentType),
			Confidence:    state.Confidence,
			Reasoning:     state.Reasoning,
			PrefillParams: state.Params,
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleConfirm(c *gin.Context) {
	jobID, err := s.deps.Controller.Confirm(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobId": jobID})
}

func (s *Server) handleCancel(c *gin.Context) {
	if err := s.deps.Controller.Cancel(c.Param("id")); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleGetSuggestion(c *gin.Context) {
	state, ok := s.deps.Controller.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown suggestion"})
		return
	}
	c.JSON(http.StatusOK, stateResponse(state))
}

func (s *Server) handleGetJob(c *gin.Context) {
	state, ok := s.deps.Controller.GetByJob(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown job"})
		return
	}
	c.JSON(http.StatusOK, stateResponse(state))
}

func (s *Server) handleHistory(c *gin.Context) {
	messages, err := s.deps.Store.MessagesByConversation(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.logger.Error("load history: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not load history"})
		return
	}
	out := make([]gin.H, 0, len(messages))
	for _, message := range messages {
		entry := gin.H{
			"messageId": message.ID,
			"role":      message.Role,
			"content":   message.Content,
			"type":      message.Type,
			"createdAt": message.CreatedAt,
		}
		if message.SourceJobID != "" {
			entry["sourceJobId"] = message.SourceJobID
		}
		if message.Metadata != nil {
			entry["metadata"] = *message.Metadata
		}
		out = append(out, entry)
	}
	c.JSON(http.StatusOK, gin.H{"messages": out})
}

func (s *Server) handleLibrary(c *gin.Context) {
	userID := c.Query("userId")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "userId is required"})
		return
	}
	materials, err := s.deps.Store.SearchMaterials(c.Request.Context(), userID, c.Query("q"))
	if err != nil {
		s.logger.Error("search library: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not search library"})
		return
	}
	out := make([]gin.H, 0, len(materials))
	for _, material := range materials {
		entry := gin.H{
			"materialId":  material.ID,
			"title":       material.Title,
			"type":        material.Type,
			"url":         material.DurableURL,
			"sourceJobId": material.SourceJobID,
			"createdAt":   material.CreatedAt,
		}
		if material.Metadata != nil {
			entry["metadata"] = *material.Metadata
		}
		out = append(out, entry)
	}
	c.JSON(http.StatusOK, gin.H{"materials": out})
}

func (s *Server) handleUsage(c *gin.Context) {
	userID := c.Query("userId")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "userId is required"})
		return
	}
	day := time.Now()
	if raw := c.Query("day"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "day must be YYYY-MM-DD"})
			return
		}
		day = parsed
	}
	record, err := s.deps.Ledger.Usage(c.Request.Context(), userID, day)
	if err != nil {
		s.logger.Error("read usage: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not read usage"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"userId":    record.UserID,
		"day":       record.Day,
		"count":     record.Count,
		"costTotal": record.CostTotal,
	})
}

type navigationRequest struct {
	ConversationID string `json:"conversationId" binding:"required"`
	From           string `json:"from"`
	To             string `json:"to"`
}

// handleNavigation records route changes. Navigation never confirms or
// cancels anything; it is observability only.
func (s *Server) handleNavigation(c *gin.Context) {
	var req navigationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if s.deps.Events != nil {
		s.deps.Events.LogNavigation(events.NavigationEvent{
			ConversationID: req.ConversationID,
			From:           req.From,
			To:             req.To,
			At:             time.Now(),
		})
	}
	c.Status(http.StatusNoContent)
}

func stateResponse(state *confirm.State) gin.H {
	resp := gin.H{
		"suggestionId":   state.SuggestionID,
		"conversationId": state.ConversationID,
		"messageId":      state.MessageID,
		"agentType":      string(state.AgentType),
		"status":         string(state.Status),
		"dismissed":      state.Dismissed,
		"updatedAt":      state.UpdatedAt,
	}
	if state.JobID != "" {
		resp["jobId"] = state.JobID
	}
	if state.Status == confirm.StatusCompleted {
		resp["chatMessageId"] = state.ChatMessageID
		resp["libraryMaterialId"] = state.LibraryMaterialID
		resp["durableUrl"] = state.DurableURL
	}
	if state.FailureReason != "" {
		resp["failureReason"] = state.FailureReason
	}
	return resp
}
