package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"telehealth-portal-server/internal/assistant"
	"telehealth-portal-server/internal/utils"
)

// AssistantHandler exposes the dosha questionnaire and consultation summaries.
type AssistantHandler struct {
	Assistant *assistant.Service
	Log       *logrus.Logger
}

// NewAssistantHandler creates a new AssistantHandler.
func NewAssistantHandler(svc *assistant.Service, log *logrus.Logger) *AssistantHandler {
	return &AssistantHandler{Assistant: svc, Log: log}
}

// GetDoshaQuestions returns the questionnaire.
func (h *AssistantHandler) GetDoshaQuestions(c *gin.Context) {
	utils.Success(c, "Questions fetched successfully", gin.H{
		"minimumAnswers": assistant.MinDoshaAnswers,
		"questions":      assistant.Questions,
	})
}

// DoshaRequest is a completed questionnaire.
type DoshaRequest struct {
	Answers []assistant.Answer `json:"answers" binding:"required,dive"`
}

// AssessDosha scores the caller's answers and stores the assessment.
func (h *AssistantHandler) AssessDosha(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	var req DoshaRequest
	if !utils.BindAndValidate(c, &req) {
		return
	}
	assessment, err := h.Assistant.AssessDosha(c.Request.Context(), actor.UserID, req.Answers)
	if err != nil {
		utils.HandleError(c, h.Log, err)
		return
	}
	utils.Created(c, "Assessment completed", assessment)
}

// GetDoshaHistory lists the caller's assessments.
func (h *AssistantHandler) GetDoshaHistory(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	history, err := h.Assistant.DoshaHistory(c.Request.Context(), actor.UserID)
	if err != nil {
		utils.HandleError(c, h.Log, err)
		return
	}
	utils.Success(c, "Assessments fetched successfully", history)
}

// SummaryRequest carries a consultation transcript.
type SummaryRequest struct {
	Transcript string `json:"transcript" binding:"required"`
}

// CreateConsultationSummary summarises the transcript of one of the calling
// doctor's appointments.
func (h *AssistantHandler) CreateConsultationSummary(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req SummaryRequest
	if !utils.BindAndValidate(c, &req) {
		return
	}
	summary, err := h.Assistant.Summarize(c.Request.Context(), actor.UserID, id, req.Transcript)
	if err != nil {
		utils.HandleError(c, h.Log, err)
		return
	}
	utils.Created(c, "Consultation summary created", summary)
}

// GetConsultationSummary returns the summary to the appointment's doctor or patient.
func (h *AssistantHandler) GetConsultationSummary(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	summary, err := h.Assistant.GetSummary(c.Request.Context(), actor.UserID, id)
	if err != nil {
		utils.HandleError(c, h.Log, err)
		return
	}
	utils.Success(c, "Consultation summary fetched successfully", summary)
}
