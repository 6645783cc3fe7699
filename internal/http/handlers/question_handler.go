// Question catalog HTTP handlers.
//
// This file exposes the per-user question catalog:
//   - GET    /journal/questions              (active, seeded on first use; ?all=true for every question)
//   - POST   /journal/questions              (append)
//   - PUT    /journal/questions/reorder      (atomic reorder)
//   - PUT    /journal/questions/{id}         (edit text and order)
//   - PATCH  /journal/questions/{id}/active  (activate / deactivate)
//   - DELETE /journal/questions/{id}         (remove)
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-journal-backend/internal/domain"
	"github.com/tbourn/go-journal-backend/internal/services"
	"github.com/tbourn/go-journal-backend/internal/utils"
)

//
// DTOs
//

// QuestionsResponse wraps a list of questions in catalog order.
type QuestionsResponse struct {
	Questions []domain.Question `json:"questions"`
}

// QuestionResponse wraps a single question.
type QuestionResponse struct {
	Question *domain.Question `json:"question"`
}

// AddQuestionRequest appends a question to the catalog.
type AddQuestionRequest struct {
	Question string `json:"question" binding:"required" example:"What made you smile today?"`
}

// EditQuestionRequest replaces the text and, when order > 0, the position.
type EditQuestionRequest struct {
	Question string `json:"question" binding:"required" example:"What made you laugh today?"`
	Order    int    `json:"order" example:"2"`
}

// SetActiveRequest switches a question on or off.
type SetActiveRequest struct {
	IsActive *bool `json:"isActive" binding:"required" example:"false"`
}

// ReorderEntry is one (id, order) pair.
type ReorderEntry struct {
	ID    string `json:"id" example:"5b0c3c5e-7a51-4d5e-9d64-1b0e6f0f2a11"`
	Order int    `json:"order" example:"1"`
}

// ReorderRequest carries the complete new order.
type ReorderRequest struct {
	Questions []ReorderEntry `json:"questions" binding:"required"`
}

//
// Handlers
//

// ListQuestions godoc
// @ID          listQuestions
// @Summary     List the question catalog
// @Description Returns the active questions in order, seeding the defaults on first use.
// @Description With all=true every question (active or not) is returned and nothing is seeded.
// @Tags        Questions
// @Produce     json
// @Security    BearerAuth
// @Param       all  query     bool  false  "Include inactive questions"  default(false)
// @Success     200  {object}  handlers.QuestionsResponse
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthenticated"
// @Failure     500  {object}  handlers.ErrorResponse  "Storage failure"
// @Router      /journal/questions [get]
func (h *Handlers) ListQuestions(c *gin.Context) {
	uid, okUser := currentUser(c)
	if !okUser {
		return
	}
	var (
		qs  []domain.Question
		err error
	)
	if utils.BoolDefault(c.Query("all"), false) {
		qs, err = h.questions.ListAll(c.Request.Context(), uid)
	} else {
		qs, err = h.questions.ListActive(c.Request.Context(), uid)
	}
	if err != nil {
		failErr(c, err)
		return
	}
	if qs == nil {
		qs = []domain.Question{}
	}
	ok(c, http.StatusOK, QuestionsResponse{Questions: qs})
}

// AddQuestion godoc
// @ID          addQuestion
// @Summary     Append a question
// @Description The new question is active and ordered after every existing question.
// @Tags        Questions
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       body  body      handlers.AddQuestionRequest  true  "Question payload"
// @Success     201   {object}  handlers.QuestionResponse
// @Failure     400   {object}  handlers.ErrorResponse  "Empty question"
// @Failure     401   {object}  handlers.ErrorResponse  "Unauthenticated"
// @Failure     500   {object}  handlers.ErrorResponse  "Storage failure"
// @Router      /journal/questions [post]
func (h *Handlers) AddQuestion(c *gin.Context) {
	uid, okUser := currentUser(c)
	if !okUser {
		return
	}
	var req AddQuestionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "question required")
		return
	}
	q, err := h.questions.Add(c.Request.Context(), uid, req.Question)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusCreated, QuestionResponse{Question: q})
}

// EditQuestion godoc
// @ID          editQuestion
// @Summary     Edit a question
// @Tags        Questions
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       id    path      string                        true  "Question ID (UUID)"  format(uuid)
// @Param       body  body      handlers.EditQuestionRequest  true  "Question payload"
// @Success     200   {object}  handlers.QuestionResponse
// @Failure     400   {object}  handlers.ErrorResponse  "Empty question"
// @Failure     401   {object}  handlers.ErrorResponse  "Unauthenticated"
// @Failure     404   {object}  handlers.ErrorResponse  "Question not found"
// @Router      /journal/questions/{id} [put]
func (h *Handlers) EditQuestion(c *gin.Context) {
	uid, okUser := currentUser(c)
	if !okUser {
		return
	}
	var req EditQuestionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "question required")
		return
	}
	if req.Order < 0 {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "order must be >= 1")
		return
	}
	q, err := h.questions.Edit(c.Request.Context(), uid, c.Param("id"), req.Question, req.Order)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, QuestionResponse{Question: q})
}

// SetQuestionActive godoc
// @ID          setQuestionActive
// @Summary     Activate or deactivate a question
// @Description Inactive questions stay in the catalog but are skipped in conversations.
// @Tags        Questions
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       id    path      string                     true  "Question ID (UUID)"  format(uuid)
// @Param       body  body      handlers.SetActiveRequest  true  "Active flag"
// @Success     200   {object}  handlers.QuestionResponse
// @Failure     400   {object}  handlers.ErrorResponse  "Bad request"
// @Failure     401   {object}  handlers.ErrorResponse  "Unauthenticated"
// @Failure     404   {object}  handlers.ErrorResponse  "Question not found"
// @Router      /journal/questions/{id}/active [patch]
func (h *Handlers) SetQuestionActive(c *gin.Context) {
	uid, okUser := currentUser(c)
	if !okUser {
		return
	}
	var req SetActiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "isActive required")
		return
	}
	q, err := h.questions.SetActive(c.Request.Context(), uid, c.Param("id"), *req.IsActive)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, QuestionResponse{Question: q})
}

// DeleteQuestion godoc
// @ID          deleteQuestion
// @Summary     Delete a question
// @Tags        Questions
// @Produce     json
// @Security    BearerAuth
// @Param       id   path      string  true  "Question ID (UUID)"  format(uuid)
// @Success     200  {object}  handlers.SuccessResponse
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthenticated"
// @Failure     404  {object}  handlers.ErrorResponse  "Question not found"
// @Router      /journal/questions/{id} [delete]
func (h *Handlers) DeleteQuestion(c *gin.Context) {
	uid, okUser := currentUser(c)
	if !okUser {
		return
	}
	if err := h.questions.Delete(c.Request.Context(), uid, c.Param("id")); err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, SuccessResponse{Success: true})
}

// ReorderQuestions godoc
// @ID          reorderQuestions
// @Summary     Reorder the catalog
// @Description Applies every (id, order) pair atomically. If any id is not the user's, nothing changes.
// @Tags        Questions
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       body  body      handlers.ReorderRequest  true  "New order"
// @Success     200   {object}  handlers.SuccessResponse
// @Failure     400   {object}  handlers.ErrorResponse  "Invalid or unknown entries"
// @Failure     401   {object}  handlers.ErrorResponse  "Unauthenticated"
// @Failure     500   {object}  handlers.ErrorResponse  "Storage failure"
// @Router      /journal/questions/reorder [put]
func (h *Handlers) ReorderQuestions(c *gin.Context) {
	uid, okUser := currentUser(c)
	if !okUser {
		return
	}
	var req ReorderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "questions required")
		return
	}
	items := make([]services.ReorderItem, len(req.Questions))
	for i, q := range req.Questions {
		items[i] = services.ReorderItem{ID: q.ID, Order: q.Order}
	}
	if err := h.questions.Reorder(c.Request.Context(), uid, items); err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, SuccessResponse{Success: true})
}
