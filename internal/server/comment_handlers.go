package server

import (
	"net/http"

	"github.com/MarcoPoloResearchLab/tunerboard/internal/tuners"
	"github.com/gin-gonic/gin"
)

type commentRequestPayload struct {
	TunerID string `form:"id" json:"id" binding:"required"`
	Text    string `form:"newComment" json:"newComment"`
}

type commentsResponse struct {
	TunerID  string               `json:"id"`
	Comments []tuners.CommentView `json:"comments"`
}

func (h *httpHandler) handleListComments(c *gin.Context) {
	viewer := identityFrom(c)
	tuner, err := h.tuners.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, commentsResponse{TunerID: tuner.ID, Comments: tuners.ViewComments(tuner.Comments, viewer)})
}

func (h *httpHandler) handlePostComment(c *gin.Context) {
	viewer := identityFrom(c)
	var request commentRequestPayload
	if err := c.ShouldBind(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	tuner, err := h.tuners.PostComment(c.Request.Context(), viewer, request.TunerID, request.Text)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, commentsResponse{TunerID: tuner.ID, Comments: tuners.ViewComments(tuner.Comments, viewer)})
}

func (h *httpHandler) handleDeleteComment(c *gin.Context) {
	viewer := identityFrom(c)
	tuner, err := h.tuners.RemoveComment(c.Request.Context(), viewer, c.Param("id"), c.Param("commentId"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, commentsResponse{TunerID: tuner.ID, Comments: tuners.ViewComments(tuner.Comments, viewer)})
}
