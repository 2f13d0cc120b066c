package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/MarcoPoloResearchLab/tunerboard/internal/tuners"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const cursorPageMode = "cursor"

type listingResponse struct {
	Tuners []tuners.TunerView `json:"tuners"`
	Count  int                `json:"count"`
}

type pageResponse struct {
	Tuners []tuners.TunerView `json:"tuners"`
	Cursor string             `json:"cursor"`
}

type tunerResponse struct {
	Tuner tuners.TunerView `json:"tuner"`
}

type tunerRequestPayload struct {
	ID     string `form:"id" json:"id"`
	Prompt string `form:"prompt" json:"prompt"`
	URL    string `form:"url" json:"url"`
	Size   string `form:"size" json:"size"`
}

type likeRequestPayload struct {
	Liked *bool `form:"liked" json:"liked"`
}

type urlRequestPayload struct {
	URL string `form:"url" json:"url"`
}

type urlCheckResponse struct {
	Valid      bool   `json:"valid"`
	Message    string `json:"message"`
	ExistingID string `json:"existingId,omitempty"`
}

func (h *httpHandler) handleListTuners(c *gin.Context) {
	viewer := identityFrom(c)
	listing, err := h.tuners.Search(c.Request.Context(), tuners.FilterSpec{})
	if err != nil {
		h.respondError(c, err)
		return
	}
	likes, ok := h.viewerLikes(c, viewer)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, listingResponse{
		Tuners: tuners.ViewTuners(listing.Tuners, viewer, likes, false),
		Count:  listing.Count,
	})
}

func (h *httpHandler) handleSearch(c *gin.Context) {
	viewer := identityFrom(c)
	query := parseFilterQuery(c)
	spec, err := h.tuners.ResolveFilter(c.Request.Context(), query, viewer)
	if err != nil {
		h.respondError(c, err)
		return
	}
	likes, ok := h.viewerLikes(c, viewer)
	if !ok {
		return
	}

	_, hasCursor := c.GetQuery("cursor")
	if hasCursor || c.Query("page") == cursorPageMode {
		page, err := h.tuners.SearchPage(c.Request.Context(), spec, query.Cursor)
		if err != nil {
			h.respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, pageResponse{
			Tuners: tuners.ViewTuners(page.Tuners, viewer, likes, true),
			Cursor: page.Cursor,
		})
		return
	}

	listing, err := h.tuners.Search(c.Request.Context(), spec)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, listingResponse{
		Tuners: tuners.ViewTuners(listing.Tuners, viewer, likes, true),
		Count:  listing.Count,
	})
}

func (h *httpHandler) handleCountTuners(c *gin.Context) {
	spec, err := h.tuners.ResolveFilter(c.Request.Context(), parseFilterQuery(c), identityFrom(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	count, err := h.tuners.Count(c.Request.Context(), spec)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": count})
}

func (h *httpHandler) handleGetTuner(c *gin.Context) {
	viewer := identityFrom(c)
	tuner, err := h.tuners.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	likes, ok := h.viewerLikes(c, viewer)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, tunerResponse{Tuner: tuners.ViewTuner(tuner, viewer, likes, false)})
}

func (h *httpHandler) handleGetPrompt(c *gin.Context) {
	tuner, err := h.tuners.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": tuner.ID, "prompt": tuner.Prompt})
}

func (h *httpHandler) handleSaveTuner(c *gin.Context) {
	viewer := identityFrom(c)
	var request tunerRequestPayload
	if err := c.ShouldBind(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	creating := strings.TrimSpace(request.ID) == ""
	saved, err := h.tuners.SaveTuner(c.Request.Context(), viewer, tuners.TunerInput{
		ID:     request.ID,
		Prompt: request.Prompt,
		URL:    request.URL,
		Size:   request.Size,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	likes, ok := h.viewerLikes(c, viewer)
	if !ok {
		return
	}
	status := http.StatusOK
	if creating {
		status = http.StatusCreated
	}
	c.JSON(status, tunerResponse{Tuner: tuners.ViewTuner(saved, viewer, likes, false)})
}

func (h *httpHandler) handleDeleteTuner(c *gin.Context) {
	if err := h.tuners.DeleteTuner(c.Request.Context(), identityFrom(c), c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleToggleLike(c *gin.Context) {
	viewer := identityFrom(c)
	var request likeRequestPayload
	if err := c.ShouldBind(&request); err != nil || request.Liked == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	tuner, err := h.tuners.ToggleLike(c.Request.Context(), c.Param("id"), viewer.ID, *request.Liked)
	if err != nil {
		h.respondError(c, err)
		return
	}
	likes := tuners.NewIDSet()
	if *request.Liked {
		likes.Add(tuner.ID)
	}
	c.JSON(http.StatusOK, tunerResponse{Tuner: tuners.ViewTuner(tuner, viewer, likes, false)})
}

func (h *httpHandler) handleValidateURL(c *gin.Context) {
	var request urlRequestPayload
	if err := c.ShouldBind(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	check, err := h.tuners.ValidateURL(c.Request.Context(), request.URL)
	if err != nil {
		h.respondError(c, err)
		return
	}
	response := urlCheckResponse{Valid: check.Valid, Message: check.Message}
	if check.Existing != nil {
		response.ExistingID = check.Existing.ID
	}
	c.JSON(http.StatusOK, response)
}

func (h *httpHandler) handlePills(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"pills": tuners.Pills(parseFilterQuery(c))})
}

// viewerLikes loads the like-set used for the liked flag. Anonymous viewers like nothing.
func (h *httpHandler) viewerLikes(c *gin.Context, viewer tuners.Identity) (tuners.IDSet, bool) {
	if !viewer.Authenticated() {
		return tuners.NewIDSet(), true
	}
	likes, err := h.tuners.Records().UserLikes(c.Request.Context(), viewer.ID)
	if err != nil {
		h.logger.Error("failed to load viewer likes", zap.String("user_id", viewer.ID), zap.Error(err))
		h.respondError(c, err)
		return nil, false
	}
	return likes, true
}

func parseFilterQuery(c *gin.Context) tuners.FilterQuery {
	likedBy := make([]string, 0)
	for _, value := range c.QueryArray("likedbyuser") {
		for _, userID := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(userID); trimmed != "" {
				likedBy = append(likedBy, trimmed)
			}
		}
	}
	return tuners.FilterQuery{
		Key:         c.Query("key"),
		Size:        c.Query("size"),
		Raw:         queryFlag(c, "raw"),
		ImgPrompt:   queryFlag(c, "imgprompt"),
		Niji:        queryFlag(c, "niji"),
		LikedByMe:   queryFlag(c, "likedbyme"),
		LikedByUser: likedBy,
		Cursor:      c.Query("cursor"),
	}
}

func queryFlag(c *gin.Context, name string) bool {
	value, err := strconv.ParseBool(strings.TrimSpace(c.Query(name)))
	return err == nil && value
}
