package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jroosing/sipdispatch/internal/api/models"
)

// ListRequests godoc
// @Summary List in-flight requests
// @Description Returns a snapshot of every Request currently tracked by the dispatcher's Stack
// @Tags requests
// @Produce json
// @Success 200 {array} models.RequestSummary
// @Security ApiKeyAuth
// @Router /requests [get]
func (h *Handler) ListRequests(c *gin.Context) {
	stack := h.GetStack()
	if stack == nil {
		c.JSON(http.StatusServiceUnavailable, models.ErrorResponse{Error: "dispatcher stack not ready"})
		return
	}

	snaps := stack.Snapshot()
	out := make([]models.RequestSummary, 0, len(snaps))
	for _, s := range snaps {
		out = append(out, models.RequestSummary{
			ID:                  s.ID,
			Method:              s.Method,
			URI:                 s.URI,
			Host:                s.Host,
			Transport:           s.Transport.String(),
			Stateful:            s.Stateful,
			ProvisionalReceived: s.ProvisionalReceived,
			Canceled:            s.Canceled,
			AgeMs:               s.Age.Milliseconds(),
		})
	}
	c.JSON(http.StatusOK, out)
}

// CancelRequest godoc
// @Summary Cancel an in-flight request
// @Description Cancels the Request identified by id, the way dispatch.Stack.Cancel would if the caller held the *Request
// @Tags requests
// @Produce json
// @Param id path string true "Request ID, as returned by GET /requests"
// @Success 200 {object} models.StatusResponse
// @Failure 404 {object} models.ErrorResponse
// @Security ApiKeyAuth
// @Router /requests/{id} [delete]
func (h *Handler) CancelRequest(c *gin.Context) {
	stack := h.GetStack()
	if stack == nil {
		c.JSON(http.StatusServiceUnavailable, models.ErrorResponse{Error: "dispatcher stack not ready"})
		return
	}

	id := c.Param("id")
	if !stack.CancelByID(id) {
		c.JSON(http.StatusNotFound, models.ErrorResponse{Error: "no in-flight request with that id"})
		return
	}
	c.JSON(http.StatusOK, models.StatusResponse{Status: "canceled"})
}
