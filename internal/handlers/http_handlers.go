package handlers

import (
	"bytes"
	"errors"
	"net/http"

	"prizedraw/internal/apperrors"
	"prizedraw/internal/draw"
	"prizedraw/internal/export"
	"prizedraw/internal/realtime"
	"prizedraw/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/google/logger"
	"github.com/google/uuid"
)

const (
	ownerHeader   = "X-Owner-ID"
	ownerCookie   = "lottery_owner"
	ownerKey      = "ownerID"
	ownerMaxLen   = 128
	cookieMaxAge  = 365 * 24 * 60 * 60
	xlsxMediaType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// HTTPHandler holds the dependencies for the HTTP handlers, like the lottery service.
type HTTPHandler struct {
	service *services.LotteryService
	hub     *realtime.Hub
}

// NewHTTPHandler creates a new HTTPHandler. hub may be nil, which disables
// the websocket route.
func NewHTTPHandler(service *services.LotteryService, hub *realtime.Hub) *HTTPHandler {
	return &HTTPHandler{
		service: service,
		hub:     hub,
	}
}

// RegisterPublicRoutes registers routes that need no owner.
func (h *HTTPHandler) RegisterPublicRoutes(router *gin.Engine) {
	router.GET("/health", h.Health)
}

// RegisterTenantRoutes registers the owner-scoped API. The group must use
// TenantMiddleware.
func (h *HTTPHandler) RegisterTenantRoutes(api *gin.RouterGroup) {
	api.GET("/lottery", h.GetSnapshot)
	api.POST("/lottery/reset", h.ResetLottery)
	api.POST("/lottery/clear", h.ClearAll)

	api.GET("/prizes", h.ListPrizes)
	api.POST("/prizes", h.AddPrize)
	api.POST("/prizes/batch", h.AddPrizes)
	api.PUT("/prizes/:id", h.UpdatePrize)
	api.DELETE("/prizes/:id", h.DeletePrize)

	api.GET("/participants", h.ListParticipants)
	api.POST("/participants", h.AddParticipant)
	api.POST("/participants/batch", h.AddParticipants)
	api.DELETE("/participants", h.DeleteAllParticipants)
	api.DELETE("/participants/:id", h.DeleteParticipant)

	api.GET("/winners", h.ListWinners)
	api.GET("/winners/export.csv", h.ExportWinnersCSV)
	api.GET("/winners/export.xlsx", h.ExportWinnersXLSX)

	api.POST("/draw", h.PerformDraw)
	api.GET("/ws", h.ServeWS)
}

// TenantMiddleware identifies the owner from the X-Owner-ID header, else
// from the owner cookie. A visitor with neither gets a fresh owner cookie.
func (h *HTTPHandler) TenantMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ownerID := c.GetHeader(ownerHeader)
		if ownerID == "" {
			ownerID, _ = c.Cookie(ownerCookie)
		}
		if ownerID == "" {
			ownerID = uuid.NewString()
			c.SetSameSite(http.SameSiteLaxMode)
			c.SetCookie(ownerCookie, ownerID, cookieMaxAge, "/", "", false, true)
		}
		if len(ownerID) > ownerMaxLen {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"code": "INVALID_OWNER", "error": "owner id is too long"})
			return
		}
		c.Set(ownerKey, ownerID)
		c.Next()
	}
}

func owner(c *gin.Context) string {
	return c.GetString(ownerKey)
}

// Health reports that the process is serving.
func (h *HTTPHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *HTTPHandler) GetSnapshot(c *gin.Context) {
	snap, err := h.service.Snapshot(c.Request.Context(), owner(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (h *HTTPHandler) ListPrizes(c *gin.Context) {
	prizes, err := h.service.ListPrizes(c.Request.Context(), owner(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, prizes)
}

// AddPrize handles the request for adding a new prize.
func (h *HTTPHandler) AddPrize(c *gin.Context) {
	var in services.PrizeInput
	if !bind(c, &in) {
		return
	}
	prize, err := h.service.AddPrize(c.Request.Context(), owner(c), in)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, prize)
}

// AddPrizes imports a JSON array of prizes.
func (h *HTTPHandler) AddPrizes(c *gin.Context) {
	var in []services.PrizeInput
	if !bind(c, &in) {
		return
	}
	res, err := h.service.AddPrizes(c.Request.Context(), owner(c), in)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

func (h *HTTPHandler) UpdatePrize(c *gin.Context) {
	var in services.PrizeUpdate
	if !bind(c, &in) {
		return
	}
	prize, err := h.service.UpdatePrize(c.Request.Context(), owner(c), c.Param("id"), in)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, prize)
}

func (h *HTTPHandler) DeletePrize(c *gin.Context) {
	if err := h.service.DeletePrize(c.Request.Context(), owner(c), c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ListParticipants returns the roster with each participant's won status.
func (h *HTTPHandler) ListParticipants(c *gin.Context) {
	statuses, err := h.service.ListParticipants(c.Request.Context(), owner(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, statuses)
}

// AddParticipant handles the request for adding a new participant.
func (h *HTTPHandler) AddParticipant(c *gin.Context) {
	var in services.ParticipantInput
	if !bind(c, &in) {
		return
	}
	p, err := h.service.AddParticipant(c.Request.Context(), owner(c), in)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

// AddParticipants imports a JSON array of participants.
func (h *HTTPHandler) AddParticipants(c *gin.Context) {
	var in []services.ParticipantInput
	if !bind(c, &in) {
		return
	}
	res, err := h.service.AddParticipants(c.Request.Context(), owner(c), in)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

func (h *HTTPHandler) DeleteParticipant(c *gin.Context) {
	if err := h.service.DeleteParticipant(c.Request.Context(), owner(c), c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *HTTPHandler) DeleteAllParticipants(c *gin.Context) {
	if err := h.service.DeleteAllParticipants(c.Request.Context(), owner(c)); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *HTTPHandler) ListWinners(c *gin.Context) {
	winners, err := h.service.ListWinners(c.Request.Context(), owner(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, winners)
}

// ExportWinnersCSV handles the request to download the winners as a CSV file.
func (h *HTTPHandler) ExportWinnersCSV(c *gin.Context) {
	winners, err := h.service.ListWinners(c.Request.Context(), owner(c))
	if err != nil {
		h.fail(c, err)
		return
	}

	c.Header("Content-Type", "text/csv; charset=utf-8")
	c.Header("Content-Disposition", "attachment;filename=lottery_results.csv")
	if err := export.WriteCSV(c.Writer, winners); err != nil {
		// Headers are already out; all we can do is log.
		logger.Errorf("handlers: write CSV export for owner %s: %v", owner(c), err)
	}
}

// ExportWinnersXLSX handles the request to download the winners as an Excel workbook.
func (h *HTTPHandler) ExportWinnersXLSX(c *gin.Context) {
	winners, err := h.service.ListWinners(c.Request.Context(), owner(c))
	if err != nil {
		h.fail(c, err)
		return
	}

	var buf bytes.Buffer
	if err := export.WriteXLSX(&buf, winners); err != nil {
		h.fail(c, err)
		return
	}
	c.Header("Content-Disposition", "attachment;filename=lottery_results.xlsx")
	c.Data(http.StatusOK, xlsxMediaType, buf.Bytes())
}

// PerformDraw handles the request to draw winners for a prize.
func (h *HTTPHandler) PerformDraw(c *gin.Context) {
	var req draw.Request
	if !bind(c, &req) {
		return
	}
	result, err := h.service.Draw(c.Request.Context(), owner(c), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *HTTPHandler) ResetLottery(c *gin.Context) {
	if err := h.service.ResetLottery(c.Request.Context(), owner(c)); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *HTTPHandler) ClearAll(c *gin.Context) {
	if err := h.service.ClearAll(c.Request.Context(), owner(c)); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// ServeWS subscribes the caller to the owner's draw, reset and clear events.
func (h *HTTPHandler) ServeWS(c *gin.Context) {
	if h.hub == nil {
		c.JSON(http.StatusNotFound, gin.H{"code": "REALTIME_DISABLED", "error": "realtime updates are disabled"})
		return
	}
	h.hub.ServeWS(c.Writer, c.Request, owner(c))
}

func bind(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_BODY", "error": err.Error()})
		return false
	}
	return true
}

// fail writes err as JSON with the status its kind maps to. A partially
// recorded draw also reports which winners did make it.
func (h *HTTPHandler) fail(c *gin.Context, err error) {
	kind := apperrors.KindOf(err)
	status := statusFor(kind)
	body := gin.H{"code": "INTERNAL", "error": err.Error()}
	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		body["code"] = appErr.Code
		body["error"] = appErr.Message
	}

	var partial *draw.PartialCommitError
	if errors.As(err, &partial) {
		body["requested"] = partial.Requested
		body["committed"] = len(partial.Committed)
		body["winners"] = partial.Committed
	}

	if status >= http.StatusInternalServerError {
		logger.Errorf("handlers: %s %s owner %s: %v", c.Request.Method, c.FullPath(), owner(c), err)
	}
	c.JSON(status, body)
}

func statusFor(kind apperrors.Kind) int {
	switch kind {
	case apperrors.KindInvalidRequest:
		return http.StatusBadRequest
	case apperrors.KindNotFound:
		return http.StatusNotFound
	case apperrors.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
