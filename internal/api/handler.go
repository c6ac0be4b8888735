package api

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/ducminhle1904/virtual-autotrader/internal/engine"
	"github.com/ducminhle1904/virtual-autotrader/internal/logger"
	"github.com/ducminhle1904/virtual-autotrader/internal/signal"
	"github.com/ducminhle1904/virtual-autotrader/internal/strategy"
	"github.com/ducminhle1904/virtual-autotrader/pkg/reporting"
)

const maxSignalBody = 1 << 20

type Handler struct {
	Engine *engine.Engine
	Log    *logger.Logger
}

func (h *Handler) Register(r *gin.Engine) {
	g := r.Group("/api")
	g.GET("/status", h.status)
	g.GET("/history", h.history)
	g.GET("/journal", h.journal)
	g.GET("/journal/export", h.exportJournal)
	g.GET("/strategies", h.strategies)

	g.POST("/engine/enable", h.enable)
	g.POST("/engine/disable", h.disable)
	g.POST("/detector", h.detector)
	g.POST("/strategy/select", h.selectStrategy)
	g.POST("/strategy/confirm", h.confirmStrategy)
	g.POST("/strategy/cancel", h.cancelStrategy)
	g.POST("/balance", h.balance)
	g.POST("/positions/:id/close", h.closePosition)
	g.POST("/prices/refresh", h.refreshPrices)
	g.POST("/signals", h.signals)
}

func (h *Handler) status(c *gin.Context) {
	Ok(c, h.Engine.Snapshot(), nil)
}

func (h *Handler) history(c *gin.Context) {
	entries := h.Engine.History()
	Ok(c, entries, map[string]any{"count": len(entries)})
}

func (h *Handler) journal(c *gin.Context) {
	trades := h.Engine.Journal()
	Ok(c, trades, map[string]any{"count": len(trades)})
}

func (h *Handler) exportJournal(c *gin.Context) {
	buf, err := reporting.JournalXLSX(h.Engine.Journal(), h.Engine.Snapshot().Account)
	if err != nil {
		Error(c, http.StatusInternalServerError, err.Error(), nil)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="journal.xlsx"`)
	c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", buf.Bytes())
}

func (h *Handler) strategies(c *gin.Context) {
	Ok(c, strategy.All(), nil)
}

func (h *Handler) enable(c *gin.Context) {
	if err := h.Engine.Enable(c.Request.Context()); err != nil {
		Fail(c, err)
		return
	}
	Ok(c, h.Engine.Snapshot(), nil)
}

func (h *Handler) disable(c *gin.Context) {
	if err := h.Engine.Disable(c.Request.Context()); err != nil {
		Fail(c, err)
		return
	}
	Ok(c, h.Engine.Snapshot(), nil)
}

type detectorRequest struct {
	Active *bool `json:"active" binding:"required"`
}

func (h *Handler) detector(c *gin.Context) {
	var req detectorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "body must be {\"active\": true|false}", nil)
		return
	}
	if err := h.Engine.SetDetectorActive(c.Request.Context(), *req.Active); err != nil {
		Fail(c, err)
		return
	}
	Ok(c, h.Engine.Snapshot(), nil)
}

type strategyRequest struct {
	Strategy string `json:"strategy" binding:"required"`
}

func (h *Handler) selectStrategy(c *gin.Context) {
	var req strategyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "body must be {\"strategy\": \"conservative\"|\"aggressive\"}", nil)
		return
	}
	kind, err := strategy.ParseKind(req.Strategy)
	if err != nil {
		Fail(c, err)
		return
	}
	if err := h.Engine.SelectStrategy(kind); err != nil {
		Fail(c, err)
		return
	}
	Ok(c, h.Engine.Snapshot(), nil)
}

func (h *Handler) confirmStrategy(c *gin.Context) {
	active, err := h.Engine.ConfirmStrategy(c.Request.Context())
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, active, nil)
}

func (h *Handler) cancelStrategy(c *gin.Context) {
	h.Engine.CancelStrategyChange()
	Ok(c, h.Engine.Snapshot(), nil)
}

type balanceRequest struct {
	Amount *float64 `json:"amount" binding:"required"`
}

func (h *Handler) balance(c *gin.Context) {
	var req balanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "body must be {\"amount\": number}", nil)
		return
	}
	if err := h.Engine.SetBalance(c.Request.Context(), *req.Amount); err != nil {
		Fail(c, err)
		return
	}
	Ok(c, h.Engine.Snapshot().Account, nil)
}

func (h *Handler) closePosition(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	trade, err := h.Engine.ClosePosition(c.Request.Context(), id)
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, trade, nil)
}

func (h *Handler) refreshPrices(c *gin.Context) {
	updated := h.Engine.RefreshPrices()
	Ok(c, h.Engine.Snapshot().Positions, map[string]any{"updated": updated})
}

// signals accepts one signal or an array, as the detector sends them
func (h *Handler) signals(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxSignalBody))
	if err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	sigs, err := signal.Decode(body)
	if err != nil {
		Error(c, http.StatusBadRequest, fmt.Sprintf("invalid signal payload: %v", err), nil)
		return
	}

	decisions := make([]signal.Decision, 0, len(sigs))
	for _, sig := range sigs {
		decisions = append(decisions, h.Engine.Submit(c.Request.Context(), sig))
	}
	Ok(c, decisions, map[string]any{"count": len(decisions)})
}
