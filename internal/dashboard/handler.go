// Package dashboard serves the operator web UI: detection control, the live
// annotated frame, the running log and the reconciled store view.
package dashboard

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"anpr-pipeline/internal/domain/anpr"
	"anpr-pipeline/internal/ledger"
	"anpr-pipeline/internal/pipeline"
	"anpr-pipeline/internal/remote"
)

//go:embed static/index.html
var static embed.FS

const exportFilename = "data.csv"

// Controller is the part of the frame loop the dashboard drives.
type Controller interface {
	Start(ctx context.Context) error
	Stop() error
	Reset() error
	State() pipeline.State
	Err() error
	Stats() pipeline.LoopStats
}

type ForwardStatser interface {
	Stats() remote.ForwardStats
}

type RecordView interface {
	Refresh(ctx context.Context) ([]anpr.RemoteRecord, error)
	Rows() []remote.Row
	RefreshedAt() time.Time
}

type Handler struct {
	loop      Controller
	ledger    *ledger.Ledger
	forwarder ForwardStatser
	records   RecordView
	feed      *Feed
	hub       *Hub
	load      LoadFunc
	log       zerolog.Logger
}

func NewHandler(
	loop Controller,
	l *ledger.Ledger,
	forwarder ForwardStatser,
	records RecordView,
	feed *Feed,
	hub *Hub,
	log zerolog.Logger,
) *Handler {
	return &Handler{
		loop:      loop,
		ledger:    l,
		forwarder: forwarder,
		records:   records,
		feed:      feed,
		hub:       hub,
		load:      CPULoad,
		log:       log,
	}
}

func (h *Handler) Register(r *gin.Engine) {
	r.GET("/", h.index)
	r.GET("/ws", h.hub.Serve)

	api := r.Group("/api/v1")
	{
		api.GET("/status", h.status)
		api.GET("/stats", h.stats)
		api.GET("/frame.jpg", h.frame)

		api.GET("/detection", h.detection)
		api.POST("/detection/start", h.startDetection)
		api.POST("/detection/stop", h.stopDetection)

		api.GET("/readings", h.listReadings)
		api.GET("/readings/export", h.exportReadings)

		api.GET("/records", h.listRecords)
		api.POST("/records/refresh", h.refreshRecords)
	}
}

func (h *Handler) index(c *gin.Context) {
	page, err := static.ReadFile("static/index.html")
	if err != nil {
		h.log.Error().Err(err).Msg("failed to read dashboard page")
		c.JSON(http.StatusInternalServerError, errorResponse("internal error"))
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", page)
}

// StatusLine mirrors the operator status panel.
type StatusLine struct {
	Camera  string              `json:"camera"`
	Store   string              `json:"store"`
	Clients int                 `json:"clients"`
	Load    *float64            `json:"load,omitempty"`
	Loop    pipeline.LoopStats  `json:"loop"`
	Forward remote.ForwardStats `json:"forward"`
}

func (h *Handler) status(c *gin.Context) {
	fwd := h.forwarder.Stats()
	line := StatusLine{
		Camera:  "offline",
		Store:   "unknown",
		Clients: h.hub.Clients(),
		Loop:    h.loop.Stats(),
		Forward: fwd,
	}
	if h.loop.State() == pipeline.StateRunning {
		line.Camera = "online"
	}
	if fwd.Attempted {
		line.Store = "unreachable"
		if fwd.Connected {
			line.Store = "connected"
		}
	}
	if load, err := h.load(c.Request.Context()); err != nil {
		h.log.Debug().Err(err).Msg("cpu load unavailable")
	} else {
		line.Load = &load
	}
	c.JSON(http.StatusOK, successResponse(line))
}

func (h *Handler) stats(c *gin.Context) {
	c.JSON(http.StatusOK, successResponse(h.ledger.Stats()))
}

func (h *Handler) frame(c *gin.Context) {
	var buf bytes.Buffer
	ok, err := h.feed.WriteJPEG(&buf)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to encode frame")
		c.JSON(http.StatusInternalServerError, errorResponse("internal error"))
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, errorResponse("no frame yet"))
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "image/jpeg", buf.Bytes())
}

type detectionResponse struct {
	pipeline.LoopStats
	Error string `json:"error,omitempty"`
}

func (h *Handler) detectionState() detectionResponse {
	resp := detectionResponse{LoopStats: h.loop.Stats()}
	if err := h.loop.Err(); err != nil {
		resp.Error = err.Error()
	}
	return resp
}

func (h *Handler) detection(c *gin.Context) {
	c.JSON(http.StatusOK, successResponse(h.detectionState()))
}

// startDetection also restarts a stopped loop; each start acquires a fresh
// session.
func (h *Handler) startDetection(c *gin.Context) {
	if h.loop.State() == pipeline.StateStopped {
		if err := h.loop.Reset(); err != nil && !errors.Is(err, pipeline.ErrInvalidTransition) {
			h.handleError(c, err)
			return
		}
	}

	if err := h.loop.Start(c.Request.Context()); err != nil {
		if errors.Is(err, pipeline.ErrInvalidTransition) {
			c.JSON(http.StatusConflict, errorResponse(err.Error()))
			return
		}
		h.log.Error().Err(err).Msg("failed to start detection")
		c.JSON(http.StatusServiceUnavailable, errorResponse("failed to start detection: "+err.Error()))
		return
	}

	c.JSON(http.StatusOK, successResponse(h.detectionState()))
}

func (h *Handler) stopDetection(c *gin.Context) {
	if err := h.loop.Stop(); err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse(h.detectionState()))
}

func (h *Handler) listReadings(c *gin.Context) {
	var readings []anpr.PlateReading
	if q := strings.TrimSpace(c.Query("q")); q != "" {
		readings = h.ledger.Search(q)
	} else {
		readings = h.ledger.Readings()
	}
	if readings == nil {
		readings = []anpr.PlateReading{}
	}
	c.JSON(http.StatusOK, successResponse(readings))
}

func (h *Handler) exportReadings(c *gin.Context) {
	var buf bytes.Buffer
	if err := h.ledger.WriteCSV(&buf); err != nil {
		h.log.Error().Err(err).Msg("failed to export readings")
		c.JSON(http.StatusInternalServerError, errorResponse("internal error"))
		return
	}
	c.Header("Content-Disposition", `attachment; filename="`+exportFilename+`"`)
	c.Data(http.StatusOK, "text/csv; charset=utf-8", buf.Bytes())
}

type recordsResponse struct {
	Rows        []remote.Row `json:"rows"`
	RefreshedAt *time.Time   `json:"refreshed_at,omitempty"`
}

func (h *Handler) recordsView() recordsResponse {
	resp := recordsResponse{Rows: h.records.Rows()}
	if at := h.records.RefreshedAt(); !at.IsZero() {
		resp.RefreshedAt = &at
	}
	return resp
}

func (h *Handler) listRecords(c *gin.Context) {
	c.JSON(http.StatusOK, successResponse(h.recordsView()))
}

// refreshRecords reports a failed fetch as a notice; the current view is
// kept and returned alongside.
func (h *Handler) refreshRecords(c *gin.Context) {
	if _, err := h.records.Refresh(c.Request.Context()); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{
			"error": "failed to fetch records from store",
			"data":  h.recordsView(),
		})
		return
	}

	view := h.recordsView()
	h.hub.Broadcast(Event{Type: "records", Data: view})
	c.JSON(http.StatusOK, successResponse(view))
}

func (h *Handler) handleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, pipeline.ErrInvalidTransition):
		c.JSON(http.StatusConflict, errorResponse(err.Error()))
	default:
		h.log.Error().Err(err).Msg("handler error")
		c.JSON(http.StatusInternalServerError, errorResponse("internal error"))
	}
}

func successResponse(data interface{}) gin.H {
	return gin.H{
		"data": data,
	}
}

func errorResponse(message string) gin.H {
	return gin.H{
		"error": message,
	}
}
