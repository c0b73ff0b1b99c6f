package api

import (
	"context"
	"net/http"
	"net/netip"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"netsentry/internal/server/storage"
	"netsentry/pkg/model"
)

const maxLimit = 2000

type LiveState interface {
	Snapshot() model.LiveMetrics
}

type SystemInfoProvider interface {
	Info(ctx context.Context) (model.SystemInfo, error)
}

type Responder interface {
	Reply(ctx context.Context, message string) string
}

// Handlers 只读：实时指标来自内存状态，其余列表来自存储。
// 存储出错时返回空列表而不是错误详情，前端始终拿到合法的数据。
type Handlers struct {
	store storage.Store
	state LiveState
	info  SystemInfoProvider
	chat  Responder
	log   *zap.Logger
}

func NewHandlers(store storage.Store, state LiveState, info SystemInfoProvider, chat Responder, log *zap.Logger) *Handlers {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handlers{store: store, state: state, info: info, chat: chat, log: log.With(zap.String("component", "api"))}
}

func (h *Handlers) Register(r gin.IRouter) {
	r.GET("/live-metrics", h.LiveMetrics)
	r.GET("/server-status", h.ServerStatus)
	r.GET("/system-info", h.SystemInfo)
	r.GET("/network-requests", h.NetworkRequests)
	r.GET("/network-requests/query", h.QueryByIP)
	r.GET("/threats", h.Threats)
	r.GET("/logs", h.Logs)
	r.GET("/metrics-history", h.MetricsHistory)
	r.POST("/chat", h.Chat)
}

func (h *Handlers) LiveMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, h.state.Snapshot())
}

func (h *Handlers) ServerStatus(c *gin.Context) {
	s := h.state.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"cpu_usage":    s.CPUUsage,
		"memory_usage": s.MemoryUsage,
		"disk_usage":   s.DiskUsage,
	})
}

func (h *Handlers) SystemInfo(c *gin.Context) {
	info, err := h.info.Info(c.Request.Context())
	if err != nil {
		h.log.Warn("读取主机信息失败", zap.Error(err))
	}
	c.JSON(http.StatusOK, info)
}

func (h *Handlers) NetworkRequests(c *gin.Context) {
	rows, err := h.store.RecentObservations(c.Request.Context(), parseLimit(c, 100))
	if err != nil {
		h.degraded(c, "observations", err)
	}
	c.JSON(http.StatusOK, nonNil(rows))
}

func (h *Handlers) QueryByIP(c *gin.Context) {
	addr, err := netip.ParseAddr(c.Query("ip"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "ip 参数非法"})
		return
	}
	rows, err := h.store.QueryByIP(c.Request.Context(), addr.Unmap().String(), parseLimit(c, 200))
	if err != nil {
		h.degraded(c, "observations", err)
	}
	c.JSON(http.StatusOK, nonNil(rows))
}

func (h *Handlers) Threats(c *gin.Context) {
	rows, err := h.store.RecentThreats(c.Request.Context(), parseLimit(c, 50))
	if err != nil {
		h.degraded(c, "threats", err)
	}
	c.JSON(http.StatusOK, nonNil(rows))
}

func (h *Handlers) Logs(c *gin.Context) {
	rows, err := h.store.RecentLogs(c.Request.Context(), parseLimit(c, 50))
	if err != nil {
		h.degraded(c, "logs", err)
	}
	c.JSON(http.StatusOK, nonNil(rows))
}

func (h *Handlers) MetricsHistory(c *gin.Context) {
	rows, err := h.store.RecentMetrics(c.Request.Context(), parseLimit(c, 100))
	if err != nil {
		h.degraded(c, "metrics", err)
	}
	c.JSON(http.StatusOK, nonNil(rows))
}

type chatRequest struct {
	Message string `json:"message"`
}

func (h *Handlers) Chat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "JSON 解析失败"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"response": h.chat.Reply(c.Request.Context(), req.Message)})
}

func (h *Handlers) degraded(c *gin.Context, table string, err error) {
	h.log.Error("查询失败，返回空列表", zap.String("table", table), zap.String("path", c.FullPath()), zap.Error(err))
}

func parseLimit(c *gin.Context, def int) int {
	if raw := c.Query("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 && v <= maxLimit {
			return v
		}
	}
	return def
}

// nonNil 保证空结果序列化为 [] 而不是 null
func nonNil[T any](rows []T) []T {
	if rows == nil {
		return []T{}
	}
	return rows
}
