// Package http 对账引擎 HTTP 接口层
package http

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/feastops/reconciliation/internal/reconciliation/application"
	"github.com/feastops/reconciliation/internal/reconciliation/domain"
	"github.com/feastops/reconciliation/pkg/logger"
	"github.com/feastops/reconciliation/pkg/response"
)

// ReconciliationHandler 对账 HTTP 处理器
type ReconciliationHandler struct {
	aggregator  *application.AggregatorSyncService
	settlements *application.SettlementSyncService
	tax         *application.TaxReportService
	daily       *application.DailySalesService
	export      *application.ExportService
}

// NewReconciliationHandler 创建 HTTP 处理器实例
func NewReconciliationHandler(
	aggregator *application.AggregatorSyncService,
	settlements *application.SettlementSyncService,
	tax *application.TaxReportService,
	daily *application.DailySalesService,
	export *application.ExportService,
) *ReconciliationHandler {
	return &ReconciliationHandler{
		aggregator:  aggregator,
		settlements: settlements,
		tax:         tax,
		daily:       daily,
		export:      export,
	}
}

// RegisterRoutes 注册路由
func (h *ReconciliationHandler) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api/v1/reconciliation")
	{
		api.POST("/aggregator-orders/sync", h.SyncAggregatorOrders)
		api.POST("/aggregator-orders/auto-match", h.AutoMatch)
		api.POST("/settlements/sync", h.SyncSettlements)
		api.GET("/settlements", h.ListSettlements)
		api.GET("/aggregator-mismatches", h.ListMismatches)
		api.POST("/aggregator-mismatches/:id/resolve", h.ResolveMismatch)
		api.GET("/reports/daily-sales", h.DailySales)
		api.GET("/reports/monthly-gst", h.MonthlyGST)
		api.GET("/reports/export", h.Export)
	}
}

type syncAggregatorRequest struct {
	TenantID string                               `json:"tenant_id" binding:"required"`
	Source   string                               `json:"source" binding:"required"`
	Orders   []application.AggregatorOrderPayload `json:"orders" binding:"required"`
}

// SyncAggregatorOrders 摄入聚合平台订单批次
// 部分失败仍返回 200，失败明细在 errors 数组中
func (h *ReconciliationHandler) SyncAggregatorOrders(c *gin.Context) {
	var req syncAggregatorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, err.Error())
		return
	}

	source := domain.Source(req.Source)
	if !source.Valid() {
		response.ErrorWithStatus(c, http.StatusBadRequest, "unsupported source: "+req.Source)
		return
	}

	records, errs := h.aggregator.SyncOrders(c.Request.Context(), req.TenantID, source, req.Orders)
	response.Success(c, gin.H{
		"records": records,
		"errors":  errs,
	})
}

type autoMatchRequest struct {
	TenantID string `json:"tenant_id" binding:"required"`
	Source   string `json:"source"`
}

// AutoMatch 触发 PENDING 记录的自动匹配扫描
func (h *ReconciliationHandler) AutoMatch(c *gin.Context) {
	var req autoMatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, err.Error())
		return
	}

	source := domain.Source(req.Source)
	if req.Source != "" && !source.Valid() {
		response.ErrorWithStatus(c, http.StatusBadRequest, "unsupported source: "+req.Source)
		return
	}

	result, err := h.aggregator.AutoMatch(c.Request.Context(), req.TenantID, source)
	if err != nil {
		logger.Error(c.Request.Context(), "Auto match failed", "tenant_id", req.TenantID, "error", err)
		response.ErrorWithStatus(c, http.StatusInternalServerError, err.Error())
		return
	}
	response.Success(c, result)
}

type syncSettlementsRequest struct {
	TenantID    string                          `json:"tenant_id" binding:"required"`
	Settlements []application.SettlementPayload `json:"settlements" binding:"required"`
}

// SyncSettlements 摄入结算批次
func (h *ReconciliationHandler) SyncSettlements(c *gin.Context) {
	var req syncSettlementsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, err.Error())
		return
	}

	records, errs := h.settlements.SyncSettlements(c.Request.Context(), req.TenantID, req.Settlements)
	response.Success(c, gin.H{
		"records": records,
		"errors":  errs,
	})
}

// ListSettlements 查询结算批次
func (h *ReconciliationHandler) ListSettlements(c *gin.Context) {
	tenantID := c.Query("tenant_id")
	if tenantID == "" {
		response.ErrorWithStatus(c, http.StatusBadRequest, "tenant_id is required")
		return
	}

	filter := domain.SettlementFilter{
		TenantID: tenantID,
		Status:   domain.ParseSettlementStatus(c.Query("status")),
	}
	var ok bool
	if filter.StartDate, filter.EndDate, ok = parseDateRange(c); !ok {
		return
	}
	page, pageSize, ok := parsePagination(c)
	if !ok {
		return
	}

	result, err := h.settlements.ListSettlements(c.Request.Context(), filter, page, pageSize)
	if err != nil {
		logger.Error(c.Request.Context(), "Failed to list settlements", "tenant_id", tenantID, "error", err)
		response.ErrorWithStatus(c, http.StatusInternalServerError, err.Error())
		return
	}
	response.Success(c, result)
}

// ListMismatches 查询差异记录
func (h *ReconciliationHandler) ListMismatches(c *gin.Context) {
	tenantID := c.Query("tenant_id")
	if tenantID == "" {
		response.ErrorWithStatus(c, http.StatusBadRequest, "tenant_id is required")
		return
	}

	filter := domain.AggregatorRecordFilter{
		TenantID: tenantID,
		Source:   domain.Source(c.Query("source")),
		Status:   domain.ParseMatchStatus(c.Query("status")),
	}
	if filter.Source != "" && !filter.Source.Valid() {
		response.ErrorWithStatus(c, http.StatusBadRequest, "unsupported source: "+string(filter.Source))
		return
	}
	var ok bool
	if filter.StartDate, filter.EndDate, ok = parseDateRange(c); !ok {
		return
	}
	page, pageSize, ok := parsePagination(c)
	if !ok {
		return
	}

	result, err := h.aggregator.ListMismatches(c.Request.Context(), filter, page, pageSize)
	if err != nil {
		logger.Error(c.Request.Context(), "Failed to list mismatches", "tenant_id", tenantID, "error", err)
		response.ErrorWithStatus(c, http.StatusInternalServerError, err.Error())
		return
	}
	response.Success(c, result)
}

type resolveMismatchRequest struct {
	ActorID string `json:"actor_id" binding:"required"`
	Notes   string `json:"notes"`
}

// ResolveMismatch 人工核销差异记录
func (h *ReconciliationHandler) ResolveMismatch(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, "invalid id")
		return
	}

	var req resolveMismatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, err.Error())
		return
	}

	record, err := h.aggregator.ResolveMismatch(c.Request.Context(), uint(id), req.ActorID, req.Notes)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			response.ErrorWithStatus(c, http.StatusNotFound, "mismatch record not found")
		case errors.Is(err, domain.ErrNotResolvable):
			response.ErrorWithStatus(c, http.StatusBadRequest, "record is pending, run matching before resolving")
		default:
			logger.Error(c.Request.Context(), "Failed to resolve mismatch", "id", id, "error", err)
			response.ErrorWithStatus(c, http.StatusInternalServerError, err.Error())
		}
		return
	}
	response.Success(c, record)
}

// DailySales 日销售报表
func (h *ReconciliationHandler) DailySales(c *gin.Context) {
	tenantID := c.Query("tenant_id")
	if tenantID == "" {
		response.ErrorWithStatus(c, http.StatusBadRequest, "tenant_id is required")
		return
	}
	date, err := time.Parse("2006-01-02", c.Query("date"))
	if err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}

	report, err := h.daily.GetDailySales(c.Request.Context(), tenantID, date)
	if err != nil {
		logger.Error(c.Request.Context(), "Failed to compute daily sales", "tenant_id", tenantID, "error", err)
		response.ErrorWithStatus(c, http.StatusInternalServerError, err.Error())
		return
	}
	response.Success(c, report)
}

// MonthlyGST 月度 GST 报表
func (h *ReconciliationHandler) MonthlyGST(c *gin.Context) {
	tenantID := c.Query("tenant_id")
	if tenantID == "" {
		response.ErrorWithStatus(c, http.StatusBadRequest, "tenant_id is required")
		return
	}
	month, err := strconv.Atoi(c.Query("month"))
	if err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, "invalid month")
		return
	}
	year, err := strconv.Atoi(c.Query("year"))
	if err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, "invalid year")
		return
	}

	report, err := h.tax.GetMonthlyReport(c.Request.Context(), tenantID, month, year)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidPayload) {
			response.ErrorWithStatus(c, http.StatusBadRequest, err.Error())
			return
		}
		logger.Error(c.Request.Context(), "Failed to compute tax report", "tenant_id", tenantID, "error", err)
		response.ErrorWithStatus(c, http.StatusInternalServerError, err.Error())
		return
	}
	response.Success(c, report)
}

// Export 导出 CSV 报表附件
func (h *ReconciliationHandler) Export(c *gin.Context) {
	tenantID := c.Query("tenant_id")
	if tenantID == "" {
		response.ErrorWithStatus(c, http.StatusBadRequest, "tenant_id is required")
		return
	}
	reportType := c.Query("type")
	if reportType == "" {
		response.ErrorWithStatus(c, http.StatusBadRequest, "type is required")
		return
	}

	q := application.ExportQuery{
		TenantID: tenantID,
		Source:   domain.Source(c.Query("source")),
		Status:   c.Query("status"),
	}
	if v := c.Query("date"); v != "" {
		date, err := time.Parse("2006-01-02", v)
		if err != nil {
			response.ErrorWithStatus(c, http.StatusBadRequest, "date must be YYYY-MM-DD")
			return
		}
		q.Date = date
	}
	if v := c.Query("month"); v != "" {
		q.Month, _ = strconv.Atoi(v)
	}
	if v := c.Query("year"); v != "" {
		q.Year, _ = strconv.Atoi(v)
	}
	var ok bool
	if q.StartDate, q.EndDate, ok = parseDateRange(c); !ok {
		return
	}

	content, err := h.export.ExportCSV(c.Request.Context(), reportType, q)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidPayload) {
			response.ErrorWithStatus(c, http.StatusBadRequest, err.Error())
			return
		}
		logger.Error(c.Request.Context(), "Export failed", "tenant_id", tenantID, "type", reportType, "error", err)
		response.ErrorWithStatus(c, http.StatusInternalServerError, err.Error())
		return
	}

	filename := reportType + "-" + time.Now().UTC().Format("20060102") + ".csv"
	c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
	c.Data(http.StatusOK, "text/csv; charset=utf-8", []byte(content))
}

func parseDateRange(c *gin.Context) (start, end *time.Time, ok bool) {
	if v := c.Query("start_date"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			response.ErrorWithStatus(c, http.StatusBadRequest, "start_date must be YYYY-MM-DD")
			return nil, nil, false
		}
		start = &t
	}
	if v := c.Query("end_date"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			response.ErrorWithStatus(c, http.StatusBadRequest, "end_date must be YYYY-MM-DD")
			return nil, nil, false
		}
		// end_date 为含当日语义，查询区间为半开区间
		t = t.AddDate(0, 0, 1)
		end = &t
	}
	return start, end, true
}

func parsePagination(c *gin.Context) (page, pageSize int, ok bool) {
	var err error
	if page, err = strconv.Atoi(c.DefaultQuery("page", "1")); err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, "invalid page")
		return 0, 0, false
	}
	if pageSize, err = strconv.Atoi(c.DefaultQuery("page_size", "20")); err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, "invalid page_size")
		return 0, 0, false
	}
	return page, pageSize, true
}
