package handler

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/xxxsen/capa/internal/model"
	appErr "github.com/xxxsen/capa/internal/pkg/errors"
	"github.com/xxxsen/capa/internal/pkg/response"
	"github.com/xxxsen/capa/internal/service"
)

type ReportHandler struct {
	reports *service.ReportService
}

func NewReportHandler(reports *service.ReportService) *ReportHandler {
	return &ReportHandler{reports: reports}
}

func (h *ReportHandler) Generate(c *gin.Context) {
	fields, err := readFields(c)
	if err != nil {
		handleError(c, err)
		return
	}
	imageID, err := stringField(fields, "image_id")
	if err != nil {
		handleError(c, fmt.Errorf("%w: %s", appErr.ErrInvalid, err.Error()))
		return
	}
	failureMode, err := stringField(fields, "failure_mode")
	if err != nil {
		handleError(c, fmt.Errorf("%w: %s", appErr.ErrInvalid, err.Error()))
		return
	}
	confidence, err := service.NormalizeConfidence(fields["confidence"])
	if err != nil {
		handleError(c, err)
		return
	}
	report, err := h.reports.Generate(c.Request.Context(), service.GenerateReportInput{
		ImageID:     imageID,
		FailureMode: failureMode,
		Confidence:  confidence,
	})
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"report_id": report.ReportID, "report": report})
}

func (h *ReportHandler) Get(c *gin.Context) {
	report, err := h.reports.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	switch c.Query("format") {
	case "", "json":
		response.Success(c, report)
	case "md", "markdown":
		c.Data(http.StatusOK, "text/markdown; charset=utf-8", []byte(service.RenderReportMarkdown(report)))
	case "html":
		html, err := service.RenderReportHTML(report)
		if err != nil {
			handleError(c, err)
			return
		}
		c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(html))
	default:
		response.Error(c, http.StatusBadRequest, "format must be json, md or html")
	}
}

func (h *ReportHandler) List(c *gin.Context) {
	filter := model.ReportFilter{FailureMode: c.Query("failure_mode")}
	if v := c.Query("seed"); v != "" {
		seed, err := strconv.ParseBool(v)
		if err != nil {
			response.Error(c, http.StatusBadRequest, "seed must be a boolean")
			return
		}
		filter.Seed = &seed
	}
	limit, err := parseUintQuery(c, "limit")
	if err != nil {
		response.Error(c, http.StatusBadRequest, err.Error())
		return
	}
	offset, err := parseUintQuery(c, "offset")
	if err != nil {
		response.Error(c, http.StatusBadRequest, err.Error())
		return
	}
	filter.Limit = limit
	filter.Offset = offset
	reports, err := h.reports.List(c.Request.Context(), filter)
	if err != nil {
		handleError(c, err)
		return
	}
	if reports == nil {
		reports = []model.Report{}
	}
	response.Success(c, gin.H{"reports": reports})
}

func parseUintQuery(c *gin.Context, key string) (uint, error) {
	v := c.Query(key)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.ParseUint(v, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%s must be a non-negative integer", key)
	}
	return uint(n), nil
}
