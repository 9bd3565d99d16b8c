package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"kmc-indicators/internal/aggregator"
	"kmc-indicators/internal/export"
	"kmc-indicators/internal/models"
)

// ReportEngine computes reports. *aggregator.Engine implements it.
type ReportEngine interface {
	ComputeAsOf(ctx context.Context, scope []string, dr aggregator.DateRange, asOf time.Time) (*aggregator.Run, error)
}

// ReportHandler serves reports and their data-quality records.
type ReportHandler struct {
	engine ReportEngine
	logger *zap.Logger
}

func NewReportHandler(engine ReportEngine, logger *zap.Logger) *ReportHandler {
	return &ReportHandler{engine: engine, logger: logger}
}

// run parses ?hospitals=a,b&from=YYYY-MM-DD&to=YYYY-MM-DD[&as_of=...] and
// computes. It writes the failure response itself and returns nil in that
// case.
func (h *ReportHandler) run(w http.ResponseWriter, r *http.Request) *aggregator.Run {
	q := r.URL.Query()
	if q.Get("from") == "" || q.Get("to") == "" {
		writeJSON(w, http.StatusOK, Fail("from and to parameters are required (YYYY-MM-DD)"))
		return nil
	}
	dr, err := aggregator.ParseDateRange(q.Get("from"), q.Get("to"))
	if err != nil {
		writeJSON(w, http.StatusOK, Fail(err.Error()))
		return nil
	}
	asOf, err := aggregator.ParseAsOf(q.Get("as_of"))
	if err != nil {
		writeJSON(w, http.StatusOK, Fail(err.Error()))
		return nil
	}
	scope := splitList(q.Get("hospitals"))

	run, err := h.engine.ComputeAsOf(r.Context(), scope, dr, asOf)
	if err != nil {
		h.logger.Error("Report computation failed",
			zap.Strings("hospitals", scope),
			zap.String("from", q.Get("from")),
			zap.String("to", q.Get("to")),
			zap.Error(err),
		)
		writeJSON(w, http.StatusOK, Fail(err.Error()))
		return nil
	}
	return run
}

// GetReport handles GET /api/v1/reports.
func (h *ReportHandler) GetReport(w http.ResponseWriter, r *http.Request) {
	run := h.run(w, r)
	if run == nil {
		return
	}
	writeJSON(w, http.StatusOK, Ok(run.Report))
}

// GetDataQuality handles GET /api/v1/data-quality.
func (h *ReportHandler) GetDataQuality(w http.ResponseWriter, r *http.Request) {
	run := h.run(w, r)
	if run == nil {
		return
	}
	issues := run.Issues
	if flag := r.URL.Query().Get("flag"); flag != "" {
		filtered := []models.Issue{}
		for _, is := range issues {
			if string(is.Flag) == flag {
				filtered = append(filtered, is)
			}
		}
		issues = filtered
	}
	if issues == nil {
		issues = []models.Issue{}
	}
	writeJSON(w, http.StatusOK, Ok(issues))
}

// ExportReport handles GET /api/v1/reports/export.
func (h *ReportHandler) ExportReport(w http.ResponseWriter, r *http.Request) {
	run := h.run(w, r)
	if run == nil {
		return
	}
	data, err := export.ReportWorkbook(run.Report, run.Issues)
	if err != nil {
		h.logger.Error("ReportWorkbook failed", zap.String("run_id", run.ID), zap.Error(err))
		writeJSON(w, http.StatusOK, Fail(fmt.Sprintf("failed to generate export: %v", err)))
		return
	}
	filename := fmt.Sprintf("kmc-indicators-%s-%s.xlsx",
		run.Report.Range.From.Format("20060102"), run.Report.Range.To.Format("20060102"))

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", "attachment; filename="+filename)
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}
