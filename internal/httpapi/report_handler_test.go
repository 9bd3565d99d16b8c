package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"kmc-indicators/internal/aggregator"
	"kmc-indicators/internal/indicators"
	"kmc-indicators/internal/models"
	"kmc-indicators/internal/store"
)

var monday = time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)

func newTestRouter(t *testing.T) *Router {
	t.Helper()
	st := store.NewMemoryStore()
	st.Put(
		models.NewDocument(models.CollectionHospitals, "h1", 1).
			Set("hospitalName", models.String("District Hospital")).
			Set("utcOffsetMinutes", models.Number(0)),
		models.NewDocument(models.CollectionBabies, "b1", 1).
			Set("hospitalID", models.String("h1")).
			Set("birthDate", models.Timestamp(monday.Add(6*time.Hour))),
		models.NewDocument(models.CollectionKmcSessions, "k1", 1).
			Set("idBaby", models.String("b1")).
			Set("hospitalID", models.String("h1")).
			Set("kmcStart", models.Timestamp(monday.Add(8*time.Hour))).
			Set("kmcEnd", models.Timestamp(monday.Add(9*time.Hour))),
		models.NewDocument(models.CollectionKmcSessions, "k-orphan", 1).
			Set("idBaby", models.String("ghost")).
			Set("hospitalID", models.String("h1")).
			Set("kmcStart", models.Timestamp(monday.Add(8*time.Hour))),
	)
	engine := aggregator.NewEngine(st, indicators.DefaultSettings(), zap.NewNop(),
		aggregator.WithClock(func() time.Time { return monday.AddDate(0, 0, 14) }))

	r := NewRouter(zap.NewNop())
	r.RegisterReportRoutes(NewReportHandler(engine, zap.NewNop()))
	return r
}

func get(r http.Handler, url string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, url, nil))
	return rec
}

func TestGetReport(t *testing.T) {
	rec := get(newTestRouter(t), "/api/v1/reports?hospitals=h1&from=2024-03-04&to=2024-03-10")
	require.Equal(t, http.StatusOK, rec.Code)

	var body Result[aggregator.Report]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, ResultSuccess, body.Code)
	require.Contains(t, body.Result.Hospitals, "h1")
	w := body.Result.Hospitals["h1"].Weeks["2024-W10"]
	require.Len(t, w.Dose.Days, 1)
	assert.Equal(t, 60.0, w.Dose.Days[0].Minutes)
	assert.Equal(t, 1, body.Result.DataQuality.Counts[models.FlagOrphanedBabyRef])
}

func TestGetReport_PinnedAsOf(t *testing.T) {
	rec := get(newTestRouter(t), "/api/v1/reports?hospitals=h1&from=2024-03-04&to=2024-03-10&as_of=2024-03-05T12:00:00Z")
	require.Equal(t, http.StatusOK, rec.Code)

	var body Result[aggregator.Report]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, ResultSuccess, body.Code)
	assert.True(t, body.Result.AsOf.Equal(time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC)))
}

func TestGetReport_BadParams(t *testing.T) {
	r := newTestRouter(t)
	for _, url := range []string{
		"/api/v1/reports?hospitals=h1",
		"/api/v1/reports?from=2024-03-10&to=2024-03-04",
		"/api/v1/reports?from=03/04/2024&to=2024-03-10",
		"/api/v1/reports?from=2024-03-04&to=2024-03-10&as_of=soon",
	} {
		rec := get(r, url)
		var body Result[any]
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), url)
		assert.Equal(t, ResultError, body.Code, url)
		assert.NotEmpty(t, body.Message, url)
	}

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/reports", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestGetDataQuality(t *testing.T) {
	rec := get(newTestRouter(t), "/api/v1/data-quality?hospitals=h1&from=2024-03-04&to=2024-03-10&flag=orphaned_baby_ref")

	var body Result[[]models.Issue]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, ResultSuccess, body.Code)
	require.Len(t, body.Result, 1)
	assert.Equal(t, "k-orphan", body.Result[0].DocumentID)
	assert.True(t, body.Result[0].Excluded)
}

func TestExportReport(t *testing.T) {
	rec := get(newTestRouter(t), "/api/v1/reports/export?hospitals=h1&from=2024-03-04&to=2024-03-10")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "kmc-indicators-20240304-20240310.xlsx")

	f, err := excelize.OpenReader(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows("Indicators")
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

type failingEngine struct{}

func (failingEngine) ComputeAsOf(ctx context.Context, scope []string, dr aggregator.DateRange, asOf time.Time) (*aggregator.Run, error) {
	return nil, errors.New("every hospital failed")
}

func TestGetReport_EngineError(t *testing.T) {
	r := NewRouter(zap.NewNop())
	r.RegisterReportRoutes(NewReportHandler(failingEngine{}, zap.NewNop()))

	rec := get(r, "/api/v1/reports?from=2024-03-04&to=2024-03-10")
	var body Result[any]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, ResultError, body.Code)
	assert.Equal(t, "every hospital failed", body.Message)
}
