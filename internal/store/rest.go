package store

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"kmc-indicators/internal/models"
)

// RestStore reads from a document database exposing the Firestore REST API.
// Time filtering happens server side; hospital scoping is applied on the
// decoded documents because hospital references are stored inconsistently
// (reference values in newer records, bare ids in older ones).
type RestStore struct {
	httpClient *resty.Client
	baseURL    string
	// docPrefix is the resource path of the documents root, used to build
	// reference values.
	docPrefix string
	logger    *zap.Logger
}

// NewRestStore creates a client for baseURL, which must end at the database
// documents root, e.g. https://host/v1/projects/p/databases/(default)/documents.
func NewRestStore(baseURL, token string, timeout time.Duration, retries int, logger *zap.Logger) *RestStore {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(retries).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if token != "" {
		client.SetAuthToken(token)
	}
	baseURL = strings.TrimSuffix(baseURL, "/")
	s := &RestStore{httpClient: client, baseURL: baseURL, logger: logger}
	if i := strings.Index(baseURL, "/v1/"); i >= 0 {
		s.docPrefix = baseURL[i+len("/v1/"):]
	}
	return s
}

type runQueryRequest struct {
	StructuredQuery structuredQuery `json:"structuredQuery"`
}

type structuredQuery struct {
	From    []collectionSelector `json:"from"`
	Where   *filter              `json:"where,omitempty"`
	OrderBy []order              `json:"orderBy,omitempty"`
}

type collectionSelector struct {
	CollectionID string `json:"collectionId"`
}

type fieldRef struct {
	FieldPath string `json:"fieldPath"`
}

type filter struct {
	CompositeFilter *compositeFilter `json:"compositeFilter,omitempty"`
	FieldFilter     *fieldFilter     `json:"fieldFilter,omitempty"`
}

type compositeFilter struct {
	Op      string   `json:"op"`
	Filters []filter `json:"filters"`
}

type fieldFilter struct {
	Field fieldRef  `json:"field"`
	Op    string    `json:"op"`
	Value wireValue `json:"value"`
}

type order struct {
	Field     fieldRef `json:"field"`
	Direction string   `json:"direction,omitempty"`
}

type runQueryResult struct {
	Document *wireDocument `json:"document,omitempty"`
	ReadTime string        `json:"readTime,omitempty"`
}

func buildQuery(collection string, tr TimeRange) runQueryRequest {
	q := structuredQuery{
		From:    []collectionSelector{{CollectionID: collection}},
		OrderBy: []order{{Field: fieldRef{FieldPath: "__name__"}, Direction: "ASCENDING"}},
	}
	field := models.TimeField(collection)
	var filters []filter
	if field != "" && !tr.From.IsZero() {
		filters = append(filters, timeFilter(field, "GREATER_THAN_OR_EQUAL", tr.From))
	}
	if field != "" && !tr.To.IsZero() {
		filters = append(filters, timeFilter(field, "LESS_THAN", tr.To))
	}
	switch len(filters) {
	case 0:
	case 1:
		q.Where = &filters[0]
	default:
		q.Where = &filter{CompositeFilter: &compositeFilter{Op: "AND", Filters: filters}}
	}
	if len(filters) > 0 {
		// Firestore requires the inequality field to lead the ordering.
		q.OrderBy = append([]order{{Field: fieldRef{FieldPath: field}, Direction: "ASCENDING"}}, q.OrderBy...)
	}
	return runQueryRequest{StructuredQuery: q}
}

func timeFilter(field, op string, t time.Time) filter {
	s := t.UTC().Format(time.RFC3339Nano)
	return filter{FieldFilter: &fieldFilter{
		Field: fieldRef{FieldPath: field},
		Op:    op,
		Value: wireValue{TimestampValue: &s},
	}}
}

// Fetch issues one runQuery call; its results come from a single read time.
func (s *RestStore) Fetch(ctx context.Context, collection string, scope []string, tr TimeRange) ([]*models.Document, error) {
	all, err := s.runQuery(ctx, collection, buildQuery(collection, tr))
	if err != nil {
		return nil, err
	}
	docs := make([]*models.Document, 0, len(all))
	for _, d := range all {
		if Matches(d, scope, TimeRange{}) {
			docs = append(docs, d)
		}
	}
	SortDocuments(docs)

	s.logger.Debug("Fetched documents",
		zap.String("collection", collection),
		zap.Strings("scope", scope),
		zap.Int("count", len(docs)),
	)
	return docs, nil
}

// inLimit is the most values a Firestore IN filter accepts. Each baby takes
// two: its reference form and its bare-id form.
const inLimit = 30

// FetchByBaby issues one runQuery per batch of babies, so unlike Fetch its
// result may span several read times.
func (s *RestStore) FetchByBaby(ctx context.Context, collection string, babyIDs []string) ([]*models.Document, error) {
	var docs []*models.Document
	for start := 0; start < len(babyIDs); start += inLimit / 2 {
		end := start + inLimit/2
		if end > len(babyIDs) {
			end = len(babyIDs)
		}
		batch, err := s.runQuery(ctx, collection, s.buildBabyQuery(collection, babyIDs[start:end]))
		if err != nil {
			return nil, err
		}
		docs = append(docs, OfBabies(batch, babyIDs[start:end])...)
	}
	SortDocuments(docs)

	s.logger.Debug("Fetched documents by baby",
		zap.String("collection", collection),
		zap.Int("babies", len(babyIDs)),
		zap.Int("count", len(docs)),
	)
	return docs, nil
}

func (s *RestStore) buildBabyQuery(collection string, babyIDs []string) runQueryRequest {
	values := make([]wireValue, 0, 2*len(babyIDs))
	for _, id := range babyIDs {
		ref := joinPath(s.docPrefix, models.CollectionBabies, id)
		bare := id
		values = append(values, wireValue{ReferenceValue: &ref}, wireValue{StringValue: &bare})
	}
	return runQueryRequest{StructuredQuery: structuredQuery{
		From: []collectionSelector{{CollectionID: collection}},
		Where: &filter{FieldFilter: &fieldFilter{
			Field: fieldRef{FieldPath: "idBaby"},
			Op:    "IN",
			Value: wireValue{ArrayValue: &wireArray{Values: values}},
		}},
		OrderBy: []order{{Field: fieldRef{FieldPath: "__name__"}, Direction: "ASCENDING"}},
	}}
}

func (s *RestStore) runQuery(ctx context.Context, collection string, req runQueryRequest) ([]*models.Document, error) {
	var results []runQueryResult
	resp, err := s.httpClient.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&results).
		Post(s.baseURL + ":runQuery")
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", collection, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("query %s: unexpected status %d: %s", collection, resp.StatusCode(), resp.String())
	}

	docs := make([]*models.Document, 0, len(results))
	for _, r := range results {
		if r.Document == nil {
			continue
		}
		d, err := fromWire(*r.Document)
		if err != nil {
			return nil, fmt.Errorf("query %s: %w", collection, err)
		}
		if d.Collection == collection {
			docs = append(docs, d)
		}
	}
	return docs, nil
}

func (s *RestStore) Lookup(ctx context.Context, ref models.Ref) (*models.Document, error) {
	resp, err := s.httpClient.R().
		SetContext(ctx).
		SetPathParams(map[string]string{"collection": ref.Collection, "id": ref.ID}).
		Get("/{collection}/{id}")
	if err != nil {
		return nil, fmt.Errorf("failed to look up %s: %w", ref, err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if resp.IsError() {
		return nil, fmt.Errorf("look up %s: unexpected status %d", ref, resp.StatusCode())
	}
	var w wireDocument
	if err := json.Unmarshal(resp.Body(), &w); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s: %w", ref, err)
	}
	return fromWire(w)
}
