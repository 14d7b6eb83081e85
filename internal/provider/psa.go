package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"slab-scout/internal/domain"
	"slab-scout/internal/metrics"

	"github.com/PaesslerAG/jsonpath"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	psaBaseURL = "https://api.psacard.com/publicapi"
	psaService = "psa"
)

var (
	certFormat   = regexp.MustCompile(`^\d{7,9}$`)
	specIDFormat = regexp.MustCompile(`^\d{1,12}$`)
	gradeNumber  = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*$`)
)

// Upstream fields that may carry the card image, in preference order.
var certImagePaths = []string{
	"$.PSACert.ImageURL",
	"$.PSACert.FrontImageURL",
	"$.PSACert.Images[0].ImageURL",
	"$.ImageURL",
	"$.Images[0].ImageURL",
}

// IsCertFormat reports whether v is a 7-9 digit cert number.
func IsCertFormat(v string) bool {
	return certFormat.MatchString(v)
}

// IsSpecIDFormat reports whether v is a numeric spec id.
func IsSpecIDFormat(v string) bool {
	return specIDFormat.MatchString(v)
}

// PSAClient fetches certification records and population reports.
type PSAClient struct {
	client  *http.Client
	baseURL string
	token   string
	tracer  trace.Tracer
	retry   RetryPolicy
	metrics *metrics.Metrics
}

type PSAOption func(*PSAClient)

func WithPSAHTTPClient(client *http.Client) PSAOption {
	return func(p *PSAClient) {
		p.client = client
	}
}

func WithPSARetryPolicy(policy RetryPolicy) PSAOption {
	return func(p *PSAClient) {
		p.retry = policy
	}
}

func WithPSAMetrics(m *metrics.Metrics) PSAOption {
	return func(p *PSAClient) {
		p.metrics = m
	}
}

// NewPSAClient creates a client. An empty token sends unauthenticated requests.
func NewPSAClient(tracer trace.Tracer, baseURL, token string, opts ...PSAOption) *PSAClient {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = psaBaseURL
	}
	p := &PSAClient{
		client:  &http.Client{Timeout: 15 * time.Second},
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   strings.TrimSpace(token),
		tracer:  tracer,
		retry:   DefaultRetryPolicy(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.retry.OnRetry == nil {
		p.retry.OnRetry = func(attempt int, delay time.Duration, err error) {
			p.metrics.Retry(psaService)
			slog.Warn("psa rate limited, backing off", "attempt", attempt, "delay", delay)
		}
	}
	return p
}

// FetchCert returns the certification record, or nil, nil when the cert does
// not exist upstream.
func (p *PSAClient) FetchCert(ctx context.Context, certNumber string) (*domain.CertificationRecord, error) {
	ctx, span := p.tracer.Start(ctx, "psa.fetch-cert")
	defer span.End()

	certNumber = strings.TrimSpace(certNumber)
	span.SetAttributes(attribute.String("cert.number", certNumber))
	if !IsCertFormat(certNumber) {
		return nil, &domain.ValidationError{Field: "cert number", Value: certNumber, Reason: "must be 7-9 digits"}
	}

	u := fmt.Sprintf("%s/cert/GetByCertNumber/%s", p.baseURL, url.PathEscape(certNumber))
	body, found, err := p.get(ctx, u)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch cert failed")
		return nil, fmt.Errorf("fetch cert %s: %w", certNumber, err)
	}
	if !found {
		span.SetAttributes(attribute.Bool("cert.found", false))
		return nil, nil
	}

	cert, err := parseCert(certNumber, body)
	if err != nil {
		return nil, fmt.Errorf("parse cert %s: %w", certNumber, err)
	}
	span.SetAttributes(attribute.Bool("cert.found", cert != nil))
	return cert, nil
}

// FetchPopulation returns the population report for specID, or nil, nil
// when the spec does not exist upstream.
func (p *PSAClient) FetchPopulation(ctx context.Context, specID string) (*domain.PopulationReport, error) {
	ctx, span := p.tracer.Start(ctx, "psa.fetch-population")
	defer span.End()

	specID = strings.TrimSpace(specID)
	span.SetAttributes(attribute.String("spec.id", specID))
	if !IsSpecIDFormat(specID) {
		return nil, &domain.ValidationError{Field: "spec id", Value: specID, Reason: "must be numeric"}
	}

	u := fmt.Sprintf("%s/pop/GetPSASpecPopulation/%s", p.baseURL, url.PathEscape(specID))
	body, found, err := p.get(ctx, u)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch population failed")
		return nil, fmt.Errorf("fetch population %s: %w", specID, err)
	}
	if !found {
		return nil, nil
	}

	report, err := parsePopulation(specID, body)
	if err != nil {
		return nil, fmt.Errorf("parse population %s: %w", specID, err)
	}
	return report, nil
}

// get performs a GET under the retry policy. found is false on HTTP 404.
func (p *PSAClient) get(ctx context.Context, u string) ([]byte, bool, error) {
	var (
		body  []byte
		found bool
	)
	attempts, err := p.retry.Do(ctx, func(ctx context.Context) error {
		b, status, err := p.doRequest(ctx, u)
		if err != nil {
			p.metrics.Upstream(psaService, "error")
			return err
		}
		p.metrics.UpstreamStatus(psaService, status)

		switch {
		case status == http.StatusNotFound:
			found = false
			return nil
		case status == http.StatusTooManyRequests:
			return &domain.RateLimitedError{Service: psaService}
		case status < 200 || status > 299:
			return &domain.UpstreamError{Service: psaService, StatusCode: status, Body: truncate(string(b), 512)}
		}
		body = b
		found = true
		return nil
	})
	if err != nil {
		var rl *domain.RateLimitedError
		if errors.As(err, &rl) {
			rl.Attempts = attempts
		}
		return nil, false, err
	}
	return body, found, nil
}

func (p *PSAClient) doRequest(ctx context.Context, u string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Accept", "application/json")
	if p.token != "" {
		req.Header.Set("Authorization", "bearer "+p.token)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read response: %w", err)
	}
	return body, resp.StatusCode, nil
}

type psaCertPayload struct {
	PSACert *struct {
		CertNumber                   string      `json:"CertNumber"`
		SpecID                       json.Number `json:"SpecID"`
		Year                         string      `json:"Year"`
		Brand                        string      `json:"Brand"`
		Category                     string      `json:"Category"`
		CardNumber                   string      `json:"CardNumber"`
		Subject                      string      `json:"Subject"`
		Variety                      string      `json:"Variety"`
		CardGrade                    string      `json:"CardGrade"`
		GradeDescription             string      `json:"GradeDescription"`
		TotalPopulation              json.Number `json:"TotalPopulation"`
		TotalPopulationWithQualifier json.Number `json:"TotalPopulationWithQualifier"`
		PopulationHigher             json.Number `json:"PopulationHigher"`
	} `json:"PSACert"`
}

// parseCert normalizes the upstream payload. A 200 response without a cert
// body is treated as not found.
func parseCert(certNumber string, body []byte) (*domain.CertificationRecord, error) {
	var payload psaCertPayload
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&payload); err != nil {
		return nil, err
	}
	if payload.PSACert == nil || strings.TrimSpace(payload.PSACert.CertNumber) == "" {
		return nil, nil
	}
	c := payload.PSACert

	cert := &domain.CertificationRecord{
		CertNumber:       strings.TrimSpace(c.CertNumber),
		Subject:          strings.TrimSpace(c.Subject),
		Brand:            strings.TrimSpace(c.Brand),
		CardNumber:       strings.TrimSpace(c.CardNumber),
		Grade:            normalizeGrade(c.CardGrade, c.GradeDescription),
		GradeDescription: strings.TrimSpace(firstNonEmpty(c.GradeDescription, c.CardGrade)),
		Variety:          strings.TrimSpace(c.Variety),
		Year:             strings.TrimSpace(c.Year),
		Category:         strings.TrimSpace(c.Category),
		Population: domain.PopulationStats{
			Total:              asInt(c.TotalPopulation),
			TotalWithQualifier: asInt(c.TotalPopulationWithQualifier),
			Higher:             asInt(c.PopulationHigher),
		},
	}
	if cert.CertNumber == "" {
		cert.CertNumber = certNumber
	}
	if id, err := c.SpecID.Int64(); err == nil && id > 0 {
		cert.SpecID = &id
	}

	var raw any
	if err := json.Unmarshal(body, &raw); err == nil {
		if img := extractImageURL(raw); img != "" {
			cert.ImageURL = &img
		}
	}
	return cert, nil
}

func extractImageURL(raw any) string {
	for _, path := range certImagePaths {
		v, err := jsonpath.Get(path, raw)
		if err != nil {
			continue
		}
		if list, ok := v.([]any); ok {
			if len(list) == 0 {
				continue
			}
			v = list[0]
		}
		if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

// normalizeGrade reduces labels such as "GEM MT 10" to "10".
func normalizeGrade(candidates ...string) string {
	for _, c := range candidates {
		c = strings.TrimSpace(c)
		if m := gradeNumber.FindStringSubmatch(c); m != nil {
			return m[1]
		}
	}
	return strings.TrimSpace(firstNonEmpty(candidates...))
}

func parsePopulation(specID string, body []byte) (*domain.PopulationReport, error) {
	var payload struct {
		SpecID      json.Number    `json:"SpecID"`
		Description string         `json:"Description"`
		PSAPop      map[string]any `json:"PSAPop"`
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&payload); err != nil {
		return nil, err
	}
	if len(payload.PSAPop) == 0 {
		return nil, nil
	}

	report := &domain.PopulationReport{
		Description: strings.TrimSpace(payload.Description),
		Grades:      make(map[string]int),
	}
	if id, err := payload.SpecID.Int64(); err == nil && id > 0 {
		report.SpecID = id
	} else if id, err := strconv.ParseInt(specID, 10, 64); err == nil {
		report.SpecID = id
	}

	keys := make([]string, 0, len(payload.PSAPop))
	for k := range payload.PSAPop {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		n := asInt(payload.PSAPop[k])
		switch {
		case strings.EqualFold(k, "Total"):
			report.Total = n
		case strings.EqualFold(k, "Higher"):
			report.Higher = n
		case strings.HasPrefix(k, "Grade"):
			grade := strings.ToLower(strings.TrimPrefix(k, "Grade"))
			report.Grades[grade] = n
			if strings.HasSuffix(grade, "q") {
				report.TotalWithQualifier += n
			}
		case strings.EqualFold(k, "Auth"):
			report.Grades["auth"] = n
		}
	}
	if report.Total == 0 {
		for _, n := range report.Grades {
			report.Total += n
		}
	}
	return report, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
