package eri

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("taxdesk/eri")

// HTTPClient talks to the intermediary's REST endpoint. Transport security
// (mutual TLS, payload signing) is terminated by infrastructure in front of
// this process; this adapter owns only the request/response contract.
type HTTPClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewHTTPClient(baseURL, apiKey string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
	}
}

type fileRequest struct {
	FilingID       string          `json:"filingId"`
	PAN            string          `json:"pan"`
	AssessmentYear string          `json:"assessmentYear"`
	FormType       string          `json:"formType"`
	FilingData     json.RawMessage `json:"filingData"`
	SubmittedAt    string          `json:"submittedAt"`
}

type fileResponse struct {
	CorrelationID string `json:"correlationId"`
	ErrorCode     string `json:"errorCode"`
	ErrorMessage  string `json:"errorMessage"`
}

func (c *HTTPClient) FileReturn(ctx context.Context, sub Submission) (*FileResult, error) {
	ctx, span := tracer.Start(ctx, "eri.FileReturn", trace.WithAttributes(
		attribute.String("filing.id", sub.FilingID.String()),
		attribute.String("filing.assessment_year", sub.AssessmentYear),
	))
	defer span.End()

	body, err := json.Marshal(fileRequest{
		FilingID:       sub.FilingID.String(),
		PAN:            sub.TaxpayerPAN,
		AssessmentYear: sub.AssessmentYear,
		FormType:       sub.FormType,
		FilingData:     sub.Payload,
		SubmittedAt:    time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal file request: %w", err)
	}

	status, respBody, err := c.post(ctx, "/returns", body)
	if err != nil {
		return nil, Transient(err)
	}

	var resp fileResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, Transient(fmt.Errorf("invalid gateway response: %w", err))
	}

	switch {
	case status == http.StatusOK || status == http.StatusAccepted:
		if resp.CorrelationID == "" {
			return nil, Transient(fmt.Errorf("gateway accepted without correlation id"))
		}
		span.SetAttributes(attribute.String("eri.correlation_id", resp.CorrelationID))
		return &FileResult{Status: FileAccepted, CorrelationID: resp.CorrelationID}, nil
	case status >= 400 && status < 500:
		reason := resp.ErrorCode
		if resp.ErrorMessage != "" {
			reason = fmt.Sprintf("%s: %s", resp.ErrorCode, resp.ErrorMessage)
		}
		return &FileResult{Status: FileRejected, Reason: reason}, nil
	default:
		return nil, Transient(fmt.Errorf("gateway returned %d", status))
	}
}

type statusResponse struct {
	Status       string `json:"status"` // PENDING | ACKNOWLEDGED | REJECTED
	AckNumber    string `json:"acknowledgmentNumber"`
	ErrorCode    string `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
}

func (c *HTTPClient) CheckStatus(ctx context.Context, correlationID string) (*AckStatus, error) {
	ctx, span := tracer.Start(ctx, "eri.CheckStatus", trace.WithAttributes(
		attribute.String("eri.correlation_id", correlationID),
	))
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/returns/"+correlationID, nil)
	if err != nil {
		return nil, fmt.Errorf("build status request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	httpResp, err := c.http.Do(req)
	if err != nil {
		return nil, Transient(err)
	}
	defer httpResp.Body.Close()
	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, Transient(err)
	}
	if httpResp.StatusCode >= 500 {
		return nil, Transient(fmt.Errorf("gateway returned %d", httpResp.StatusCode))
	}

	var resp statusResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, Transient(fmt.Errorf("invalid status response: %w", err))
	}

	switch resp.Status {
	case "ACKNOWLEDGED":
		return &AckStatus{State: AckReceived, AckNumber: resp.AckNumber}, nil
	case "REJECTED":
		reason := resp.ErrorCode
		if resp.ErrorMessage != "" {
			reason = fmt.Sprintf("%s: %s", resp.ErrorCode, resp.ErrorMessage)
		}
		return &AckStatus{State: AckRejected, Reason: reason}, nil
	default:
		return &AckStatus{State: AckPending}, nil
	}
}

func (c *HTTPClient) post(ctx context.Context, path string, body []byte) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return 0, nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, respBody, nil
}
