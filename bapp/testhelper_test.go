package bapp_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"testing"

	"github.com/advdv/bedge"
	"github.com/advdv/bedge/bapp"
	"github.com/advdv/bedge/bapp/bapptest"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// TestEnv is a test environment with app-specific fields beyond BaseEnvironment.
type TestEnv struct {
	bapp.BaseEnvironment
	MainTableName string `env:"MAIN_TABLE_NAME,required"`
	BucketName    string `env:"BUCKET_NAME,required"`
	QueueURL      string `env:"QUEUE_URL,required"`
}

// setTestEnv sets the base env vars and the TestEnv-specific ones.
func setTestEnv(t *testing.T, port int) *bapptest.Env {
	t.Helper()
	env := bapptest.SetBaseEnv(t, port)
	t.Setenv("MAIN_TABLE_NAME", "test-table")
	t.Setenv("BUCKET_NAME", "test-bucket")
	t.Setenv("QUEUE_URL", "test-queue")
	return env
}

// regionTestEnv is a minimal test environment with only BaseEnvironment fields.
type regionTestEnv struct {
	bapp.BaseEnvironment
}

func sendJSON(res *bedge.ResponseState, status int, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if err := res.ContentType("application/json"); err != nil {
		return err
	}
	if err := res.SetStatus(status); err != nil {
		return err
	}
	return res.Send(body)
}

// Handlers demonstrates direct fx injection of AWS clients.
type Handlers struct {
	rt     *bapp.Runtime[TestEnv]
	dynamo *dynamodb.Client
	s3     *s3.Client
	sqs    *sqs.Client
}

func NewHandlers(rt *bapp.Runtime[TestEnv], dynamo *dynamodb.Client, s3 *s3.Client, sqs *sqs.Client) *Handlers {
	return &Handlers{rt: rt, dynamo: dynamo, s3: s3, sqs: sqs}
}

func (h *Handlers) TestContext(ctx context.Context, res *bedge.ResponseState, _ *bedge.Request) error {
	env := h.rt.Env()

	itemURL, err := h.rt.Reverse("get-item", "test-123")
	if err != nil {
		return err
	}

	bapp.Span(ctx).AddEvent("context-test")
	bapp.Log(ctx).Info("testing context features")

	return sendJSON(res, http.StatusOK, map[string]any{
		"env": map[string]string{
			"table":        env.MainTableName,
			"bucket":       env.BucketName,
			"queue":        env.QueueURL,
			"service_name": env.ServiceName,
		},
		"span_valid":   bapp.Span(ctx).SpanContext().IsValid(),
		"request_id":   bapp.RequestID(ctx),
		"reversed_url": itemURL,
	})
}

func (h *Handlers) TestAWS(ctx context.Context, res *bedge.ResponseState, _ *bedge.Request) error {
	bapp.Log(ctx).Info("testing AWS clients")

	return sendJSON(res, http.StatusOK, map[string]bool{
		"dynamo": h.dynamo != nil,
		"s3":     h.s3 != nil,
		"sqs":    h.sqs != nil,
	})
}

func (h *Handlers) CreateItem(ctx context.Context, res *bedge.ResponseState, r *bedge.Request) error {
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return bedge.NewError(bedge.CodeBadRequest, err)
	}

	bapp.Span(ctx).AddEvent("creating-item")
	bapp.Log(ctx).Info("creating item")

	return sendJSON(res, http.StatusCreated, map[string]any{
		"id":    "item-123",
		"table": h.rt.Env().MainTableName,
		"data":  body,
	})
}

func (h *Handlers) GetItem(ctx context.Context, res *bedge.ResponseState, r *bedge.Request) error {
	id := r.Param("id")
	selfURL, _ := h.rt.Reverse("get-item", id)

	bapp.Log(ctx).Info("getting item")

	return sendJSON(res, http.StatusOK, map[string]any{
		"id":       id,
		"table":    h.rt.Env().MainTableName,
		"self_url": selfURL,
	})
}

// Slow completes its response from another goroutine.
func (h *Handlers) Slow(_ context.Context, res *bedge.ResponseState, _ *bedge.Request) error {
	go func() { _ = res.Send([]byte("done")) }()
	return nil
}

// MultiRegionHandlers demonstrates all three AWS client injection patterns.
type MultiRegionHandlers struct {
	dynamo *dynamodb.Client
	ssm    *bapp.Primary[ssm.Client]
	s3     *bapp.InRegion[s3.Client]
}

func NewMultiRegionHandlers(
	dynamo *dynamodb.Client,
	ssm *bapp.Primary[ssm.Client],
	s3 *bapp.InRegion[s3.Client],
) *MultiRegionHandlers {
	return &MultiRegionHandlers{dynamo: dynamo, ssm: ssm, s3: s3}
}

func (h *MultiRegionHandlers) TestClients(_ context.Context, res *bedge.ResponseState, _ *bedge.Request) error {
	return sendJSON(res, http.StatusOK, map[string]any{
		"dynamo_exists":   h.dynamo != nil,
		"ssm_exists":      h.ssm != nil && h.ssm.Client != nil,
		"s3_exists":       h.s3 != nil && h.s3.Client != nil,
		"s3_fixed_region": h.s3.Region,
	})
}

// doGet performs an HTTP GET with the given context.
func doGet(ctx context.Context, client *http.Client, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	return client.Do(req)
}

// doPost performs an HTTP POST with the given context and content type.
func doPost(ctx context.Context, client *http.Client, url, contentType string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)
	return client.Do(req)
}

func decodeJSON[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()

	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	return v
}
