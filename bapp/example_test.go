package bapp_test

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/advdv/bedge"
	"github.com/advdv/bedge/bapp"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type OrderEnv struct {
	bapp.BaseEnvironment
	OrdersTable   string `env:"ORDERS_TABLE,required"`
	PaymentSecret string `env:"PAYMENT_SECRET_ID,required"`
	PricingURL    string `env:"PRICING_URL,required"`
}

type OrderHandlers struct {
	rt     *bapp.Runtime[OrderEnv]
	dynamo *dynamodb.Client
	ssm    *bapp.Primary[ssm.Client]
}

func NewOrderHandlers(rt *bapp.Runtime[OrderEnv], dynamo *dynamodb.Client, ssm *bapp.Primary[ssm.Client]) *OrderHandlers {
	return &OrderHandlers{rt: rt, dynamo: dynamo, ssm: ssm}
}

// GetOrder answers once the pricing service did, from the goroutine that waited for it.
func (h *OrderHandlers) GetOrder(ctx context.Context, res *bedge.ResponseState, r *bedge.Request) error {
	id := r.Param("id")
	bapp.Log(ctx).Info("fetching order", zap.String("table", h.rt.Env().OrdersTable), zap.String("id", id))

	var price struct {
		Amount int `json:"amount"`
	}
	fetch := h.rt.NewRequest().
		BaseURL(h.rt.Env().PricingURL).
		Pathf("/prices/%s", id).
		ToJSON(&price)

	go func() {
		if err := fetch.Fetch(context.WithoutCancel(ctx)); err != nil {
			_ = res.SetStatus(http.StatusBadGateway)
			_ = res.Send(nil)
			return
		}

		self, _ := h.rt.Reverse("get-order", id)
		body, _ := json.Marshal(map[string]any{"id": id, "amount": price.Amount, "self": self})
		_ = res.ContentType("application/json")
		_ = res.Send(body)
	}()

	return nil
}

// Charge reads a field of a JSON secret on every call, so rotation needs no redeploy.
func (h *OrderHandlers) Charge(ctx context.Context, res *bedge.ResponseState, _ *bedge.Request) error {
	key, err := h.rt.Secret(ctx, h.rt.Env().PaymentSecret, "api.key")
	if err != nil {
		return err
	}

	bapp.Span(ctx).AddEvent("charging")
	_ = key

	if err := res.SetStatus(http.StatusAccepted); err != nil {
		return err
	}
	return res.Send(nil)
}

func Example() {
	bapp.NewApp[OrderEnv](
		func(m *bedge.ServeMux, h *OrderHandlers) {
			m.HandleFunc(http.MethodGet, "/orders/:id", h.GetOrder, "get-order")
			m.HandleFunc(http.MethodPost, "/orders/:id/charge", h.Charge)
		},
		bapp.WithAWSClient(func(cfg aws.Config) *dynamodb.Client {
			return dynamodb.NewFromConfig(cfg)
		}),
		bapp.WithAWSClient(func(cfg aws.Config) *bapp.Primary[ssm.Client] {
			return bapp.NewPrimary(ssm.NewFromConfig(cfg))
		}, bapp.ForPrimaryRegion()),
		bapp.WithFx(fx.Provide(NewOrderHandlers)),
	).Run()
}
