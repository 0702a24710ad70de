package shippingclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/go-resty/resty/v2"
)

// JSON ответ сервиса стоимости доставки
type CostAnswer struct {
	Order string `json:"order"`
	Cost  string `json:"cost"`
}

var (
	ErrNotFound        = errors.New("shipping cost not known")
	ErrTooManyRequests = errors.New("shipping service rate limit")
)

type ShippingClient interface {
	GetCost(ctx context.Context, platformOrderID string) (CostAnswer, error)
}

type shippingClient struct {
	serviceAddr string
	client      *resty.Client
}

func NewShippingClient(serviceAddr string) ShippingClient {
	return shippingClient{serviceAddr: serviceAddr, client: resty.New()}
}

func (c shippingClient) GetCost(ctx context.Context, platformOrderID string) (CostAnswer, error) {
	path := "/api/shipping/"

	setreq := c.client.R().SetContext(ctx)
	setreq.Method = http.MethodGet
	setreq.URL = c.serviceAddr + path + url.PathEscape(platformOrderID)
	setresp, err := setreq.Send()
	if err != nil {
		return CostAnswer{}, err
	}

	switch setresp.StatusCode() {
	case http.StatusOK:
		var answer CostAnswer
		err = json.Unmarshal(setresp.Body(), &answer)
		return answer, err
	case http.StatusNoContent, http.StatusNotFound:
		return CostAnswer{}, ErrNotFound
	case http.StatusTooManyRequests:
		return CostAnswer{}, ErrTooManyRequests
	default:
		return CostAnswer{}, fmt.Errorf("shipping request status: %d", setresp.StatusCode())
	}
}
