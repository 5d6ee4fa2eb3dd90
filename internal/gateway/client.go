package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Gateway описывает операции платёжного шлюза, которые нужны движку
// расчётов. Реальные списания и выплаты происходят на стороне шлюза,
// движок узнаёт об их итогах через webhook.
type Gateway interface {
	// CreateCharge создаёт списание с клиента для пополнения эскроу.
	// Возвращает ссылку шлюза (gateway_ref), по которой потом придёт webhook.
	CreateCharge(ctx context.Context, engagementID, payerID uuid.UUID, amount float64, currency string) (string, error)
	// CreatePayout инициирует выплату фрилансеру.
	CreatePayout(ctx context.Context, recipientID uuid.UUID, amount float64, currency string) (string, error)
	// Refund инициирует возврат клиенту.
	Refund(ctx context.Context, engagementID uuid.UUID, amount float64, currency string) (string, error)
}

// Client реализует Gateway поверх HTTP API платёжного провайдера.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type chargeResponse struct {
	Ref    string `json:"ref"`
	Status string `json:"status"`
}

// CreateCharge создаёт списание. Шлюз подтвердит его асинхронно.
func (c *Client) CreateCharge(ctx context.Context, engagementID, payerID uuid.UUID, amount float64, currency string) (string, error) {
	payload := map[string]any{
		"amount":   amount,
		"currency": currency,
		"payer_id": payerID.String(),
		"metadata": map[string]string{
			"engagement_id": engagementID.String(),
			"kind":          "escrow_funding",
		},
	}
	var resp chargeResponse
	if err := c.post(ctx, "charges", payload, &resp); err != nil {
		return "", err
	}
	return resp.Ref, nil
}

// CreatePayout инициирует выплату фрилансеру.
func (c *Client) CreatePayout(ctx context.Context, recipientID uuid.UUID, amount float64, currency string) (string, error) {
	payload := map[string]any{
		"amount":       amount,
		"currency":     currency,
		"recipient_id": recipientID.String(),
	}
	var resp chargeResponse
	if err := c.post(ctx, "payouts", payload, &resp); err != nil {
		return "", err
	}
	return resp.Ref, nil
}

// Refund инициирует возврат средств клиенту.
func (c *Client) Refund(ctx context.Context, engagementID uuid.UUID, amount float64, currency string) (string, error) {
	payload := map[string]any{
		"amount":   amount,
		"currency": currency,
		"metadata": map[string]string{
			"engagement_id": engagementID.String(),
			"kind":          "refund",
		},
	}
	var resp chargeResponse
	if err := c.post(ctx, "refunds", payload, &resp); err != nil {
		return "", err
	}
	return resp.Ref, nil
}

// post выполняет HTTP запрос к шлюзу.
func (c *Client) post(ctx context.Context, path string, payload any, out any) error {
	if c.baseURL == "" {
		return fmt.Errorf("gateway: baseURL не задан")
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	url := c.baseURL
	if !strings.HasSuffix(url, "/") {
		url += "/"
	}
	url += path

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("gateway: запрос %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errorBody map[string]any
		_ = json.NewDecoder(resp.Body).Decode(&errorBody)
		return fmt.Errorf("gateway: код ответа %d: %v", resp.StatusCode, errorBody)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("gateway: декодирование ответа %s: %w", path, err)
		}
	}
	return nil
}
