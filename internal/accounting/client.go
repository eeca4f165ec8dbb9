package accounting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"freight-ledger/internal/core"
)

// PartyPayload identifies one side of a pushed invoice.
type PartyPayload struct {
	Kind string `json:"kind"`
	ID   int    `json:"id"`
	Name string `json:"name"`
}

type LinePayload struct {
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Subtotal    decimal.Decimal `json:"subtotal"`
}

// InvoicePayload is the document the accounting system receives.
type InvoicePayload struct {
	Number      string          `json:"number"`
	Date        string          `json:"date"`
	DueDate     string          `json:"due_date"`
	Direction   core.Direction  `json:"direction"`
	Issuer      PartyPayload    `json:"issuer"`
	Recipient   PartyPayload    `json:"recipient"`
	Total       decimal.Decimal `json:"total"`
	ExternalRef string          `json:"external_ref,omitempty"`
	Lines       []LinePayload   `json:"lines"`
}

// BuildPayload maps an invoice and its two parties to the wire document.
func BuildPayload(inv core.Invoice, issuer, recipient core.Party, operatingCompanyID int) InvoicePayload {
	p := InvoicePayload{
		Number:    inv.Number,
		Date:      inv.Date.Format("2006-01-02"),
		DueDate:   inv.DueDate.Format("2006-01-02"),
		Direction: inv.Direction(operatingCompanyID),
		Issuer:    PartyPayload{Kind: string(issuer.Kind), ID: issuer.ID, Name: issuer.Name},
		Recipient: PartyPayload{Kind: string(recipient.Kind), ID: recipient.ID, Name: recipient.Name},
		Total:     inv.Total,
		Lines:     make([]LinePayload, 0, len(inv.Items)),
	}
	if inv.ExternalRef != nil {
		p.ExternalRef = *inv.ExternalRef
	}
	for _, it := range inv.Items {
		p.Lines = append(p.Lines, LinePayload{
			Description: it.Description,
			Quantity:    it.Quantity,
			UnitPrice:   it.UnitPrice,
			Subtotal:    it.Subtotal,
		})
	}
	return p
}

// Client pushes invoices to the external accounting system and returns the
// id it assigned.
type Client interface {
	PushInvoice(ctx context.Context, payload InvoicePayload) (string, error)
}

// HTTPError is a non-2xx answer from the accounting API.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("accounting api error %d: %s", e.StatusCode, e.Body)
}

type HTTPClient struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewHTTPClient(baseURL, token string, timeout time.Duration) (*HTTPClient, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, errors.New("accounting base url is empty")
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: timeout},
	}, nil
}

type pushResponse struct {
	ID string `json:"id"`
}

// PushInvoice posts the payload to <base>/invoices.
func (c *HTTPClient) PushInvoice(ctx context.Context, payload InvoicePayload) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to encode invoice %s: %w", payload.Number, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/invoices", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to push invoice %s: %w", payload.Number, err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &HTTPError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}

	var parsed pushResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("failed to parse accounting response: %w", err)
	}
	if parsed.ID == "" {
		return "", errors.New("accounting response carries no id")
	}
	return parsed.ID, nil
}
