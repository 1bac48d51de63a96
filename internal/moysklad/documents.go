package moysklad

import (
	"context"
	"fmt"
)

// Document is the common shape of created paymentin/cashin/customerorder
// responses.
type Document struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Meta Meta   `json:"meta"`
}

// PaymentParams describes an incoming payment document. Sum is in UZS;
// MoySklad stores money in hundredths (tiyin), the conversion happens here.
type PaymentParams struct {
	Organization Meta
	Agent        Meta
	SalesChannel Meta
	SumUZS       int64
	DateISO      string // YYYY-MM-DD
	TimeHMS      string // HH:MM:SS, defaults to 00:00:00
	Description  string
}

func (p *PaymentParams) moment() string {
	t := p.TimeHMS
	if t == "" {
		t = "00:00:00"
	}
	return p.DateISO + " " + t
}

func (p *PaymentParams) payload() map[string]any {
	m := map[string]any{
		"organization": MetaRef{Meta: p.Organization},
		"agent":        MetaRef{Meta: p.Agent},
		"sum":          p.SumUZS * 100,
		"moment":       p.moment(),
		"description":  p.Description,
		// Drafts: the accountant approves documents manually.
		"applicable": false,
	}
	if p.SalesChannel.Href != "" {
		m["salesChannel"] = MetaRef{Meta: p.SalesChannel}
	}
	return m
}

func (p *PaymentParams) validate() error {
	if p.SumUZS <= 0 {
		return fmt.Errorf("moysklad: payment sum must be positive, got %d", p.SumUZS)
	}
	if p.DateISO == "" {
		return fmt.Errorf("moysklad: payment date is required")
	}
	return nil
}

// CreatePaymentIn creates a draft "входящий платёж" (card payment).
func (c *Client) CreatePaymentIn(ctx context.Context, p PaymentParams) (*Document, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	var doc Document
	if err := c.post(ctx, "/entity/paymentin", p.payload(), &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// CreateCashIn creates a draft "приходный ордер" (cash payment).
func (c *Client) CreateCashIn(ctx context.Context, p PaymentParams) (*Document, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	var doc Document
	if err := c.post(ctx, "/entity/cashin", p.payload(), &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// OrderPosition is one line of a customer order. Price is in UZS.
type OrderPosition struct {
	Assortment Meta
	Quantity   float64
	PriceUZS   int64
}

// OrderParams describes a customer order document.
type OrderParams struct {
	Organization Meta
	Agent        Meta
	SalesChannel *Meta
	Moment       string // "YYYY-MM-DD HH:MM:SS"
	Description  string
	Positions    []OrderPosition
}

// CreateCustomerOrder creates a draft customer order.
func (c *Client) CreateCustomerOrder(ctx context.Context, p OrderParams) (*Document, error) {
	payload := map[string]any{
		"organization": MetaRef{Meta: p.Organization},
		"agent":        MetaRef{Meta: p.Agent},
		"moment":       p.Moment,
		"description":  p.Description,
		"applicable":   false,
	}
	if p.SalesChannel != nil {
		payload["salesChannel"] = MetaRef{Meta: *p.SalesChannel}
	}
	if len(p.Positions) > 0 {
		positions := make([]map[string]any, 0, len(p.Positions))
		for _, pos := range p.Positions {
			positions = append(positions, map[string]any{
				"assortment": MetaRef{Meta: pos.Assortment},
				"quantity":   pos.Quantity,
				"price":      pos.PriceUZS * 100,
			})
		}
		payload["positions"] = positions
	}
	var doc Document
	if err := c.post(ctx, "/entity/customerorder", payload, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}
