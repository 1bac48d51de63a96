package moysklad

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"skladbot/internal/parse"
)

// Meta is the MoySklad object reference every relation is expressed with.
type Meta struct {
	Href      string `json:"href"`
	Type      string `json:"type"`
	MediaType string `json:"mediaType,omitempty"`
}

// MetaRef wraps a Meta for request payloads: {"meta": {...}}.
type MetaRef struct {
	Meta Meta `json:"meta"`
}

// Organization is the selling legal entity.
type Organization struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Meta Meta   `json:"meta"`
}

// Counterparty is a customer record.
type Counterparty struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Phone string `json:"phone,omitempty"`
	Meta  Meta   `json:"meta"`
}

// SalesChannel is a configured sales channel.
type SalesChannel struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Meta Meta   `json:"meta"`
}

type rowsResponse[T any] struct {
	Rows []T `json:"rows"`
}

// DefaultOrganization returns the account's first organization. MoySklad
// accounts used by the bot have exactly one.
func (c *Client) DefaultOrganization(ctx context.Context) (*Organization, error) {
	var resp rowsResponse[Organization]
	params := url.Values{"limit": {"1"}}
	if err := c.get(ctx, "/entity/organization", params, &resp); err != nil {
		return nil, err
	}
	if len(resp.Rows) == 0 {
		return nil, fmt.Errorf("moysklad: no organization configured")
	}
	return &resp.Rows[0], nil
}

// SalesChannels lists configured sales channels.
func (c *Client) SalesChannels(ctx context.Context, limit int) ([]SalesChannel, error) {
	if limit <= 0 {
		limit = 50
	}
	var resp rowsResponse[SalesChannel]
	params := url.Values{"limit": {strconv.Itoa(limit)}}
	if err := c.get(ctx, "/entity/saleschannel", params, &resp); err != nil {
		return nil, err
	}
	return resp.Rows, nil
}

// FindCounterpartyByPhone looks a counterparty up by phone digits.
// Returns nil, nil when nothing matches.
func (c *Client) FindCounterpartyByPhone(ctx context.Context, phone string) (*Counterparty, error) {
	digits := parse.DigitsOnly(phone)
	if digits == "" {
		return nil, nil
	}
	var resp rowsResponse[Counterparty]
	params := url.Values{
		"filter": {"phone~" + digits},
		"limit":  {"1"},
	}
	if err := c.get(ctx, "/entity/counterparty", params, &resp); err != nil {
		return nil, err
	}
	if len(resp.Rows) == 0 {
		return nil, nil
	}
	return &resp.Rows[0], nil
}

// SearchCounterparties runs the pick-list search operators see: queries
// that are mostly digits go through the phone filter, anything else
// through full-text search.
func (c *Client) SearchCounterparties(ctx context.Context, query string, limit int) ([]Counterparty, error) {
	q := strings.TrimSpace(query)
	if q == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 10
	}
	params := url.Values{"limit": {strconv.Itoa(limit)}}
	if digits := parse.DigitsOnly(q); len(digits) >= 7 {
		params.Set("filter", "phone~"+digits)
	} else {
		params.Set("search", q)
	}
	var resp rowsResponse[Counterparty]
	if err := c.get(ctx, "/entity/counterparty", params, &resp); err != nil {
		return nil, err
	}
	return resp.Rows, nil
}

// EnsureCounterparty finds or creates a counterparty. Lookup order: phone,
// then name search. When an existing record's name or phone drifted from
// what the operator entered, the record is patched so MoySklad stays the
// source of truth.
func (c *Client) EnsureCounterparty(ctx context.Context, name, phone string) (*Counterparty, error) {
	name = strings.TrimSpace(name)
	phone = strings.TrimSpace(phone)

	if parse.DigitsOnly(phone) != "" {
		found, err := c.FindCounterpartyByPhone(ctx, phone)
		if err != nil {
			return nil, err
		}
		if found != nil {
			return c.patchCounterparty(ctx, found, name, phone)
		}
	}

	if name != "" {
		var resp rowsResponse[Counterparty]
		params := url.Values{"search": {name}, "limit": {"1"}}
		if err := c.get(ctx, "/entity/counterparty", params, &resp); err != nil {
			return nil, err
		}
		if len(resp.Rows) > 0 {
			// Name already matched; only the phone may need a patch.
			return c.patchCounterparty(ctx, &resp.Rows[0], "", phone)
		}
	}

	payload := map[string]any{"name": name}
	if name == "" {
		if phone != "" {
			payload["name"] = phone
		} else {
			payload["name"] = "NoName"
		}
	}
	if phone != "" {
		payload["phone"] = phone
	}
	var created Counterparty
	if err := c.post(ctx, "/entity/counterparty", payload, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

func (c *Client) patchCounterparty(ctx context.Context, cp *Counterparty, name, phone string) (*Counterparty, error) {
	updates := map[string]any{}
	if name != "" && strings.TrimSpace(cp.Name) != name {
		updates["name"] = name
	}
	if phone != "" && strings.TrimSpace(cp.Phone) != phone {
		updates["phone"] = phone
	}
	if len(updates) == 0 || cp.ID == "" {
		return cp, nil
	}
	var updated Counterparty
	if err := c.put(ctx, "/entity/counterparty/"+cp.ID, updates, &updated); err != nil {
		return nil, err
	}
	return &updated, nil
}
