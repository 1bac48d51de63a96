package moysklad

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// DefaultPriceTypeName is the sale price type the bot assigns to products
// it creates.
const DefaultPriceTypeName = "Цена продажи"

// PriceType is a configured price type from company settings.
type PriceType struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Meta Meta   `json:"meta"`
}

// ProductFolder is a product group.
type ProductFolder struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Meta Meta   `json:"meta"`
}

// Product is a created product card.
type Product struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Meta Meta   `json:"meta"`
}

// PriceTypes lists the account's price types. Depending on the account the
// endpoint answers either {"rows":[...]} or a bare list; both are handled.
func (c *Client) PriceTypes(ctx context.Context, limit int) ([]PriceType, error) {
	if limit <= 0 {
		limit = 100
	}
	params := url.Values{"limit": {strconv.Itoa(limit)}}

	var raw json.RawMessage
	if err := c.get(ctx, "/context/companysettings/pricetype", params, &raw); err != nil {
		return nil, err
	}

	var wrapped rowsResponse[PriceType]
	if err := json.Unmarshal(raw, &wrapped); err == nil && wrapped.Rows != nil {
		return wrapped.Rows, nil
	}
	var list []PriceType
	if err := json.Unmarshal(raw, &list); err == nil {
		return list, nil
	}
	return nil, fmt.Errorf("moysklad: unexpected pricetype payload")
}

// FindPriceTypeMeta resolves a price type by name, exact match first, then
// case-insensitive substring. Returns nil, nil when nothing matches.
func (c *Client) FindPriceTypeMeta(ctx context.Context, name string) (*Meta, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, nil
	}
	rows, err := c.PriceTypes(ctx, 200)
	if err != nil {
		return nil, err
	}
	for i := range rows {
		if strings.TrimSpace(rows[i].Name) == name && rows[i].Meta.Href != "" {
			return &rows[i].Meta, nil
		}
	}
	lower := strings.ToLower(name)
	for i := range rows {
		if strings.Contains(strings.ToLower(rows[i].Name), lower) && rows[i].Meta.Href != "" {
			return &rows[i].Meta, nil
		}
	}
	return nil, nil
}

// ProductFolders lists product groups.
func (c *Client) ProductFolders(ctx context.Context, limit int) ([]ProductFolder, error) {
	if limit <= 0 {
		limit = 50
	}
	var resp rowsResponse[ProductFolder]
	params := url.Values{"limit": {strconv.Itoa(limit)}}
	if err := c.get(ctx, "/entity/productfolder", params, &resp); err != nil {
		return nil, err
	}
	return resp.Rows, nil
}

// ProductParams describes a product card to create.
type ProductParams struct {
	Name          string
	Folder        *Meta
	SalePriceUZS  int64
	PriceTypeMeta *Meta // resolved via FindPriceTypeMeta when nil
}

// CreateProduct creates a product with one sale price. When no price type
// meta is supplied, DefaultPriceTypeName is resolved; failing that, the
// error names the types that do exist so the admin can fix the account.
func (c *Client) CreateProduct(ctx context.Context, p ProductParams) (*Product, error) {
	name := strings.TrimSpace(p.Name)
	if name == "" {
		return nil, fmt.Errorf("moysklad: product name is empty")
	}
	if p.SalePriceUZS <= 0 {
		return nil, fmt.Errorf("moysklad: sale price must be positive, got %d", p.SalePriceUZS)
	}

	ptMeta := p.PriceTypeMeta
	if ptMeta == nil {
		var err error
		ptMeta, err = c.FindPriceTypeMeta(ctx, DefaultPriceTypeName)
		if err != nil {
			return nil, err
		}
	}
	if ptMeta == nil {
		names := c.priceTypeNames(ctx)
		return nil, fmt.Errorf("moysklad: price type %q not found (available: %s)",
			DefaultPriceTypeName, strings.Join(names, ", "))
	}

	payload := map[string]any{
		"name": name,
		"salePrices": []map[string]any{
			{
				"value":     p.SalePriceUZS * 100,
				"priceType": MetaRef{Meta: *ptMeta},
			},
		},
	}
	if p.Folder != nil {
		payload["productFolder"] = MetaRef{Meta: *p.Folder}
	}

	var created Product
	if err := c.post(ctx, "/entity/product", payload, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

func (c *Client) priceTypeNames(ctx context.Context) []string {
	rows, err := c.PriceTypes(ctx, 200)
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(rows))
	for _, r := range rows {
		names = append(names, r.Name)
	}
	return names
}
