package entity

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// DefaultTaxRate is applied when a booking order carries no explicit rate
const DefaultTaxRate = 0.05

// LocationItem is one line-item of a booking order
type LocationItem struct {
	Name      string         `json:"name"`
	StartDate string         `json:"start_date,omitempty"`
	EndDate   string         `json:"end_date,omitempty"`
	Duration  string         `json:"duration,omitempty"`
	NetAmount float64        `json:"net_amount"`
	Extra     map[string]any `json:"extra,omitempty"`
}

// BookingOrderData is the structured booking-order payload carried by a workflow
type BookingOrderData struct {
	BONumber     string         `json:"bo_number,omitempty"`
	Client       string         `json:"client"`
	Campaign     string         `json:"brand_campaign,omitempty"`
	Agency       string         `json:"agency,omitempty"`
	SalesPerson  string         `json:"sales_person,omitempty"`
	PaymentTerms string         `json:"payment_terms,omitempty"`
	Currency     string         `json:"currency,omitempty"`
	StartDate    string         `json:"start_date,omitempty"`
	EndDate      string         `json:"end_date,omitempty"`
	NetPreTax    float64        `json:"net_pre_tax"`
	TaxRate      float64        `json:"tax_rate"`
	Tax          float64        `json:"tax"`
	Gross        float64        `json:"gross"`
	Locations    []LocationItem `json:"locations,omitempty"`
	Extra        map[string]any `json:"extra,omitempty"`
}

// Recompute derives tax and gross from the net pre-tax amount.
// Gross is always exactly NetPreTax + Tax.
func (d *BookingOrderData) Recompute() {
	if d.TaxRate < 0 {
		d.TaxRate = 0
	}
	d.Tax = roundCents(d.NetPreTax * d.TaxRate)
	d.Gross = d.NetPreTax + d.Tax
}

// IsConsistent reports whether the derived fields agree with the recomputation rule
func (d BookingOrderData) IsConsistent() bool {
	return d.Tax == roundCents(d.NetPreTax*d.TaxRate) && d.Gross == d.NetPreTax+d.Tax
}

// Clone returns a deep copy of the data
func (d BookingOrderData) Clone() BookingOrderData {
	out := d
	if d.Locations != nil {
		out.Locations = make([]LocationItem, len(d.Locations))
		for i, loc := range d.Locations {
			loc.Extra = cloneMap(loc.Extra)
			out.Locations[i] = loc
		}
	}
	out.Extra = cloneMap(d.Extra)
	return out
}

// derivedFields can never be set directly; they follow NetPreTax
var derivedFields = map[string]bool{
	"tax":          true,
	"vat":          true,
	"vat_value":    true,
	"gross":        true,
	"gross_amount": true,
}

// ChangeSummary describes the outcome of ApplyChanges
type ChangeSummary struct {
	Applied []string
	Ignored []string
}

// ApplyChanges applies field changes produced by the classifier.
// Unknown keys land in Extra. Derived fields are ignored and always recomputed.
// On error the receiver is left untouched.
func (d *BookingOrderData) ApplyChanges(changes map[string]any) (*ChangeSummary, error) {
	next := d.Clone()
	summary := &ChangeSummary{}

	keys := make([]string, 0, len(changes))
	for k := range changes {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		value := changes[key]
		field := strings.ToLower(strings.TrimSpace(key))

		if derivedFields[field] {
			summary.Ignored = append(summary.Ignored, key)
			continue
		}

		var err error
		switch field {
		case "bo_number":
			next.BONumber, err = asString(key, value)
		case "client":
			next.Client, err = asString(key, value)
		case "brand_campaign", "campaign":
			next.Campaign, err = asString(key, value)
		case "agency":
			next.Agency, err = asString(key, value)
		case "sales_person":
			next.SalesPerson, err = asString(key, value)
		case "payment_terms":
			next.PaymentTerms, err = asString(key, value)
		case "currency":
			next.Currency, err = asString(key, value)
		case "start_date":
			next.StartDate, err = asString(key, value)
		case "end_date":
			next.EndDate, err = asString(key, value)
		case "net_pre_tax", "net_amount":
			next.NetPreTax, err = asAmount(key, value)
		case "tax_rate", "vat_rate":
			next.TaxRate, err = asAmount(key, value)
		case "locations":
			next.Locations, err = asLocations(value)
		default:
			if next.Extra == nil {
				next.Extra = make(map[string]any)
			}
			next.Extra[key] = value
		}
		if err != nil {
			return nil, err
		}
		summary.Applied = append(summary.Applied, key)
	}

	next.Recompute()
	*d = next
	return summary, nil
}

func asString(key string, v any) (string, error) {
	switch s := v.(type) {
	case string:
		return strings.TrimSpace(s), nil
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64), nil
	case nil:
		return "", nil
	default:
		return "", fmt.Errorf("field %s: expected text, got %T", key, v)
	}
}

func asAmount(key string, v any) (float64, error) {
	var amount float64
	switch n := v.(type) {
	case float64:
		amount = n
	case int:
		amount = float64(n)
	case int64:
		amount = float64(n)
	case string:
		cleaned := strings.NewReplacer(",", "", " ", "").Replace(n)
		parsed, err := strconv.ParseFloat(cleaned, 64)
		if err != nil {
			return 0, fmt.Errorf("field %s: %q is not a number", key, n)
		}
		amount = parsed
	default:
		return 0, fmt.Errorf("field %s: expected number, got %T", key, v)
	}
	if amount < 0 || math.IsNaN(amount) || math.IsInf(amount, 0) {
		return 0, fmt.Errorf("field %s: amount must be a non-negative number", key)
	}
	return amount, nil
}

func asLocations(v any) ([]LocationItem, error) {
	raw, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("field locations: expected a list, got %T", v)
	}

	locations := make([]LocationItem, 0, len(raw))
	for i, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("field locations[%d]: expected an object, got %T", i, item)
		}
		var loc LocationItem
		for k, val := range m {
			var err error
			switch k {
			case "name":
				loc.Name, err = asString(k, val)
			case "start_date":
				loc.StartDate, err = asString(k, val)
			case "end_date":
				loc.EndDate, err = asString(k, val)
			case "duration":
				loc.Duration, err = asString(k, val)
			case "net_amount":
				loc.NetAmount, err = asAmount(k, val)
			default:
				if loc.Extra == nil {
					loc.Extra = make(map[string]any)
				}
				loc.Extra[k] = val
			}
			if err != nil {
				return nil, fmt.Errorf("locations[%d]: %w", i, err)
			}
		}
		locations = append(locations, loc)
	}
	return locations, nil
}

func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
