package fetch

import (
	"fmt"
	"math"
	"strings"

	"dealwatch/internal/domain"
)

// companyRecord is the upstream company document. Several fields have been
// published under more than one name; the first non-empty one wins.
type companyRecord struct {
	CompanyID         string   `json:"companyId"`
	PBID              string   `json:"pbId"`
	ID                string   `json:"id"`
	CompanyName       string   `json:"companyName"`
	Name              string   `json:"name"`
	BusinessStatus    string   `json:"businessStatus"`
	Employees         *float64 `json:"employees"`
	EmployeeCount     *float64 `json:"employeeCount"`
	TotalRaised       *float64 `json:"totalRaised"`
	TotalRaisedUSD    *float64 `json:"totalRaisedUsd"`
	LastFinancingSize *float64 `json:"lastFinancingSize"`
	Valuation         *float64 `json:"postMoneyValuation"`
}

type dealRecord struct {
	DealID      string   `json:"dealId"`
	PBID        string   `json:"pbId"`
	ID          string   `json:"id"`
	DealType    string   `json:"dealType"`
	DealType1   string   `json:"dealType1"`
	DealDate    string   `json:"dealDate"`
	DealSize    *float64 `json:"dealSize"`
	DealSizeUSD *float64 `json:"dealSizeUsd"`
	DealStatus  string   `json:"dealStatus"`
}

type personRecord struct {
	PersonID     string `json:"personId"`
	PBID         string `json:"pbId"`
	ID           string `json:"id"`
	Name         string `json:"name"`
	FullName     string `json:"fullName"`
	PrimaryTitle string `json:"primaryTitle"`
	Title        string `json:"title"`
}

// page is one page of a paginated listing.
type page[T any] struct {
	Items      []T    `json:"items"`
	Results    []T    `json:"results"`
	NextCursor string `json:"nextCursor"`
	Next       string `json:"next"`
}

func (p *page[T]) entries() []T {
	if p.Items != nil {
		return p.Items
	}
	return p.Results
}

func (p *page[T]) cursor() string {
	return firstNonEmpty(p.NextCursor, p.Next)
}

var businessStatuses = map[string]string{
	"Operating":       "active",
	"Acquired/Merged": "acquired",
	"Went Public":     "public",
	"Out of Business": "inactive",
}

var dealTypes = map[string]string{
	"Series A":              "series_a",
	"Series B":              "series_b",
	"Series C":              "series_c",
	"Seed Round":            "seed",
	"Angel":                 "angel",
	"Grant":                 "grant",
	"Debt":                  "debt",
	"IPO":                   "ipo",
	"M&A":                   "merger_acquisition",
	"Buyout/LBO":            "buyout",
	"Secondary Transaction": "secondary",
}

// toPayload maps the upstream records onto the typed payload and validates it.
func toPayload(c *companyRecord, deals []dealRecord, people []personRecord) (*domain.Payload, error) {
	p := &domain.Payload{
		Name:    firstNonEmpty(c.CompanyName, c.Name),
		Status:  normalize(c.BusinessStatus, businessStatuses),
		Metrics: domain.Metrics{},
	}

	if v := firstSet(c.Employees, c.EmployeeCount); v != nil {
		if *v != math.Trunc(*v) {
			return nil, fmt.Errorf("%w: employee count %v is not an integer", domain.ErrInvalidPayload, *v)
		}
		p.Metrics[domain.MetricEmployeeCount] = domain.IntMetric(int64(*v))
	}
	if v := firstSet(c.TotalRaised, c.TotalRaisedUSD); v != nil {
		p.Metrics[domain.MetricTotalRaisedUSD] = domain.FloatMetric(*v)
	}
	if c.Valuation != nil {
		p.Metrics[domain.MetricValuation] = domain.FloatMetric(*c.Valuation)
	}
	if c.LastFinancingSize != nil {
		p.Metrics[domain.MetricLastFinancingSizeUSD] = domain.FloatMetric(*c.LastFinancingSize)
	}

	for _, d := range deals {
		p.Deals = append(p.Deals, domain.Deal{
			ID:      firstNonEmpty(d.DealID, d.PBID, d.ID),
			Status:  d.DealStatus,
			Type:    normalize(firstNonEmpty(d.DealType, d.DealType1), dealTypes),
			Date:    d.DealDate,
			SizeUSD: firstSet(d.DealSize, d.DealSizeUSD),
		})
	}
	for _, m := range people {
		p.Team = append(p.Team, domain.TeamMember{
			ID:   firstNonEmpty(m.PersonID, m.PBID, m.ID),
			Name: firstNonEmpty(m.Name, m.FullName),
			Role: firstNonEmpty(m.PrimaryTitle, m.Title),
		})
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// normalize maps known upstream labels and lower-cases everything else.
// An empty value stays empty so a missing status never reads as a change.
func normalize(raw string, known map[string]string) string {
	if raw == "" {
		return ""
	}
	if v, ok := known[raw]; ok {
		return v
	}
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(raw), " ", "_"))
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstSet(vals ...*float64) *float64 {
	for _, v := range vals {
		if v != nil {
			return v
		}
	}
	return nil
}
