package domain

import (
	"errors"
	"fmt"
	"strconv"
)

// ErrInvalidPayload is returned by Payload.Validate.
var ErrInvalidPayload = errors.New("invalid payload")

// Well-known metric names populated by the upstream adapter.
const (
	MetricEmployeeCount        = "employee_count"
	MetricTotalRaisedUSD       = "total_raised_usd"
	MetricValuation            = "valuation"
	MetricLastFinancingSizeUSD = "last_financing_size_usd"
)

// Payload is the typed representation of a company at one poll.
// Every category is optional; absent metrics are simply not compared.
type Payload struct {
	Name    string       `json:"name,omitempty"`
	Status  string       `json:"status,omitempty"` // company status: active, acquired, public, ...
	Deals   []Deal       `json:"deals,omitempty"`
	Metrics Metrics      `json:"metrics,omitempty"`
	Team    []TeamMember `json:"team,omitempty"`
}

// Deal is a financing round or transaction attached to a company.
type Deal struct {
	ID      string   `json:"id"`
	Status  string   `json:"status,omitempty"`
	Type    string   `json:"type,omitempty"` // seed, series_a, ipo, ...
	Date    string   `json:"date,omitempty"` // YYYY-MM-DD as reported upstream
	SizeUSD *float64 `json:"size_usd,omitempty"`
}

// TeamMember is one key person on the company roster.
type TeamMember struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
	Role string `json:"role,omitempty"`
}

// Metrics maps a metric name to its value.
type Metrics map[string]MetricValue

// MetricValue holds exactly one of an integer or a float.
type MetricValue struct {
	Int   *int64   `json:"int,omitempty"`
	Float *float64 `json:"float,omitempty"`
}

// IntMetric returns an integer MetricValue.
func IntMetric(v int64) MetricValue {
	return MetricValue{Int: &v}
}

// FloatMetric returns a float MetricValue.
func FloatMetric(v float64) MetricValue {
	return MetricValue{Float: &v}
}

// IsFloat reports whether the value is a float.
func (m MetricValue) IsFloat() bool {
	return m.Float != nil
}

// IsSet reports whether exactly one variant is populated.
func (m MetricValue) IsSet() bool {
	return (m.Int != nil) != (m.Float != nil)
}

// Float64 returns the value as float64.
func (m MetricValue) Float64() float64 {
	switch {
	case m.Float != nil:
		return *m.Float
	case m.Int != nil:
		return float64(*m.Int)
	}
	return 0
}

// String formats the value for logs and summaries.
func (m MetricValue) String() string {
	switch {
	case m.Int != nil:
		return strconv.FormatInt(*m.Int, 10)
	case m.Float != nil:
		return strconv.FormatFloat(*m.Float, 'f', -1, 64)
	}
	return "<unset>"
}

// Clone returns a copy that shares no pointers with m.
func (m MetricValue) Clone() MetricValue {
	var c MetricValue
	if m.Int != nil {
		v := *m.Int
		c.Int = &v
	}
	if m.Float != nil {
		v := *m.Float
		c.Float = &v
	}
	return c
}

// Validate checks the invariants the differ relies on: non-empty, unique
// deal and person IDs and single-variant metric values.
func (p *Payload) Validate() error {
	seen := make(map[string]struct{}, len(p.Deals))
	for i, d := range p.Deals {
		if d.ID == "" {
			return fmt.Errorf("%w: deal %d has empty id", ErrInvalidPayload, i)
		}
		if _, dup := seen[d.ID]; dup {
			return fmt.Errorf("%w: duplicate deal id %q", ErrInvalidPayload, d.ID)
		}
		seen[d.ID] = struct{}{}
	}

	seen = make(map[string]struct{}, len(p.Team))
	for i, m := range p.Team {
		if m.ID == "" {
			return fmt.Errorf("%w: team member %d has empty id", ErrInvalidPayload, i)
		}
		if _, dup := seen[m.ID]; dup {
			return fmt.Errorf("%w: duplicate person id %q", ErrInvalidPayload, m.ID)
		}
		seen[m.ID] = struct{}{}
	}

	for name, v := range p.Metrics {
		if name == "" {
			return fmt.Errorf("%w: metric with empty name", ErrInvalidPayload)
		}
		if !v.IsSet() {
			return fmt.Errorf("%w: metric %q must hold exactly one of int or float", ErrInvalidPayload, name)
		}
	}
	return nil
}

// Clone returns a deep copy so stores can hand out payloads without aliasing.
func (p *Payload) Clone() Payload {
	c := Payload{Name: p.Name, Status: p.Status}
	if p.Deals != nil {
		c.Deals = make([]Deal, len(p.Deals))
		for i, d := range p.Deals {
			c.Deals[i] = d
			if d.SizeUSD != nil {
				v := *d.SizeUSD
				c.Deals[i].SizeUSD = &v
			}
		}
	}
	if p.Team != nil {
		c.Team = append([]TeamMember(nil), p.Team...)
	}
	if p.Metrics != nil {
		c.Metrics = make(Metrics, len(p.Metrics))
		for k, v := range p.Metrics {
			c.Metrics[k] = v.Clone()
		}
	}
	return c
}
