package domain

import (
	"fmt"
	"time"
)

// ChangeKind is the type of a detected difference.
type ChangeKind string

const (
	ChangeKindNewDeal      ChangeKind = "NEW_DEAL"
	ChangeKindStatusChange ChangeKind = "STATUS_CHANGE"
	ChangeKindMetricUpdate ChangeKind = "METRIC_UPDATE"
	ChangeKindTeamChange   ChangeKind = "TEAM_CHANGE"
)

// String returns the string representation of ChangeKind.
func (k ChangeKind) String() string {
	return string(k)
}

// IsValid checks if the kind is a known value.
func (k ChangeKind) IsValid() bool {
	switch k {
	case ChangeKindNewDeal, ChangeKindStatusChange, ChangeKindMetricUpdate, ChangeKindTeamChange:
		return true
	}
	return false
}

// TeamChangeType distinguishes roster changes.
type TeamChangeType string

const (
	TeamChangeAdded       TeamChangeType = "ADDED"
	TeamChangeRemoved     TeamChangeType = "REMOVED"
	TeamChangeRoleChanged TeamChangeType = "ROLE_CHANGED"
)

// ChangeRecord is one detected difference between two consecutive snapshots.
// Corresponds to change_records table. Append-only.
type ChangeRecord struct {
	ID              string // deterministic from (entity_id, snapshot_version, sequence)
	EntityID        string
	DetectedAt      time.Time
	SnapshotVersion int64 // version of the snapshot that produced this record
	Sequence        int   // emission order within one cycle for one entity
	Kind            ChangeKind
	Detail          ChangeDetail
}

// ChangeDetail carries the kind-specific payload. Exactly one field is set,
// matching ChangeRecord.Kind.
type ChangeDetail struct {
	NewDeal      *NewDealDetail      `json:"new_deal,omitempty"`
	StatusChange *StatusChangeDetail `json:"status_change,omitempty"`
	MetricUpdate *MetricUpdateDetail `json:"metric_update,omitempty"`
	TeamChange   *TeamChangeDetail   `json:"team_change,omitempty"`
}

// NewDealDetail describes a deal seen for the first time.
type NewDealDetail struct {
	DealID  string   `json:"deal_id"`
	Status  string   `json:"status,omitempty"`
	Type    string   `json:"type,omitempty"`
	Date    string   `json:"date,omitempty"`
	SizeUSD *float64 `json:"size_usd,omitempty"`
}

// StatusChangeDetail describes a status transition. DealID is empty when the
// company itself changed status.
type StatusChangeDetail struct {
	DealID    string `json:"deal_id,omitempty"`
	OldStatus string `json:"old_status"`
	NewStatus string `json:"new_status"`
}

// MetricUpdateDetail describes a changed metric value.
type MetricUpdateDetail struct {
	Field    string      `json:"field"`
	OldValue MetricValue `json:"old_value"`
	NewValue MetricValue `json:"new_value"`
}

// TeamChangeDetail describes a roster change.
type TeamChangeDetail struct {
	PersonID   string         `json:"person_id"`
	ChangeType TeamChangeType `json:"change_type"`
	Name       string         `json:"name,omitempty"`
	OldRole    string         `json:"old_role,omitempty"`
	NewRole    string         `json:"new_role,omitempty"`
}

// Clone returns a deep copy.
func (c *ChangeRecord) Clone() *ChangeRecord {
	out := *c
	d := c.Detail
	if d.NewDeal != nil {
		nd := *d.NewDeal
		if nd.SizeUSD != nil {
			v := *nd.SizeUSD
			nd.SizeUSD = &v
		}
		out.Detail.NewDeal = &nd
	}
	if d.StatusChange != nil {
		sc := *d.StatusChange
		out.Detail.StatusChange = &sc
	}
	if d.MetricUpdate != nil {
		mu := MetricUpdateDetail{
			Field:    d.MetricUpdate.Field,
			OldValue: d.MetricUpdate.OldValue.Clone(),
			NewValue: d.MetricUpdate.NewValue.Clone(),
		}
		out.Detail.MetricUpdate = &mu
	}
	if d.TeamChange != nil {
		tc := *d.TeamChange
		out.Detail.TeamChange = &tc
	}
	return &out
}

// Summary renders a one-line human readable description.
func (c *ChangeRecord) Summary() string {
	d := c.Detail
	switch c.Kind {
	case ChangeKindNewDeal:
		if d.NewDeal != nil {
			if d.NewDeal.Type != "" {
				return fmt.Sprintf("%s: new %s deal %s", c.EntityID, d.NewDeal.Type, d.NewDeal.DealID)
			}
			return fmt.Sprintf("%s: new deal %s", c.EntityID, d.NewDeal.DealID)
		}
	case ChangeKindStatusChange:
		if d.StatusChange != nil {
			subject := "status"
			if d.StatusChange.DealID != "" {
				subject = "deal " + d.StatusChange.DealID + " status"
			}
			return fmt.Sprintf("%s: %s changed %s -> %s",
				c.EntityID, subject, d.StatusChange.OldStatus, d.StatusChange.NewStatus)
		}
	case ChangeKindMetricUpdate:
		if d.MetricUpdate != nil {
			return fmt.Sprintf("%s: %s changed %s -> %s",
				c.EntityID, d.MetricUpdate.Field, d.MetricUpdate.OldValue, d.MetricUpdate.NewValue)
		}
	case ChangeKindTeamChange:
		if d.TeamChange != nil {
			tc := d.TeamChange
			switch tc.ChangeType {
			case TeamChangeRoleChanged:
				return fmt.Sprintf("%s: %s role changed %s -> %s", c.EntityID, tc.PersonID, tc.OldRole, tc.NewRole)
			case TeamChangeRemoved:
				return fmt.Sprintf("%s: %s left (%s)", c.EntityID, tc.PersonID, tc.OldRole)
			default:
				return fmt.Sprintf("%s: %s joined as %s", c.EntityID, tc.PersonID, tc.NewRole)
			}
		}
	}
	return fmt.Sprintf("%s: %s", c.EntityID, c.Kind)
}
