// Package diff compares two payloads of the same company and emits typed
// change records. It is pure: no store access, no I/O, no clock.
package diff

import (
	"math"
	"sort"

	"dealwatch/internal/domain"
)

// Options configures comparison.
type Options struct {
	// FloatTolerance is the relative tolerance applied when either side of a
	// metric is a float. 0 means exact equality.
	FloatTolerance float64
}

// DefaultOptions returns exact comparison.
func DefaultOptions() Options {
	return Options{FloatTolerance: 0}
}

// Diff returns the ordered change records between old and new.
//
// Rules are evaluated in a fixed order and the output is deterministic:
//  1. old == nil (first poll): no records.
//  2. Deals: NewDeal for IDs only in new, then StatusChange for IDs in both
//     whose status differs (company-level status change has an empty deal ID
//     and sorts first). Each group sorted by ID.
//  3. Metrics: MetricUpdate for every field present in both with a differing
//     value, sorted by field name.
//  4. Team: Added / Removed / RoleChanged, sorted by person ID.
//
// The returned records carry Kind, Detail and Sequence only. EntityID,
// DetectedAt, SnapshotVersion and ID are stamped by the caller and store.
func Diff(old, new *domain.Payload, opts Options) []*domain.ChangeRecord {
	if old == nil || new == nil {
		return nil
	}

	var out []*domain.ChangeRecord
	out = append(out, diffDeals(old, new)...)
	out = append(out, diffMetrics(old.Metrics, new.Metrics, opts)...)
	out = append(out, diffTeam(old.Team, new.Team)...)

	for i, c := range out {
		c.Sequence = i
	}
	return out
}

func diffDeals(old, new *domain.Payload) []*domain.ChangeRecord {
	oldByID := make(map[string]domain.Deal, len(old.Deals))
	for _, d := range old.Deals {
		oldByID[d.ID] = d
	}

	var added []domain.Deal
	var changed []*domain.StatusChangeDetail

	if old.Status != "" && new.Status != "" && old.Status != new.Status {
		changed = append(changed, &domain.StatusChangeDetail{
			OldStatus: old.Status,
			NewStatus: new.Status,
		})
	}

	for _, d := range new.Deals {
		prev, ok := oldByID[d.ID]
		if !ok {
			added = append(added, d)
			continue
		}
		if prev.Status != d.Status {
			changed = append(changed, &domain.StatusChangeDetail{
				DealID:    d.ID,
				OldStatus: prev.Status,
				NewStatus: d.Status,
			})
		}
	}

	sort.Slice(added, func(i, j int) bool { return added[i].ID < added[j].ID })
	sort.Slice(changed, func(i, j int) bool { return changed[i].DealID < changed[j].DealID })

	out := make([]*domain.ChangeRecord, 0, len(added)+len(changed))
	for _, d := range added {
		detail := &domain.NewDealDetail{
			DealID: d.ID,
			Status: d.Status,
			Type:   d.Type,
			Date:   d.Date,
		}
		if d.SizeUSD != nil {
			v := *d.SizeUSD
			detail.SizeUSD = &v
		}
		out = append(out, &domain.ChangeRecord{
			Kind:   domain.ChangeKindNewDeal,
			Detail: domain.ChangeDetail{NewDeal: detail},
		})
	}
	for _, sc := range changed {
		out = append(out, &domain.ChangeRecord{
			Kind:   domain.ChangeKindStatusChange,
			Detail: domain.ChangeDetail{StatusChange: sc},
		})
	}
	return out
}

func diffMetrics(old, new domain.Metrics, opts Options) []*domain.ChangeRecord {
	var fields []string
	for name := range new {
		if _, ok := old[name]; ok {
			fields = append(fields, name)
		}
	}
	sort.Strings(fields)

	var out []*domain.ChangeRecord
	for _, name := range fields {
		ov, nv := old[name], new[name]
		if metricsEqual(ov, nv, opts.FloatTolerance) {
			continue
		}
		out = append(out, &domain.ChangeRecord{
			Kind: domain.ChangeKindMetricUpdate,
			Detail: domain.ChangeDetail{MetricUpdate: &domain.MetricUpdateDetail{
				Field:    name,
				OldValue: ov.Clone(),
				NewValue: nv.Clone(),
			}},
		})
	}
	return out
}

// metricsEqual compares integers exactly and anything involving a float with
// the relative tolerance. An int and a float holding the same number are equal.
func metricsEqual(a, b domain.MetricValue, tolerance float64) bool {
	if a.Int != nil && b.Int != nil {
		return *a.Int == *b.Int
	}

	x, y := a.Float64(), b.Float64()
	if math.IsNaN(x) || math.IsNaN(y) {
		return math.IsNaN(x) && math.IsNaN(y)
	}
	if x == y {
		return true
	}
	if tolerance <= 0 {
		return false
	}
	scale := math.Max(math.Abs(x), math.Abs(y))
	return math.Abs(x-y) <= tolerance*scale
}

func diffTeam(old, new []domain.TeamMember) []*domain.ChangeRecord {
	oldByID := make(map[string]domain.TeamMember, len(old))
	for _, m := range old {
		oldByID[m.ID] = m
	}
	newByID := make(map[string]domain.TeamMember, len(new))
	for _, m := range new {
		newByID[m.ID] = m
	}

	ids := make([]string, 0, len(oldByID)+len(newByID))
	for id := range oldByID {
		ids = append(ids, id)
	}
	for id := range newByID {
		if _, ok := oldByID[id]; !ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	var out []*domain.ChangeRecord
	for _, id := range ids {
		prev, inOld := oldByID[id]
		cur, inNew := newByID[id]

		var detail *domain.TeamChangeDetail
		switch {
		case inNew && !inOld:
			detail = &domain.TeamChangeDetail{
				PersonID:   id,
				ChangeType: domain.TeamChangeAdded,
				Name:       cur.Name,
				NewRole:    cur.Role,
			}
		case inOld && !inNew:
			detail = &domain.TeamChangeDetail{
				PersonID:   id,
				ChangeType: domain.TeamChangeRemoved,
				Name:       prev.Name,
				OldRole:    prev.Role,
			}
		case prev.Role != cur.Role:
			detail = &domain.TeamChangeDetail{
				PersonID:   id,
				ChangeType: domain.TeamChangeRoleChanged,
				Name:       cur.Name,
				OldRole:    prev.Role,
				NewRole:    cur.Role,
			}
		default:
			continue
		}

		out = append(out, &domain.ChangeRecord{
			Kind:   domain.ChangeKindTeamChange,
			Detail: domain.ChangeDetail{TeamChange: detail},
		})
	}
	return out
}
