// Package reorder maintains per item type display ordering.
package reorder

import (
	"errors"
	"fmt"
	"sort"

	"archive/api/internal/archive"
)

var ErrItemNotFound = errors.New("reorder: item not in partition")

// Partition returns the items of one type sorted by display order. Ties keep
// their relative input order.
func Partition(items []archive.Contribution, itemType archive.ItemType) []archive.Contribution {
	out := make([]archive.Contribution, 0)
	for _, item := range items {
		if item.ItemType == itemType {
			out = append(out, item.Clone())
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].DisplayOrder < out[j].DisplayOrder
	})
	return out
}

// Move relocates draggedID to targetIndex inside its item type partition and
// renumbers that partition 1..N. Items of other types are returned untouched
// and in place; the partition's slots are refilled in the new order.
func Move(items []archive.Contribution, itemType archive.ItemType, draggedID string, targetIndex int) ([]archive.Contribution, error) {
	part := Partition(items, itemType)
	from := -1
	for i, item := range part {
		if item.ID == draggedID {
			from = i
			break
		}
	}
	if from < 0 {
		return nil, fmt.Errorf("%w: %s in %s", ErrItemNotFound, draggedID, itemType)
	}

	dragged := part[from]
	rest := append(part[:from:from], part[from+1:]...)
	if targetIndex < 0 {
		targetIndex = 0
	}
	if targetIndex > len(rest) {
		targetIndex = len(rest)
	}
	moved := make([]archive.Contribution, 0, len(part))
	moved = append(moved, rest[:targetIndex]...)
	moved = append(moved, dragged)
	moved = append(moved, rest[targetIndex:]...)
	for i := range moved {
		moved[i].DisplayOrder = i + 1
	}

	return merge(items, itemType, moved), nil
}

// Resequence renumbers every partition 1..N, keeping the current relative
// order. Used after deletes and inserts.
func Resequence(items []archive.Contribution) []archive.Contribution {
	out := archive.CloneAll(items)
	seen := make(map[archive.ItemType]bool)
	for _, item := range items {
		if seen[item.ItemType] {
			continue
		}
		seen[item.ItemType] = true
		part := Partition(out, item.ItemType)
		for i := range part {
			part[i].DisplayOrder = i + 1
		}
		out = merge(out, item.ItemType, part)
	}
	return out
}

// OrderedIDs lists every item id, grouped by partition in display order. This
// is the full list the backend recomputes ranks from.
func OrderedIDs(items []archive.Contribution) []string {
	ids := make([]string, 0, len(items))
	seen := make(map[archive.ItemType]bool)
	for _, item := range items {
		if seen[item.ItemType] {
			continue
		}
		seen[item.ItemType] = true
		for _, member := range Partition(items, item.ItemType) {
			ids = append(ids, member.ID)
		}
	}
	return ids
}

// Ranks assigns 1..N per partition from the order ids appear in orderedIDs.
// Ids missing from orderedIDs follow the listed ones in their previous order.
func Ranks(items []archive.Contribution, orderedIDs []string) map[string]int {
	position := make(map[string]int, len(orderedIDs))
	for i, id := range orderedIDs {
		if _, dup := position[id]; !dup {
			position[id] = i
		}
	}
	byType := make(map[archive.ItemType][]archive.Contribution)
	var types []archive.ItemType
	for _, item := range items {
		if _, ok := byType[item.ItemType]; !ok {
			types = append(types, item.ItemType)
		}
		byType[item.ItemType] = append(byType[item.ItemType], item)
	}

	ranks := make(map[string]int, len(items))
	for _, itemType := range types {
		part := byType[itemType]
		sort.SliceStable(part, func(i, j int) bool {
			pi, iok := position[part[i].ID]
			pj, jok := position[part[j].ID]
			switch {
			case iok && jok:
				return pi < pj
			case iok != jok:
				return iok
			default:
				return part[i].DisplayOrder < part[j].DisplayOrder
			}
		})
		for i, item := range part {
			ranks[item.ID] = i + 1
		}
	}
	return ranks
}

func merge(items []archive.Contribution, itemType archive.ItemType, part []archive.Contribution) []archive.Contribution {
	out := make([]archive.Contribution, 0, len(items))
	next := 0
	for _, item := range items {
		if item.ItemType != itemType {
			out = append(out, item.Clone())
			continue
		}
		out = append(out, part[next])
		next++
	}
	return out
}
