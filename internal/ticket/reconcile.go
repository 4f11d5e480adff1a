package ticket

import "sort"

// mergeSnapshots combines independently fetched local and remote ticket
// snapshots into one deduplicated collection, newest first.
//
// The remote copy wins when both sets hold the same ID: the remote store is
// the convergence point for multi-device use. A local ticket is also absorbed
// when a remote ticket shares its image URI, which matches records created
// before remote sync assigned them a stable ID.
func mergeSnapshots(local, remote []Ticket) []Ticket {
	remoteIDs := make(map[string]struct{}, len(remote))
	remoteImages := make(map[string]struct{}, len(remote))
	for _, t := range remote {
		remoteIDs[t.ID] = struct{}{}
		if t.ImageURI != "" {
			remoteImages[t.ImageURI] = struct{}{}
		}
	}

	merged := make([]Ticket, 0, len(remote)+len(local))
	merged = append(merged, remote...)
	for _, t := range local {
		if _, ok := remoteIDs[t.ID]; ok {
			continue
		}
		if t.ImageURI != "" {
			if _, ok := remoteImages[t.ImageURI]; ok {
				continue
			}
		}
		merged = append(merged, t)
	}

	for i := range merged {
		merged[i].RecomputeTotal()
	}
	sortByIDDescending(merged)
	return merged
}

// sortByIDDescending orders tickets newest first. IDs are time-derived, so a
// descending string sort of the numeric IDs puts the most recent ticket at
// the head; equal-length numeric strings compare correctly as strings.
func sortByIDDescending(tickets []Ticket) {
	sort.SliceStable(tickets, func(i, j int) bool {
		a, b := tickets[i].ID, tickets[j].ID
		if len(a) != len(b) {
			return len(a) > len(b)
		}
		return a > b
	})
}
