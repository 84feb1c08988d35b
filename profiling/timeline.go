package profiling

import "time"

// A TimelineEntry is a rendering-ready projection of one task: where its bar
// starts, how long it is, and how deep it nests. Entries are derived from
// the hierarchy and never persisted on their own.
type TimelineEntry struct {
	TaskID   string        `json:"task_id"`
	Name     string        `json:"name"`
	Start    time.Duration `json:"start"`
	Duration time.Duration `json:"duration"`
	Depth    int           `json:"depth"`
}

// buildTimeline flattens the hierarchy depth-first, keeping creation order
// within each level.
func buildTimeline(roots []*TaskNode) []TimelineEntry {
	var entries []TimelineEntry

	var walk func(node *TaskNode, depth int)
	walk = func(node *TaskNode, depth int) {
		start := node.StartedAt
		if start < 0 {
			start = node.CreatedAt
		}

		duration := time.Duration(0)
		if node.CompletedAt >= 0 && node.CompletedAt > start {
			duration = node.CompletedAt - start
		}

		entries = append(entries, TimelineEntry{
			TaskID:   node.ID,
			Name:     node.Name,
			Start:    start,
			Duration: duration,
			Depth:    depth,
		})

		for _, child := range node.Children {
			walk(child, depth+1)
		}
	}

	for _, root := range roots {
		walk(root, 0)
	}

	return entries
}
