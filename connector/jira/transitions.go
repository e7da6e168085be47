package jira

import "sort"

type step struct {
	from string
	name string
}

// TransitionsToApply はcurrentからtargetへ至る最短の遷移名の列を返す
// graphはステータス→遷移名→遷移先。到達できない場合と同じステータスの場合は空
func TransitionsToApply(graph map[string]map[string]string, current, target string) []string {
	if current == target {
		return nil
	}

	prev := map[string]step{current: {}}
	queue := []string{current}
	for len(queue) > 0 {
		status := queue[0]
		queue = queue[1:]

		names := make([]string, 0, len(graph[status]))
		for name := range graph[status] {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			next := graph[status][name]
			if _, seen := prev[next]; seen {
				continue
			}
			prev[next] = step{from: status, name: name}
			if next == target {
				return walkBack(prev, current, target)
			}
			queue = append(queue, next)
		}
	}
	return nil
}

func walkBack(prev map[string]step, current, target string) []string {
	var path []string
	for s := target; s != current; s = prev[s].from {
		path = append([]string{prev[s].name}, path...)
	}
	return path
}
