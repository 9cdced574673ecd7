package cloud

import "strings"

// trashParent is the pseudo-parent of deleted items.
const trashParent = "trash"

// assignPaths sets Path on every entry to the slash-joined names of its
// ancestor collections ("/" for the root). Unknown parents and cycles resolve
// to the deepest ancestor reachable.
func assignPaths(tree Tree) {
	byID := make(map[string]int, len(tree))
	for i, entry := range tree {
		byID[entry.ID] = i
	}
	memo := make(map[string]string, len(tree))

	var pathOf func(id string, depth int) string
	pathOf = func(id string, depth int) string {
		if id == "" {
			return "/"
		}
		if id == trashParent {
			return "/" + trashParent
		}
		if cached, ok := memo[id]; ok {
			return cached
		}
		idx, ok := byID[id]
		if !ok || depth > len(tree) {
			return "/"
		}
		parent := pathOf(tree[idx].ParentID, depth+1)
		full := strings.TrimSuffix(parent, "/") + "/" + tree[idx].Name
		memo[id] = full
		return full
	}

	for i := range tree {
		tree[i].Path = pathOf(tree[i].ParentID, 0)
	}
}
