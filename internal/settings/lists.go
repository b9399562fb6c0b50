package settings

import "slices"

// AppendUnique appends item when absent. The boolean reports whether the list changed.
func AppendUnique(list []string, item string) ([]string, bool) {
	if slices.Contains(list, item) {
		return cloneList(list), false
	}
	return append(cloneList(list), item), true
}

// RemoveItem drops every occurrence of item. The boolean reports whether the list changed.
func RemoveItem(list []string, item string) ([]string, bool) {
	result := make([]string, 0, len(list))
	for _, value := range list {
		if value != item {
			result = append(result, value)
		}
	}
	return result, len(result) != len(list)
}

// MoveToFront places item at index 0, removes prior exact matches and truncates to limit.
func MoveToFront(list []string, item string, limit int) []string {
	result := make([]string, 0, len(list)+1)
	result = append(result, item)
	for _, value := range list {
		if value != item {
			result = append(result, value)
		}
	}
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result
}

// KeepNewest keeps the last limit entries of an append-ordered list.
func KeepNewest(list []string, limit int) []string {
	if limit <= 0 || len(list) <= limit {
		return cloneList(list)
	}
	return cloneList(list[len(list)-limit:])
}

// Dedupe keeps the first occurrence of each entry.
func Dedupe(list []string) []string {
	seen := make(map[string]struct{}, len(list))
	result := make([]string, 0, len(list))
	for _, value := range list {
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		result = append(result, value)
	}
	return result
}
