package classifier

import "strings"

// filterByTypes keeps patterns whose type is in enabled (when non-empty) and
// not in disabled.
func filterByTypes(patterns []PIIPattern, enabled, disabled []string) []PIIPattern {
	en := toSet(enabled)
	dis := toSet(disabled)
	out := make([]PIIPattern, 0, len(patterns))
	for _, p := range patterns {
		t := strings.ToLower(p.Type)
		if len(en) > 0 && !en[t] {
			continue
		}
		if dis[t] {
			continue
		}
		out = append(out, p)
	}
	return out
}

func toSet(items []string) map[string]bool {
	if len(items) == 0 {
		return nil
	}
	s := make(map[string]bool, len(items))
	for _, it := range items {
		s[strings.ToLower(it)] = true
	}
	return s
}
