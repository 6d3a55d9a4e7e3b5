// Package util holds small parsing helpers shared by the command line.
package util

import "strings"

// SplitCSV splits a comma-separated list and trims each item. Commas inside
// single or double quotes do not split, and the quotes are removed, so
// "'eu,west',2024" yields ["eu,west" "2024"]. Empty items are dropped; an
// empty or blank input yields nil.
func SplitCSV(s string) []string {
	var (
		result []string
		cur    strings.Builder
		quote  rune
		quoted bool
	)
	flush := func() {
		item := cur.String()
		if !quoted {
			item = strings.TrimSpace(item)
		}
		if item != "" {
			result = append(result, item)
		}
		cur.Reset()
		quoted = false
	}
	for _, r := range s {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
				continue
			}
			cur.WriteRune(r)
		case r == '\'' || r == '"':
			if strings.TrimSpace(cur.String()) == "" {
				cur.Reset()
			}
			quote = r
			quoted = true
		case r == ',':
			flush()
		case quoted && r == ' ':
			// spaces after a closing quote
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return result
}
