package pipeline

import "strings"

// Row is anything that renders as one CSV line
type Row interface {
	Fields() []string
}

// Serialize renders rows as comma-separated lines joined by "\n",
// with no header and no trailing newline.
func Serialize[R Row](rows []R) string {
	var b strings.Builder
	for i, row := range rows {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(strings.Join(row.Fields(), ","))
	}
	return b.String()
}
