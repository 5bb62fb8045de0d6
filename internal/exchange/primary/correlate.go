package primary

import (
	"fmt"
	"strings"
)

// clientOrderIDFields are the report fields that may carry our client order
// id, most specific first.
var clientOrderIDFields = []string{
	"wsClOrdId",
	"clOrdId",
	"clientId",
	"origClOrdId",
	"proprietaryClOrdId",
}

// ClientOrderIDFromFields picks the canonical client order id out of a
// decoded order report. The order of clientOrderIDFields is fixed so the same
// report always maps to the same id.
func ClientOrderIDFromFields(fields map[string]any) string {
	for _, key := range clientOrderIDFields {
		v, ok := fields[key]
		if !ok || v == nil {
			continue
		}
		var s string
		switch t := v.(type) {
		case string:
			s = t
		case float64:
			s = fmt.Sprintf("%.0f", t)
		default:
			s = fmt.Sprint(t)
		}
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}
	return ""
}
