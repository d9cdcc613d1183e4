package alert

import (
	"fmt"
	"html"
	"strings"
)

// render builds the subject line and HTML body for one alert.
func render(d Data) (subject, body string) {
	subject = fmt.Sprintf("[security] %s from %s", d.Type, d.IP)

	var b strings.Builder
	b.WriteString("<h2>Security alert</h2>")
	row := func(label, value string) {
		if value == "" {
			return
		}
		fmt.Fprintf(&b, "<p><b>%s:</b> %s</p>", label, html.EscapeString(value))
	}

	row("Type", string(d.Type))
	row("IP", d.IP)
	row("Endpoint", d.Endpoint)
	row("User agent", d.UserAgent)
	if d.ThreatScore > 0 {
		row("Threat score", fmt.Sprintf("%d", d.ThreatScore))
	}
	if len(d.Reasons) > 0 {
		row("Reasons", strings.Join(d.Reasons, ", "))
	}
	if d.RequestCount > 0 {
		row("Request count", fmt.Sprintf("%d", d.RequestCount))
	}
	if d.Threshold > 0 {
		row("Threshold", fmt.Sprintf("%d", d.Threshold))
	}
	row("Time", d.Timestamp.Format("2006-01-02 15:04:05 MST"))

	return subject, b.String()
}
