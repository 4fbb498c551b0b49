package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html/template"
	"sort"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/iliyamo/grant-search-mailer/internal/model"
)

const abstractExcerptRunes = 400

// Message is a rendered email.
type Message struct {
	Subject string
	Text    string
	HTML    string
}

type projectLine struct {
	Title        string
	Investigator string
	Organization string
	Award        string
	FiscalYear   string
	Abstract     string
}

type criterionLine struct {
	Key   string
	Value string
}

type emailData struct {
	Count    int
	Projects []projectLine
	Criteria []criterionLine
}

var htmlTmpl = template.Must(template.New("results").Parse(`<!DOCTYPE html>
<html><body style="font-family:Arial,sans-serif;color:#222">
<h2>Your NIH grant search</h2>
<p>We found {{.Count}} matching project(s).</p>
{{if .Criteria}}<p><strong>Search criteria</strong></p><ul>{{range .Criteria}}<li>{{.Key}}: {{.Value}}</li>{{end}}</ul>{{end}}
{{range .Projects}}<div style="border-top:1px solid #ddd;padding:12px 0">
<h3 style="margin:0 0 6px">{{.Title}}</h3>
<p style="margin:0"><strong>PI:</strong> {{.Investigator}}<br><strong>Organization:</strong> {{.Organization}}<br><strong>Award:</strong> {{.Award}} &middot; <strong>FY:</strong> {{.FiscalYear}}</p>
{{if .Abstract}}<p style="color:#555">{{.Abstract}}</p>{{end}}
</div>{{else}}<p>No projects matched your criteria this time.</p>{{end}}
</body></html>`))

// Render builds the subject, plain-text and HTML bodies for a result set.
func Render(projects []model.Project, criteria model.Criteria) (Message, error) {
	printer := message.NewPrinter(language.English)
	data := emailData{Count: len(projects), Criteria: criteriaLines(criteria)}
	for _, p := range projects {
		lead := p.LeadInvestigator()
		data.Projects = append(data.Projects, projectLine{
			Title:        orNA(p.ProjectTitle),
			Investigator: orNA(lead.FullName),
			Organization: orNA(lead.OrgName),
			Award:        printer.Sprintf("$%d", int64(p.AwardAmount)),
			FiscalYear:   fiscalYear(p.FiscalYear),
			Abstract:     excerpt(p.AbstractText, abstractExcerptRunes),
		})
	}

	var html bytes.Buffer
	if err := htmlTmpl.Execute(&html, data); err != nil {
		return Message{}, fmt.Errorf("render html: %w", err)
	}
	return Message{
		Subject: fmt.Sprintf("Your NIH grant search: %d project(s)", len(projects)),
		Text:    renderText(data),
		HTML:    html.String(),
	}, nil
}

func renderText(d emailData) string {
	var b strings.Builder
	fmt.Fprintf(&b, "We found %d matching project(s).\n", d.Count)
	if len(d.Criteria) > 0 {
		b.WriteString("\nSearch criteria:\n")
		for _, c := range d.Criteria {
			fmt.Fprintf(&b, "  %s: %s\n", c.Key, c.Value)
		}
	}
	for i, p := range d.Projects {
		fmt.Fprintf(&b, "\n%d. %s\n   PI: %s (%s)\n   Award: %s, FY %s\n", i+1, p.Title, p.Investigator, p.Organization, p.Award, p.FiscalYear)
		if p.Abstract != "" {
			fmt.Fprintf(&b, "   %s\n", p.Abstract)
		}
	}
	return b.String()
}

// criteriaLines flattens criteria into sorted key/value pairs. Non-string
// values are shown as compact JSON.
func criteriaLines(c model.Criteria) []criterionLine {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	lines := make([]criterionLine, 0, len(keys))
	for _, k := range keys {
		var v string
		switch t := c[k].(type) {
		case string:
			v = t
		default:
			raw, err := json.Marshal(t)
			if err != nil {
				v = fmt.Sprint(t)
			} else {
				v = string(raw)
			}
		}
		lines = append(lines, criterionLine{Key: k, Value: v})
	}
	return lines
}

func excerpt(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return strings.TrimSpace(string(r[:max])) + "…"
}

func fiscalYear(fy int) string {
	if fy == 0 {
		return "N/A"
	}
	return fmt.Sprint(fy)
}

func orNA(s string) string {
	if strings.TrimSpace(s) == "" {
		return "N/A"
	}
	return s
}
