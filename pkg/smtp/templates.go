package smtp

// Template is a named plain-text mail. Both parts are text/template sources.
type Template struct {
	Subject string
	Body    string
}

var defaultTemplates = map[string]Template{
	"job_dead": {
		Subject: "[supportdesk] {{.Type}} job {{.JobID}} is DEAD",
		Body: `A background job exhausted its attempts and will not run again.

Job:      {{.JobID}}
Type:     {{.Type}}
Attempts: {{.Attempts}}/{{.MaxAttempts}}
Created:  {{.CreatedAt}}

Last error:
{{.Error}}

Re-enqueue it through POST /queue/jobs once the cause is fixed.
`,
	},
}
