package template

import (
	"errors"

	"github.com/phoebebright/newsletterd/internal/models"
	"github.com/phoebebright/newsletterd/internal/repository"
)

// Built-in fallbacks used when neither a newsletter-specific nor a
// shared stored template exists for an action.
var builtins = map[string]Source{
	ActionMessage: {
		Subject: "{{.newsletter.Title}}: {{.message.Title}}",
		Text: `{{.message.Body}}
{{range .message.Articles}}
{{.Title}}

{{.Text}}
{{if .URL}}{{.URL}}{{end}}
{{end}}
--
You receive this message because you are subscribed to {{.newsletter.Title}}.
Unsubscribe: {{.unsubscribe_url}}
`,
		HTML: `<html><body>
{{if .body_html}}{{.body_html}}{{else}}<p>{{.message.Body}}</p>{{end}}
{{range .message.Articles}}
<h2>{{.Title}}</h2>
<p>{{.Text}}</p>
{{if .URL}}<p><a href="{{.URL}}">Read more</a></p>{{end}}
{{end}}
<hr>
<p><small>You receive this message because you are subscribed to
{{.newsletter.Title}}. <a href="{{.unsubscribe_url}}">Unsubscribe</a>.</small></p>
</body></html>`,
	},
	ActionSubscribe: {
		Subject: "Confirm your subscription to {{.newsletter.Title}}",
		Text: `Someone, hopefully you, asked to subscribe {{.subscription.Email}} to
{{.newsletter.Title}}.

To confirm, follow this link:

{{.activation_url}}

If this was not you, ignore this message.
`,
	},
	ActionUnsubscribe: {
		Subject: "Confirm unsubscription from {{.newsletter.Title}}",
		Text: `Someone, hopefully you, asked to unsubscribe {{.subscription.Email}} from
{{.newsletter.Title}}.

To confirm, follow this link:

{{.activation_url}}

If this was not you, ignore this message.
`,
	},
}

// Resolver picks the template source for a (newsletter, action) pair:
// newsletter-specific stored template, then shared stored template,
// then the built-in fallback.
type Resolver struct {
	templates *repository.TemplateRepository
}

func NewResolver(templates *repository.TemplateRepository) *Resolver {
	return &Resolver{templates: templates}
}

func (r *Resolver) Resolve(newsletterID, action string) (Source, error) {
	stored, err := r.templates.Resolve(newsletterID, action)
	if err == nil {
		return Source{Subject: stored.Subject, Text: stored.Text, HTML: stored.HTML}, nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return Source{}, err
	}

	src, ok := builtins[action]
	if !ok {
		return Source{}, err
	}
	return src, nil
}
