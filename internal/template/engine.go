package template

import (
	"bytes"
	"fmt"
	htmlTemplate "html/template"
	"strings"
	textTemplate "text/template"
)

// Actions an email template can exist for.
const (
	ActionMessage     = "message"
	ActionSubscribe   = "subscribe"
	ActionUnsubscribe = "unsubscribe"
)

// Source is a subject/text/html template triple.
type Source struct {
	Subject string
	Text    string
	HTML    string
}

// RenderResult holds rendered email content.
type RenderResult struct {
	Subject string
	Text    string
	HTML    string
}

// Engine renders email templates with data
type Engine struct{}

// NewEngine creates a new template engine
func NewEngine() *Engine {
	return &Engine{}
}

// Render renders a template source with the provided data. The subject
// and text use text/template; HTML uses html/template with
// auto-escaping.
func (e *Engine) Render(src Source, data map[string]any) (*RenderResult, error) {
	result := &RenderResult{}

	subject, err := e.renderText("subject", src.Subject, data)
	if err != nil {
		return nil, fmt.Errorf("failed to render subject: %w", err)
	}
	result.Subject = strings.TrimSpace(subject)

	if src.Text != "" {
		text, err := e.renderText("text", src.Text, data)
		if err != nil {
			return nil, fmt.Errorf("failed to render text: %w", err)
		}
		result.Text = text
	}

	if src.HTML != "" {
		html, err := e.renderHTML("html", src.HTML, data)
		if err != nil {
			return nil, fmt.Errorf("failed to render html: %w", err)
		}
		result.HTML = html
	}

	return result, nil
}

// Validate checks if the template syntax is valid
func (e *Engine) Validate(src Source) error {
	if src.Subject != "" {
		if _, err := textTemplate.New("subject").Parse(src.Subject); err != nil {
			return fmt.Errorf("invalid subject template: %w", err)
		}
	}
	if src.Text != "" {
		if _, err := textTemplate.New("text").Parse(src.Text); err != nil {
			return fmt.Errorf("invalid text template: %w", err)
		}
	}
	if src.HTML != "" {
		if _, err := htmlTemplate.New("html").Parse(src.HTML); err != nil {
			return fmt.Errorf("invalid html template: %w", err)
		}
	}
	return nil
}

func (e *Engine) renderText(name, tmplStr string, data map[string]any) (string, error) {
	t, err := textTemplate.New(name).Parse(tmplStr)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func (e *Engine) renderHTML(name, tmplStr string, data map[string]any) (string, error) {
	t, err := htmlTemplate.New(name).Parse(tmplStr)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
