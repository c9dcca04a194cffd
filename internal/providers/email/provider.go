package email

import "context"

type Provider interface {
	Send(ctx context.Context, to []string, subject string, htmlBody string) error
	SendTemplate(ctx context.Context, to []string, templateName string, data TemplateData) error
}

// TemplateData is rendered into templates/<name>.html. Subject overrides the
// template default when set.
type TemplateData struct {
	Subject string
	Fields  map[string]any
}
