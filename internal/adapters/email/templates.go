package email

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	texttemplate "text/template"

	"github.com/rollboy-tz/mult-schools-management-system/internal/ports"
)

//go:embed templates/*.html
var templateFS embed.FS

var subjects = map[ports.EmailKind]string{
	ports.EmailFounderVerification: "Verify Your Account - {{.school_name}}",
	ports.EmailSchoolActivated:     "Welcome to {{.school_name}}",
	ports.EmailPasswordReset:       "Password Reset Code",
	ports.EmailPasswordChanged:     "Your Password Was Changed",
}

// Rendered is a message ready for a Sender.
type Rendered struct {
	Subject string
	HTML    string
}

// Templates renders every known EmailKind. Parsing happens once at startup.
type Templates struct {
	bodies   *template.Template
	subjects map[ports.EmailKind]*texttemplate.Template
}

func LoadTemplates() (*Templates, error) {
	bodies, err := template.New("email").Option("missingkey=zero").ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse email templates: %w", err)
	}
	t := &Templates{bodies: bodies, subjects: make(map[ports.EmailKind]*texttemplate.Template, len(subjects))}
	for kind, raw := range subjects {
		if bodies.Lookup(string(kind)+".html") == nil {
			return nil, fmt.Errorf("missing body template for %s", kind)
		}
		subject, err := texttemplate.New(string(kind)).Option("missingkey=zero").Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("parse subject for %s: %w", kind, err)
		}
		t.subjects[kind] = subject
	}
	return t, nil
}

func (t *Templates) Render(msg ports.EmailMessage) (Rendered, error) {
	subject, ok := t.subjects[msg.Kind]
	if !ok {
		return Rendered{}, fmt.Errorf("unknown email kind %q", msg.Kind)
	}
	data := msg.Data
	if data == nil {
		data = map[string]string{}
	}

	var subj bytes.Buffer
	if err := subject.Execute(&subj, data); err != nil {
		return Rendered{}, fmt.Errorf("render subject %s: %w", msg.Kind, err)
	}
	var body bytes.Buffer
	if err := t.bodies.ExecuteTemplate(&body, string(msg.Kind)+".html", data); err != nil {
		return Rendered{}, fmt.Errorf("render body %s: %w", msg.Kind, err)
	}
	return Rendered{Subject: subj.String(), HTML: body.String()}, nil
}
