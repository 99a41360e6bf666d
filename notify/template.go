package notify

import (
	"bytes"
	"fmt"
	"sync"
	"text/template"
)

// Template pairs a subject line with a body template.
type Template struct {
	Subject string
	Body    string
}

// DefaultTemplates are the built-in message bodies. Expected vars:
//
//	registration:     token, username
//	password_reset:   token
//	account_frozen:   token
//	temp_password:    password
//	password_changed: token
func DefaultTemplates() map[Kind]Template {
	return map[Kind]Template{
		KindRegistration: {
			Subject: "Verify your account",
			Body:    "Hi {{.username}},\n\nYour verification token is {{.token}}.\n",
		},
		KindPasswordReset: {
			Subject: "Password reset requested",
			Body:    "A password reset was requested for your account.\nReset token: {{.token}}\n\nIf this wasn't you, ignore this message.\n",
		},
		KindAccountFrozen: {
			Subject: "Account frozen",
			Body:    "Your account was frozen after repeated failed sign-in attempts.\nUse this token to reset your password: {{.token}}\n",
		},
		KindTempPassword: {
			Subject: "Your temporary password",
			Body:    "Your temporary password is: {{.password}}\nSign in and change it immediately.\n",
		},
		KindPasswordChanged: {
			Subject: "Password changed",
			Body:    "Your password was just changed.\nIf this wasn't you, reset it now with this token: {{.token}}\n",
		},
	}
}

// Registry holds parsed templates keyed by Kind. Safe for concurrent use
// after construction; Register may be called at any time.
type Registry struct {
	mu        sync.RWMutex
	templates map[Kind]*parsedTemplate
}

type parsedTemplate struct {
	subject string
	body    *template.Template
}

// NewRegistry returns a Registry preloaded with DefaultTemplates.
func NewRegistry() (*Registry, error) {
	r := &Registry{templates: make(map[Kind]*parsedTemplate)}
	for kind, tmpl := range DefaultTemplates() {
		if err := r.Register(kind, tmpl); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register parses and stores (or replaces) the template for kind.
func (r *Registry) Register(kind Kind, tmpl Template) error {
	body, err := template.New(string(kind)).Parse(tmpl.Body)
	if err != nil {
		return fmt.Errorf("notify: parse template %s: %w", kind, err)
	}

	r.mu.Lock()
	r.templates[kind] = &parsedTemplate{subject: tmpl.Subject, body: body}
	r.mu.Unlock()
	return nil
}

// Render produces the subject and body for kind with vars applied.
func (r *Registry) Render(kind Kind, vars map[string]string) (subject, body string, err error) {
	r.mu.RLock()
	tmpl, ok := r.templates[kind]
	r.mu.RUnlock()
	if !ok {
		return "", "", fmt.Errorf("notify: unknown template %s", kind)
	}

	var buf bytes.Buffer
	if err := tmpl.body.Execute(&buf, vars); err != nil {
		return "", "", fmt.Errorf("notify: render template %s: %w", kind, err)
	}
	return tmpl.subject, buf.String(), nil
}
