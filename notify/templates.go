package notify

import (
	"bytes"
	"fmt"
	"text/template"
)

const loginOTPBody = `Hi {{.Name}},

Your login code is {{.Code}}.
{{- if .Link}}

Or sign in with this link: {{.Link}}
{{- end}}

The code is valid for {{printf "%.f" .ExpiresIn.Minutes}} minutes.
If you did not try to sign in, you can ignore this message.
`

const recoveryOTPBody = `Hi {{.Name}},

Your password recovery code is {{.Code}}.

The code is valid for {{printf "%.f" .ExpiresIn.Minutes}} minutes.
If you did not ask to reset your password, you can ignore this message.
`

const registrationOTPBody = `Welcome {{.Name}},

Your verification code is {{.Code}}.
{{- if .Link}}

Or confirm with this link: {{.Link}}
{{- end}}

The code is valid for {{printf "%.f" .ExpiresIn.Minutes}} minutes.
`

const glidReminderBody = `Hi {{.Name}},

Your GLID is {{.GLID}}.
`

var defaultSubjects = map[Kind]string{
	KindLoginOTP:        "Your login code",
	KindRecoveryOTP:     "Password recovery",
	KindRegistrationOTP: "Verify your account",
	KindGLIDReminder:    "Your GLID",
}

// Templates renders message bodies per kind.
type Templates struct {
	subjects map[Kind]string
	bodies   map[Kind]*template.Template
}

// DefaultTemplates returns the built-in English templates.
func DefaultTemplates() *Templates {
	t, err := NewTemplates(map[Kind]string{
		KindLoginOTP:        loginOTPBody,
		KindRecoveryOTP:     recoveryOTPBody,
		KindRegistrationOTP: registrationOTPBody,
		KindGLIDReminder:    glidReminderBody,
	})
	if err != nil {
		panic(err)
	}
	return t
}

// NewTemplates parses bodies keyed by kind. Subjects default to the
// built-in ones.
func NewTemplates(bodies map[Kind]string) (*Templates, error) {
	t := &Templates{
		subjects: make(map[Kind]string, len(defaultSubjects)),
		bodies:   make(map[Kind]*template.Template, len(bodies)),
	}
	for k, v := range defaultSubjects {
		t.subjects[k] = v
	}
	for kind, body := range bodies {
		parsed, err := template.New(string(kind)).Option("missingkey=error").Parse(body)
		if err != nil {
			return nil, fmt.Errorf("notify: parse %s template: %w", kind, err)
		}
		t.bodies[kind] = parsed
	}
	return t, nil
}

// Render returns the subject and body of msg.
func (t *Templates) Render(msg Message) (string, string, error) {
	tmpl, ok := t.bodies[msg.Kind]
	if !ok {
		return "", "", fmt.Errorf("notify: no template for %s", msg.Kind)
	}
	if msg.Name == "" {
		msg.Name = "there"
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, msg); err != nil {
		return "", "", fmt.Errorf("notify: render %s: %w", msg.Kind, err)
	}
	return t.subjects[msg.Kind], buf.String(), nil
}
