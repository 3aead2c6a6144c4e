package mailer

import (
	"fmt"
	"sync"

	"github.com/osteele/liquid"
)

// Confirmation email templates, rendered with Liquid so deployments can
// swap them for branded variants without touching send code.
const confirmationHTMLTemplate = `<html>
<body>
  <p>Hello,</p>
  <p>You asked to join the mailing list <strong>{{ list_name }}</strong>.</p>
  <p>Please confirm your subscription by clicking the link below:</p>
  <p><a href="{{ confirm_url }}">Confirm subscription</a></p>
  <p>If you did not request this, you can ignore this email and you will
  not be subscribed.</p>
</body>
</html>`

const confirmationTextTemplate = `Hello,

You asked to join the mailing list "{{ list_name }}".

Please confirm your subscription by opening this link:

{{ confirm_url }}

If you did not request this, ignore this email and you will not be subscribed.`

// TemplateRenderer renders the notification emails the platform sends on
// its own behalf (currently just the opt-in confirmation). Parsed templates
// are cached; rendering is cheap and safe for concurrent use.
type TemplateRenderer struct {
	engine *liquid.Engine
	mu     sync.Mutex
	cache  map[string]*liquid.Template
}

// NewTemplateRenderer creates a renderer with a fresh Liquid engine.
func NewTemplateRenderer() *TemplateRenderer {
	return &TemplateRenderer{
		engine: liquid.NewEngine(),
		cache:  make(map[string]*liquid.Template),
	}
}

// ConfirmationEmail renders the opt-in confirmation email for a subscriber.
// confirmURL must be the full, signed-or-unguessable URL (the subscriber id
// is the capability).
func (r *TemplateRenderer) ConfirmationEmail(listName, confirmURL string) (htmlBody, textBody string, err error) {
	bindings := map[string]interface{}{
		"list_name":   listName,
		"confirm_url": confirmURL,
	}

	htmlBody, err = r.render(confirmationHTMLTemplate, bindings)
	if err != nil {
		return "", "", fmt.Errorf("render confirmation html: %w", err)
	}
	textBody, err = r.render(confirmationTextTemplate, bindings)
	if err != nil {
		return "", "", fmt.Errorf("render confirmation text: %w", err)
	}
	return htmlBody, textBody, nil
}

func (r *TemplateRenderer) render(src string, bindings map[string]interface{}) (string, error) {
	r.mu.Lock()
	tpl, ok := r.cache[src]
	if !ok {
		var err error
		tpl, err = r.engine.ParseString(src)
		if err != nil {
			r.mu.Unlock()
			return "", err
		}
		r.cache[src] = tpl
	}
	r.mu.Unlock()

	out, err := tpl.Render(bindings)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
