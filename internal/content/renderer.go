// Package content renders per-contact campaign content using the Liquid
// template language. Cold outreach lives or dies on personalization, so
// subject and body templates may reference any contact field:
//
//	Hi {{ first_name | default: "there" }}, saw that {{ company }} is hiring.
//
// Rendering is lax: a template error falls back to the raw template rather
// than failing the batch, so one malformed tag never blocks a send.
package content

import (
	"fmt"
	"strings"
	"sync"

	"github.com/osteele/liquid"

	"github.com/ignite/outreach-engine/internal/domain"
)

// Renderer renders Liquid templates with parsed-template caching.
type Renderer struct {
	engine *liquid.Engine
	cache  sync.Map // template source -> *liquid.Template
}

// NewRenderer creates a renderer with the outreach filter set registered.
func NewRenderer() *Renderer {
	r := &Renderer{engine: liquid.NewEngine()}
	r.registerFilters()
	return r
}

func (r *Renderer) registerFilters() {
	// {{ first_name | default: "there" }}
	r.engine.RegisterFilter("default", func(value interface{}, defaultVal string) interface{} {
		if value == nil {
			return defaultVal
		}
		s := fmt.Sprintf("%v", value)
		if s == "" || s == "<nil>" {
			return defaultVal
		}
		return value
	})

	// {{ name | capitalize }}
	r.engine.RegisterFilter("capitalize", func(s string) string {
		if len(s) == 0 {
			return s
		}
		return strings.ToUpper(string(s[0])) + strings.ToLower(s[1:])
	})

	// {{ company | possessive }} -> "Acme's"
	r.engine.RegisterFilter("possessive", func(s string) string {
		if s == "" {
			return s
		}
		if strings.HasSuffix(s, "s") {
			return s + "'"
		}
		return s + "'s"
	})
}

// Render renders one template with the given bindings. Returns the raw
// template on parse or render errors so callers never lose the send.
func (r *Renderer) Render(source string, bindings map[string]interface{}) (string, error) {
	if source == "" {
		return "", nil
	}

	var tpl *liquid.Template
	if cached, ok := r.cache.Load(source); ok {
		tpl = cached.(*liquid.Template)
	} else {
		parsed, err := r.engine.ParseString(source)
		if err != nil {
			return source, fmt.Errorf("parse template: %w", err)
		}
		r.cache.Store(source, parsed)
		tpl = parsed
	}

	out, err := tpl.RenderString(bindings)
	if err != nil {
		return source, fmt.Errorf("render template: %w", err)
	}
	return out, nil
}

// ContactBindings flattens a contact into template variables. Custom fields
// are merged in without overriding the standard ones.
func ContactBindings(c domain.Contact) map[string]interface{} {
	out := make(map[string]interface{}, len(c.Fields)+5)
	for k, v := range c.Fields {
		out[k] = v
	}
	out["email"] = c.Email
	out["first_name"] = c.FirstName
	out["last_name"] = c.LastName
	out["company"] = c.Company
	out["title"] = c.Title
	return out
}

// RenderMessage renders a campaign's subject and bodies for one contact.
// Each part falls back to its raw source independently on template errors;
// the first error encountered is returned for logging.
func (r *Renderer) RenderMessage(campaign *domain.Campaign, contact domain.Contact) (subject, html, text string, firstErr error) {
	bindings := ContactBindings(contact)

	subject, err := r.Render(campaign.Subject, bindings)
	if err != nil && firstErr == nil {
		firstErr = err
	}
	html, err = r.Render(campaign.HTMLContent, bindings)
	if err != nil && firstErr == nil {
		firstErr = err
	}
	text, err = r.Render(campaign.TextContent, bindings)
	if err != nil && firstErr == nil {
		firstErr = err
	}
	return subject, html, text, firstErr
}
