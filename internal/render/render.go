// Package render substitutes tokens in subjects and bodies using liquid
// templates.
package render

import (
	"fmt"
	"sync"

	"github.com/osteele/liquid"
)

// Renderer parses templates once and renders them with per-message
// variables. It is safe for concurrent use.
type Renderer struct {
	engine *liquid.Engine

	mu    sync.RWMutex
	cache map[string]*liquid.Template
}

func New() *Renderer {
	return &Renderer{
		engine: liquid.NewEngine(),
		cache:  make(map[string]*liquid.Template),
	}
}

// Render renders source with vars. Unknown variables render empty.
func (r *Renderer) Render(source string, vars map[string]any) (string, error) {
	tpl, err := r.parse(source)
	if err != nil {
		return "", err
	}
	out, rErr := tpl.RenderString(vars)
	if rErr != nil {
		return "", fmt.Errorf("render template: %w", rErr)
	}
	return out, nil
}

func (r *Renderer) parse(source string) (*liquid.Template, error) {
	r.mu.RLock()
	tpl, ok := r.cache[source]
	r.mu.RUnlock()
	if ok {
		return tpl, nil
	}

	tpl, pErr := r.engine.ParseString(source)
	if pErr != nil {
		return nil, fmt.Errorf("parse template: %w", pErr)
	}

	r.mu.Lock()
	r.cache[source] = tpl
	r.mu.Unlock()
	return tpl, nil
}
