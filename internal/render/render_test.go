package render

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderer_Render(t *testing.T) {
	r := New()

	tests := []struct {
		name     string
		source   string
		vars     map[string]any
		expected string
	}{
		{
			name:     "plain text",
			source:   "Hello",
			expected: "Hello",
		},
		{
			name:     "variable",
			source:   "Hello {{ mail }}",
			vars:     map[string]any{"mail": "a@example.com"},
			expected: "Hello a@example.com",
		},
		{
			name:     "missing variable renders empty",
			source:   "[{{ site_name }}]",
			expected: "[]",
		},
		{
			name:     "filter",
			source:   "{{ newsletter_name | upcase }}",
			vars:     map[string]any{"newsletter_name": "weekly"},
			expected: "WEEKLY",
		},
		{
			name:     "conditional",
			source:   "{% if confirm_url %}Confirm: {{ confirm_url }}{% endif %}",
			vars:     map[string]any{"confirm_url": "https://example.com/c"},
			expected: "Confirm: https://example.com/c",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := r.Render(tt.source, tt.vars)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, out)
		})
	}
}

func TestRenderer_ParseError(t *testing.T) {
	r := New()
	_, err := r.Render("{% if mail %}unterminated", nil)
	assert.Error(t, err)
}

func TestRenderer_Concurrent(t *testing.T) {
	r := New()
	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := r.Render("n={{ n }}", map[string]any{"n": i})
			assert.NoError(t, err)
			assert.NotEmpty(t, out)
		}()
	}
	wg.Wait()
}
