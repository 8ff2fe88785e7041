// Package template renders the two template dialects used in pipeline
// configs and caches compiled templates.
package template

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/Masterminds/sprig/v3"
	"github.com/cbroglie/mustache"
	"github.com/flosch/pongo2/v6"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

// Engine names a template dialect.
type Engine string

const (
	Mustache Engine = "mustache"
	Nunjucks Engine = "nunjucks"
)

// DefaultCacheSize is the number of compiled templates kept per renderer.
const DefaultCacheSize = 512

// Renderer renders templates, caching compiled forms in a bounded LRU.
// Concurrent compiles of the same source share one compilation.
type Renderer struct {
	cache *lru.Cache[string, compiled]
	group singleflight.Group
}

type compiled interface {
	render(scope map[string]any) (string, error)
}

// New creates a renderer caching up to size templates.
func New(size int) (*Renderer, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New[string, compiled](size)
	if err != nil {
		return nil, fmt.Errorf("create template cache: %w", err)
	}
	return &Renderer{cache: cache}, nil
}

// HasTemplate reports whether s contains template markers.
func HasTemplate(s string) bool {
	return strings.Contains(s, "{{")
}

// Render renders src in the given dialect against scope. Output is
// HTML-escaped when autoescape is set.
func (r *Renderer) Render(engine Engine, src string, scope map[string]any, autoescape bool) (string, error) {
	tmpl, err := r.compile(engine, src, autoescape)
	if err != nil {
		return "", err
	}
	return tmpl.render(scope)
}

// Len returns the number of cached templates.
func (r *Renderer) Len() int {
	return r.cache.Len()
}

func (r *Renderer) compile(engine Engine, src string, autoescape bool) (compiled, error) {
	key := fmt.Sprintf("%s:%t:%s", engine, autoescape, src)
	if tmpl, ok := r.cache.Get(key); ok {
		return tmpl, nil
	}

	v, err, _ := r.group.Do(key, func() (any, error) {
		var (
			tmpl compiled
			err  error
		)
		switch engine {
		case Mustache:
			tmpl, err = compileMustache(src, autoescape)
		case Nunjucks:
			tmpl, err = compileNunjucks(src, autoescape)
		default:
			return nil, fmt.Errorf("unknown template engine %q", engine)
		}
		if err != nil {
			return nil, err
		}
		r.cache.Add(key, tmpl)
		return tmpl, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(compiled), nil
}

type mustacheTemplate struct {
	tmpl *mustache.Template
}

func compileMustache(src string, autoescape bool) (compiled, error) {
	tmpl, err := mustache.ParseStringRaw(src, !autoescape)
	if err != nil {
		return nil, fmt.Errorf("parse mustache template: %w", err)
	}
	return &mustacheTemplate{tmpl: tmpl}, nil
}

func (m *mustacheTemplate) render(scope map[string]any) (string, error) {
	out, err := m.tmpl.Render(scope)
	if err != nil {
		return "", fmt.Errorf("render mustache template: %w", err)
	}
	return out, nil
}

type nunjucksTemplate struct {
	tmpl *pongo2.Template
}

func compileNunjucks(src string, autoescape bool) (compiled, error) {
	registerFilters()
	mode := "off"
	if autoescape {
		mode = "on"
	}
	tmpl, err := pongo2.FromString("{% autoescape " + mode + " %}" + rewriteScopeRefs(src) + "{% endautoescape %}")
	if err != nil {
		return nil, fmt.Errorf("parse nunjucks template: %w", err)
	}
	return &nunjucksTemplate{tmpl: tmpl}, nil
}

func (n *nunjucksTemplate) render(scope map[string]any) (string, error) {
	out, err := n.tmpl.Execute(nunjucksScope(scope))
	if err != nil {
		return "", fmt.Errorf("render nunjucks template: %w", err)
	}
	return out, nil
}

// identifier matches names pongo2 accepts as context keys.
var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// scopeName is the identifier an "@name" variable is exposed under.
func scopeName(name string) string {
	return "_at_" + strings.ReplaceAll(name, "$", "_S_")
}

// nunjucksScope exposes "@name" variables under scopeName(name) and, when
// no plain key claims it, under the bare name. Keys that are not valid
// identifiers are dropped.
func nunjucksScope(scope map[string]any) pongo2.Context {
	out := make(pongo2.Context, len(scope)*2)
	for k, v := range scope {
		if identifier.MatchString(k) {
			out[k] = v
		}
	}
	for k, v := range scope {
		name, ok := strings.CutPrefix(k, "@")
		if !ok || name == "" {
			continue
		}
		out[scopeName(name)] = v
		if _, exists := out[name]; !exists && identifier.MatchString(name) {
			out[name] = v
		}
	}
	return out
}

// tagPattern matches variable and statement tags.
var tagPattern = regexp.MustCompile(`(?s)\{\{.*?\}\}|\{%.*?%\}`)

// rewriteScopeRefs replaces "@name" references inside tags with
// scopeName(name). Quoted strings are left alone.
func rewriteScopeRefs(src string) string {
	if !strings.Contains(src, "@") {
		return src
	}
	return tagPattern.ReplaceAllStringFunc(src, func(tag string) string {
		var (
			b     strings.Builder
			quote byte
		)
		for i := 0; i < len(tag); i++ {
			c := tag[i]
			switch {
			case quote != 0:
				b.WriteByte(c)
				if c == '\\' && i+1 < len(tag) {
					i++
					b.WriteByte(tag[i])
				} else if c == quote {
					quote = 0
				}
			case c == '"' || c == '\'':
				quote = c
				b.WriteByte(c)
			case c == '@' && (i == 0 || !isNameByte(tag[i-1])) && i+1 < len(tag) && isNameStart(tag[i+1]):
				j := i + 1
				for j < len(tag) && isNameByte(tag[j]) {
					j++
				}
				b.WriteString(scopeName(tag[i+1 : j]))
				i = j - 1
			default:
				b.WriteByte(c)
			}
		}
		return b.String()
	})
}

func isNameStart(c byte) bool {
	return c == '_' || c == '$' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isNameByte(c byte) bool {
	return isNameStart(c) || (c >= '0' && c <= '9')
}

var filtersOnce sync.Once

// registerFilters adds the nunjucks filters pongo2 lacks, backed by sprig.
func registerFilters() {
	filtersOnce.Do(func() {
		funcs := sprig.GenericFuncMap()
		if trim, ok := funcs["trim"].(func(string) string); ok {
			addFilter("trim", func(in, _ *pongo2.Value) (*pongo2.Value, *pongo2.Error) {
				return pongo2.AsValue(trim(in.String())), nil
			})
		}
		if toJSON, ok := funcs["toJson"].(func(any) string); ok {
			addFilter("dump", func(in, _ *pongo2.Value) (*pongo2.Value, *pongo2.Error) {
				return pongo2.AsSafeValue(toJSON(in.Interface())), nil
			})
		}
		if indent, ok := funcs["indent"].(func(int, string) string); ok {
			addFilter("indent", func(in, param *pongo2.Value) (*pongo2.Value, *pongo2.Error) {
				width := 4
				if !param.IsNil() {
					width = param.Integer()
				}
				return pongo2.AsValue(indent(width, in.String())), nil
			})
		}
	})
}

func addFilter(name string, fn pongo2.FilterFunction) {
	if !pongo2.FilterExists(name) {
		_ = pongo2.RegisterFilter(name, fn)
	}
}
