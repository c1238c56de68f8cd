package catalog

import (
	"sync"

	"github.com/xenking/storefront-catalog/internal/catalog/variant"
	"github.com/xenking/storefront-catalog/internal/domain/product"
)

// Breadcrumb is one step of the derived navigation path.
type Breadcrumb struct {
	Name string
	Slug string
}

// Breadcrumbs is the navigation side output for the current product.
type Breadcrumbs struct {
	Name   string
	Routes []Breadcrumb
}

// State is the observable catalog state owned by the Service: the displayed
// product, its unconfigured original, a discovered configurable parent, the
// variant selection, and related-product groups.
//
// Entries are replaced wholesale on each resolution. Reads are safe from any
// goroutine; all writes go through the Service.
type State struct {
	mu sync.RWMutex

	current  *product.Product
	original *product.Product
	parent   *product.Product
	list     []*product.Product

	configuration map[string]variant.SelectedOption
	options       map[string][]variant.SelectedOption
	breadcrumbs   Breadcrumbs
	related       map[string][]*product.Product
}

// NewState returns an empty catalog state.
func NewState() *State {
	return &State{
		configuration: make(map[string]variant.SelectedOption),
		options:       make(map[string][]variant.SelectedOption),
		related:       make(map[string][]*product.Product),
	}
}

// Current returns the product currently displayed, which may be a resolved
// variant.
func (s *State) Current() *product.Product {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Original returns the unconfigured product as first retrieved.
func (s *State) Original() *product.Product {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.original
}

// Parent returns the configurable product discovered to contain the current
// product as a child, or nil.
func (s *State) Parent() *product.Product {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.parent
}

// List returns the last committed result page.
func (s *State) List() []*product.Product {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.list
}

// Configuration returns the selected option per attribute code.
func (s *State) Configuration() map[string]variant.SelectedOption {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]variant.SelectedOption, len(s.configuration))
	for k, v := range s.configuration {
		out[k] = v
	}
	return out
}

// Options returns the available choices per lower-cased attribute label,
// used to render variant selectors.
func (s *State) Options() map[string][]variant.SelectedOption {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string][]variant.SelectedOption, len(s.options))
	for k, v := range s.options {
		out[k] = append([]variant.SelectedOption(nil), v...)
	}
	return out
}

// CurrentBreadcrumbs returns the navigation path side output.
func (s *State) CurrentBreadcrumbs() Breadcrumbs {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.breadcrumbs
}

// Related returns the product group stored under the relation key.
func (s *State) Related(key string) []*product.Product {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.related[key]
}

func (s *State) setCurrent(p *product.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = p
}

func (s *State) setOriginal(p *product.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.original = p
}

func (s *State) setParent(p *product.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.parent = p
}

func (s *State) setList(items []*product.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.list = items
}

func (s *State) setRelated(key string, items []*product.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.related[key] = items
}

func (s *State) addOption(key string, opt variant.SelectedOption) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.options[key] = append(s.options[key], opt)
}

func (s *State) setConfiguration(code string, opt variant.SelectedOption) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configuration[code] = opt
}

func (s *State) setBreadcrumbs(b Breadcrumbs) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.breadcrumbs = b
}

// reset restores current to the original product (or an empty product when
// none) and clears configuration, options and parent.
func (s *State) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.original != nil {
		s.current = s.original
	} else {
		s.current = &product.Product{}
	}
	s.parent = nil
	s.configuration = make(map[string]variant.SelectedOption)
	s.options = make(map[string][]variant.SelectedOption)
}
