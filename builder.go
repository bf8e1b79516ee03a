package strata

import (
	"fmt"
	"slices"
)

// FlowBuilder provides a fluent API for defining layer templates:
//
//	flow, _ := strata.NewInMemoryFlow("etl")
//	err := strata.New().
//	    Layer("etl.Fetch", fetch).
//	    Layer("etl.Parse", parse).Input("raw", "etl.Fetch").ForEach("etl.Fetch", "pages").
//	    Layer("etl.Store", store).Input("rows", "etl.Parse").WithRetry(strata.Retry(3).Policy()).
//	    Register(flow)
//
// Input, ForEach, ForEachAt, WithContainer and WithRetry apply to the most
// recently added layer.
type FlowBuilder struct {
	templates []Template
}

// New creates an empty builder.
func New() *FlowBuilder {
	return &FlowBuilder{}
}

// Layer appends a template running fn.
func (b *FlowBuilder) Layer(name string, fn LayerFunc) *FlowBuilder {
	if name == "" {
		panic("strata: layer name must not be empty")
	}
	if fn == nil {
		panic(fmt.Sprintf("strata: layer %q has nil function", name))
	}
	b.templates = append(b.templates, Template{Name: name, Run: fn})
	return b
}

func (b *FlowBuilder) last(method string) *Template {
	if len(b.templates) == 0 {
		panic(fmt.Sprintf("strata: %s called before Layer", method))
	}
	return &b.templates[len(b.templates)-1]
}

// Input binds the input name of the current layer to the upstream layer.
func (b *FlowBuilder) Input(name, layer string) *FlowBuilder {
	t := b.last("Input")
	t.Inputs = append(t.Inputs, Input{Name: name, Layer: layer})
	return b
}

// ForEach fans the current layer out over every element of attribute in
// every split of layer.
func (b *FlowBuilder) ForEach(layer, attribute string) *FlowBuilder {
	t := b.last("ForEach")
	t.Config.ForEach = append(t.Config.ForEach, Parameter{Layer: layer, Attribute: attribute})
	return b
}

// ForEachAt is like ForEach but only reads split index of layer.
func (b *FlowBuilder) ForEachAt(layer, attribute string, index int) *FlowBuilder {
	t := b.last("ForEachAt")
	t.Config.ForEach = append(t.Config.ForEach, Parameter{Layer: layer, Attribute: attribute, Index: &index})
	return b
}

// WithContainer attaches resource limits to the current layer.
func (b *FlowBuilder) WithContainer(spec ContainerSpec) *FlowBuilder {
	t := b.last("WithContainer")
	// Copy so callers can reuse spec after the call.
	c := spec
	t.Config.Container = &c
	return b
}

// WithRetry sets the retry policy of the current layer.
func (b *FlowBuilder) WithRetry(retry RetryPolicy) *FlowBuilder {
	t := b.last("WithRetry")
	r := retry
	t.Config.Retry = &r
	return b
}

// Templates returns a copy of the templates built so far.
func (b *FlowBuilder) Templates() []Template {
	return slices.Clone(b.templates)
}

// Register registers every built template on f, stopping at the first
// error.
func (b *FlowBuilder) Register(f *Flow) error {
	for _, t := range b.templates {
		if err := f.Register(t); err != nil {
			return err
		}
	}
	return nil
}

// MustRegister is like Register but panics on error.
// Useful for initialization in main().
func (b *FlowBuilder) MustRegister(f *Flow) {
	if err := b.Register(f); err != nil {
		panic(err)
	}
}
