// Package prompt builds agent system prompts from background, steps, output
// instructions and dynamically registered context providers.
package prompt

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"text/template"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// ErrProviderNotFound is returned when a context provider name is not registered.
var ErrProviderNotFound = errors.New("context provider not found")

// DefaultBackground is used when a generator has no background lines.
const DefaultBackground = "This is a conversation with a helpful and friendly AI assistant."

// Output instructions appended to every prompt.
const (
	InstructionSchema  = "Always respond using the proper JSON schema."
	InstructionContext = "Always use the available additional information and context to enhance the response."
)

//go:embed system_prompt.tpl.md
var systemPromptTemplate string

//nolint:gochecknoglobals // parsed once
var tmpl = template.Must(template.New("system_prompt").Parse(systemPromptTemplate))

type section struct {
	Title string
	Items []string
}

type contextBlock struct {
	Title string
	Info  string
}

type templateData struct {
	Sections     []section
	Context      []contextBlock
	HasProviders bool
}

// Generator renders the system prompt. The zero value is ready to use and
// renders DefaultBackground.
type Generator struct {
	Background         []string
	Steps              []string
	OutputInstructions []string

	providers *orderedmap.OrderedMap[string, ContextProvider]
}

// New creates a generator. An empty background falls back to DefaultBackground.
func New(background, steps, outputInstructions []string) *Generator {
	return &Generator{
		Background:         background,
		Steps:              steps,
		OutputInstructions: outputInstructions,
		providers:          orderedmap.New[string, ContextProvider](),
	}
}

func (g *Generator) registry() *orderedmap.OrderedMap[string, ContextProvider] {
	if g.providers == nil {
		g.providers = orderedmap.New[string, ContextProvider]()
	}
	return g.providers
}

// RegisterProvider adds p under name. Re-registering a name replaces the
// provider but keeps its original position.
func (g *Generator) RegisterProvider(name string, p ContextProvider) {
	g.registry().Set(name, p)
}

// UnregisterProvider removes the provider registered under name.
func (g *Generator) UnregisterProvider(name string) error {
	if _, ok := g.registry().Delete(name); !ok {
		return fmt.Errorf("%w: %s", ErrProviderNotFound, name)
	}
	return nil
}

// Provider returns the provider registered under name.
func (g *Generator) Provider(name string) (ContextProvider, error) {
	p, ok := g.registry().Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotFound, name)
	}
	return p, nil
}

// ProviderNames returns the registered names in registration order.
func (g *Generator) ProviderNames() []string {
	providers := g.registry()
	names := make([]string, 0, providers.Len())
	for pair := providers.Oldest(); pair != nil; pair = pair.Next() {
		names = append(names, pair.Key)
	}
	return names
}

// Generate renders the prompt. Providers are queried on every call and
// each one gets its titled block, even when its info is empty.
func (g *Generator) Generate() (string, error) {
	providers := g.registry()
	data := templateData{HasProviders: providers.Len() > 0}

	background := g.Background
	if len(background) == 0 {
		background = []string{DefaultBackground}
	}

	outputInstructions := make([]string, 0, len(g.OutputInstructions)+2)
	outputInstructions = append(outputInstructions, g.OutputInstructions...)
	outputInstructions = append(outputInstructions, InstructionSchema, InstructionContext)

	for _, s := range []section{
		{Title: "IDENTITY and PURPOSE", Items: background},
		{Title: "INTERNAL ASSISTANT STEPS", Items: g.Steps},
		{Title: "OUTPUT INSTRUCTIONS", Items: outputInstructions},
	} {
		if len(s.Items) > 0 {
			data.Sections = append(data.Sections, s)
		}
	}

	for pair := providers.Oldest(); pair != nil; pair = pair.Next() {
		data.Context = append(data.Context, contextBlock{Title: pair.Value.Title(), Info: pair.Value.Info()})
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render system prompt: %w", err)
	}
	return strings.TrimSpace(buf.String()), nil
}
