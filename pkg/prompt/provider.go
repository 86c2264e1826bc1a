package prompt

// ContextProvider supplies a titled block of dynamic information that is
// appended to the system prompt each time it is generated.
type ContextProvider interface {
	Title() string
	Info() string
}

// StaticProvider is a ContextProvider with fixed content.
type StaticProvider struct {
	ProviderTitle string
	Content       string
}

func (p *StaticProvider) Title() string { return p.ProviderTitle }
func (p *StaticProvider) Info() string  { return p.Content }

// ProviderFunc adapts a function to a ContextProvider.
//
//	gen.RegisterProvider("clock", prompt.ProviderFunc("Current Date", func() string {
//		return time.Now().Format(time.DateOnly)
//	}))
func ProviderFunc(title string, info func() string) ContextProvider {
	return providerFunc{title: title, info: info}
}

type providerFunc struct {
	title string
	info  func() string
}

func (p providerFunc) Title() string { return p.title }
func (p providerFunc) Info() string  { return p.info() }
