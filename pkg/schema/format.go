package schema

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/charmbracelet/lipgloss"
)

// String returns the canonical compact JSON of v.
func String(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%+v", v)
	}
	return string(data)
}

//nolint:gochecknoglobals // render styles
var (
	borderStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("63")).
			Padding(0, 1)
	titleStyle = lipgloss.NewStyle().Bold(true)
)

// Render returns indented JSON of v in a rounded box titled with its type name.
func Render(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		data = []byte(fmt.Sprintf("%+v", v))
	}

	title := "<nil>"
	if v != nil {
		title = typeName(reflect.TypeOf(v))
	}
	return borderStyle.Render(titleStyle.Render(title) + "\n" + string(data))
}
