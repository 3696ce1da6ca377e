package printer

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"go.yaml.in/yaml/v3"
)

// Printer writes API objects in the selected output format
type Printer struct {
	out        io.Writer
	outputType OutputType
	wide       bool
}

// New creates a new printer with the specified output type
func New(outputType OutputType, wide bool) *Printer {
	return &Printer{
		out:        os.Stdout,
		outputType: outputType,
		wide:       wide,
	}
}

// SetOutput sets the output writer
func (p *Printer) SetOutput(out io.Writer) {
	p.out = out
}

// Wide reports whether table output should include the extra columns
func (p *Printer) Wide() bool {
	return p.wide || p.outputType == OutputTypeWide
}

// Structured reports whether the output type is a serialization rather than a table
func (p *Printer) Structured() bool {
	return p.outputType == OutputTypeJSON || p.outputType == OutputTypeYAML
}

// Print writes data as JSON or YAML. Table output is rendered by the caller.
func (p *Printer) Print(data any) error {
	switch p.outputType {
	case OutputTypeYAML:
		return p.PrintYAML(data)
	case OutputTypeJSON:
		return p.PrintJSON(data)
	}
	return fmt.Errorf("output type %q is not a structured format", p.outputType)
}

// PrintJSON prints data in JSON format
func (p *Printer) PrintJSON(data any) error {
	encoder := json.NewEncoder(p.out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

// PrintYAML prints data in YAML format. Field names follow the JSON tags so
// both formats describe objects the same way.
func (p *Printer) PrintYAML(data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return err
	}
	encoder := yaml.NewEncoder(p.out)
	encoder.SetIndent(2)
	if err := encoder.Encode(generic); err != nil {
		return err
	}
	return encoder.Close()
}

// PrintSuccess prints a success message with kubectl-style formatting
func PrintSuccess(message string) {
	_, _ = fmt.Fprintf(os.Stdout, "✓ %s\n", message)
}

// PrintError prints an error message
func PrintError(message string) {
	fmt.Fprintf(os.Stderr, "Error: %s\n", message)
}

// PrintWarning prints a warning message
func PrintWarning(message string) {
	_, _ = fmt.Fprintf(os.Stdout, "Warning: %s\n", message)
}

// PrintInfo prints an info message
func PrintInfo(message string) {
	_, _ = fmt.Fprintf(os.Stdout, "%s\n", message)
}

// FormatTimestamp formats a timestamp in kubectl style
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05Z")
}

// FormatAge formats the time since t as a kubectl-style age string (e.g., "5d", "3h", "45m").
// A nil or zero time renders as "<none>".
func FormatAge(t *time.Time, now time.Time) string {
	if t == nil || t.IsZero() {
		return "<none>"
	}
	duration := now.Sub(*t)
	if duration < 0 {
		duration = 0
	}

	if days := int(duration.Hours() / 24); days > 0 {
		return fmt.Sprintf("%dd", days)
	}
	if hours := int(duration.Hours()); hours > 0 {
		return fmt.Sprintf("%dh", hours)
	}
	if minutes := int(duration.Minutes()); minutes > 0 {
		return fmt.Sprintf("%dm", minutes)
	}
	return fmt.Sprintf("%ds", int(duration.Seconds()))
}
