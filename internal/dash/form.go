package dash

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"loadcast/internal/plan"
)

const (
	fieldTargets = iota
	fieldHeaders
	fieldUsers
	fieldDuration
	fieldRampUp
	fieldIterations
	fieldTimeout
	fieldCount
)

// formView composes a test plan: two textareas for targets and headers,
// numeric inputs for the rest.
type formView struct {
	targets textarea.Model
	headers textarea.Model
	inputs  []textinput.Model
	focus   int

	width  int
	height int
}

func newFormView(defaults *plan.TestPlan) formView {
	targets := textarea.New()
	targets.Placeholder = "GET http://localhost:8080/api/users\nPOST http://localhost:8080/api/orders"
	targets.SetWidth(60)
	targets.SetHeight(4)
	targets.Prompt = ""
	targets.Focus()

	headers := textarea.New()
	headers.Placeholder = "Key: Value\nX-Source: loadcast"
	headers.SetWidth(60)
	headers.SetHeight(3)
	headers.Prompt = ""

	inputs := make([]textinput.Model, fieldCount)
	for i := fieldUsers; i < fieldCount; i++ {
		inputs[i] = textinput.New()
		inputs[i].PromptStyle = subtleStyle
		inputs[i].TextStyle = textStyle
		inputs[i].Width = 10
	}
	inputs[fieldUsers].Prompt = "Users        : "
	inputs[fieldUsers].SetValue("10")
	inputs[fieldDuration].Prompt = "Duration (s) : "
	inputs[fieldDuration].SetValue("30")
	inputs[fieldRampUp].Prompt = "Ramp-up (s)  : "
	inputs[fieldRampUp].SetValue("0")
	inputs[fieldIterations].Prompt = "Iterations   : "
	inputs[fieldIterations].SetValue("0")
	inputs[fieldTimeout].Prompt = "Timeout (s)  : "
	inputs[fieldTimeout].SetValue("10")

	f := formView{targets: targets, headers: headers, inputs: inputs}
	if defaults != nil {
		f.applyDefaults(defaults)
	}
	return f
}

func (f *formView) applyDefaults(p *plan.TestPlan) {
	var lines []string
	for _, t := range p.Targets {
		method := t.Method
		if method == "" {
			method = http.MethodGet
		}
		lines = append(lines, method+" "+t.URITemplate)
	}
	f.targets.SetValue(strings.Join(lines, "\n"))

	var hdrs []string
	for k, vals := range p.Headers {
		for _, v := range vals {
			hdrs = append(hdrs, k+": "+v)
		}
	}
	f.headers.SetValue(strings.Join(hdrs, "\n"))

	f.inputs[fieldUsers].SetValue(strconv.Itoa(p.ConcurrentUsers))
	f.inputs[fieldDuration].SetValue(strconv.Itoa(p.DurationSeconds))
	f.inputs[fieldRampUp].SetValue(strconv.Itoa(p.RampUpSeconds))
	f.inputs[fieldIterations].SetValue(strconv.Itoa(p.Iterations))
	if p.RequestTimeout > 0 {
		f.inputs[fieldTimeout].SetValue(strconv.Itoa(int(p.RequestTimeout / time.Second)))
	}
}

func (f formView) Init() tea.Cmd {
	return textarea.Blink
}

func (f formView) Update(msg tea.Msg) (formView, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok {
		switch key.String() {
		case "tab":
			f.setFocus(f.focus + 1)
			return f, nil
		case "shift+tab":
			f.setFocus(f.focus - 1)
			return f, nil
		}
	}

	var cmd tea.Cmd
	switch f.focus {
	case fieldTargets:
		f.targets, cmd = f.targets.Update(msg)
	case fieldHeaders:
		f.headers, cmd = f.headers.Update(msg)
	default:
		f.inputs[f.focus], cmd = f.inputs[f.focus].Update(msg)
	}
	return f, cmd
}

func (f *formView) setFocus(focus int) {
	if focus < 0 {
		focus = fieldCount - 1
	}
	if focus >= fieldCount {
		focus = 0
	}
	f.focus = focus

	f.targets.Blur()
	f.headers.Blur()
	for i := fieldUsers; i < fieldCount; i++ {
		f.inputs[i].Blur()
	}
	switch focus {
	case fieldTargets:
		f.targets.Focus()
	case fieldHeaders:
		f.headers.Focus()
	default:
		f.inputs[focus].Focus()
	}
}

// Plan parses the form into a test plan. Target lines are either
// "METHOD url" or a bare url, which defaults to GET.
func (f formView) Plan() (*plan.TestPlan, error) {
	var targets []plan.Target
	for _, line := range strings.Split(f.targets.Value(), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		parts := strings.Fields(line)
		switch len(parts) {
		case 1:
			targets = append(targets, plan.Target{Method: http.MethodGet, URITemplate: parts[0]})
		case 2:
			targets = append(targets, plan.Target{Method: strings.ToUpper(parts[0]), URITemplate: parts[1]})
		default:
			return nil, fmt.Errorf("target line %q: want METHOD URL or URL", line)
		}
	}
	if len(targets) == 0 {
		return nil, fmt.Errorf("at least one target is required")
	}

	headers := http.Header{}
	for _, line := range strings.Split(f.headers.Value(), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		key, value, found := strings.Cut(line, ":")
		if !found {
			return nil, fmt.Errorf("header line %q: want Key: Value", line)
		}
		headers.Add(strings.TrimSpace(key), strings.TrimSpace(value))
	}

	users, err := f.intField(fieldUsers, "users")
	if err != nil {
		return nil, err
	}
	duration, err := f.intField(fieldDuration, "duration")
	if err != nil {
		return nil, err
	}
	rampUp, err := f.intField(fieldRampUp, "ramp-up")
	if err != nil {
		return nil, err
	}
	iterations, err := f.intField(fieldIterations, "iterations")
	if err != nil {
		return nil, err
	}
	timeout, err := f.intField(fieldTimeout, "timeout")
	if err != nil {
		return nil, err
	}

	p := &plan.TestPlan{
		ConcurrentUsers: users,
		DurationSeconds: duration,
		RampUpSeconds:   rampUp,
		Iterations:      iterations,
		RequestTimeout:  time.Duration(timeout) * time.Second,
		Targets:         targets,
	}
	if len(headers) > 0 {
		p.Headers = headers
	}
	return p, nil
}

func (f formView) intField(idx int, name string) (int, error) {
	v, err := strconv.Atoi(strings.TrimSpace(f.inputs[idx].Value()))
	if err != nil {
		return 0, fmt.Errorf("%s: %q is not a number", name, f.inputs[idx].Value())
	}
	return v, nil
}

func (f formView) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("📝 Compose Test Plan"))
	b.WriteString("\n\n")

	b.WriteString(f.fieldLabel(fieldTargets, "Targets (one per line)"))
	b.WriteString("\n")
	b.WriteString(f.targets.View())
	b.WriteString("\n\n")

	b.WriteString(f.fieldLabel(fieldHeaders, "Headers"))
	b.WriteString("\n")
	b.WriteString(f.headers.View())
	b.WriteString("\n\n")

	for i := fieldUsers; i < fieldCount; i++ {
		b.WriteString(f.inputs[i].View())
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(subtleStyle.Render("[Tab] Next Field   [Ctrl+R] Run"))
	return b.String()
}

func (f formView) fieldLabel(idx int, label string) string {
	if f.focus == idx {
		return lipgloss.NewStyle().Foreground(colorPrimary).Bold(true).Render(label)
	}
	return subtleStyle.Render(label)
}
