package main

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/wippyai/js-runtime/runtime"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	promptStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	printStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	resultStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

const maxEntries = 200

type entry struct {
	input  string
	output string
	result string
	err    error
}

type interactiveModel struct {
	ctx     context.Context
	err     error
	rt      *runtime.Runtime
	out     *bytes.Buffer
	app     *app
	input   textinput.Model
	entries []entry
	history []string
	histIdx int
	busy    bool
}

type loadedMsg struct {
	err error
	rt  *runtime.Runtime
}

type evalResultMsg entry

func newInteractiveModel(ctx context.Context, a *app) *interactiveModel {
	ti := textinput.New()
	ti.Prompt = promptStyle.Render("> ")
	ti.Placeholder = "expression, or :ops :resources :help"
	ti.Width = 80
	ti.Focus()
	return &interactiveModel{
		ctx:   ctx,
		app:   a,
		out:   &bytes.Buffer{},
		input: ti,
	}
}

func (m *interactiveModel) Init() tea.Cmd {
	return tea.Batch(m.load, textinput.Blink)
}

func (m *interactiveModel) load() tea.Msg {
	rt, err := m.app.newRuntime(func(o *runtime.Options) {
		o.Stdout = m.out
		o.Stderr = m.out
	})
	if err != nil {
		return loadedMsg{err: err}
	}
	if err := m.app.runFiles(m.ctx, rt); err != nil {
		rt.Close()
		return loadedMsg{err: err}
	}
	return loadedMsg{rt: rt}
}

func (m *interactiveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "ctrl+d":
			if m.rt != nil {
				m.rt.Close()
			}
			return m, tea.Quit

		case "up":
			if m.histIdx > 0 {
				m.histIdx--
				m.input.SetValue(m.history[m.histIdx])
				m.input.CursorEnd()
			}
			return m, nil

		case "down":
			if m.histIdx < len(m.history)-1 {
				m.histIdx++
				m.input.SetValue(m.history[m.histIdx])
				m.input.CursorEnd()
			} else {
				m.histIdx = len(m.history)
				m.input.SetValue("")
			}
			return m, nil

		case "enter":
			src := strings.TrimSpace(m.input.Value())
			if src == "" || m.busy || m.rt == nil {
				return m, nil
			}
			m.history = append(m.history, src)
			m.histIdx = len(m.history)
			m.input.SetValue("")
			m.busy = true
			return m, m.evaluate(src)
		}

	case loadedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.rt = msg.rt

	case evalResultMsg:
		m.busy = false
		m.entries = append(m.entries, entry(msg))
		if len(m.entries) > maxEntries {
			m.entries = m.entries[len(m.entries)-maxEntries:]
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *interactiveModel) evaluate(src string) tea.Cmd {
	rt := m.rt
	return func() tea.Msg {
		m.out.Reset()
		e := entry{input: src}
		e.result, e.err = evalLine(m.ctx, rt, src)
		e.output = m.out.String()
		return evalResultMsg(e)
	}
}

// evalLine evaluates one REPL line. Lines starting with ':' are commands.
func evalLine(ctx context.Context, rt *runtime.Runtime, src string) (string, error) {
	switch src {
	case ":help":
		return ":ops        list registered ops\n:resources  list open resources\n:graph      list loaded modules", nil
	case ":ops":
		catalog := rt.Ops().Catalog()
		names := make([]string, 0, len(catalog))
		for name, id := range catalog {
			names = append(names, fmt.Sprintf("%3d %s", id, name))
		}
		sort.Strings(names)
		return strings.Join(names, "\n"), nil
	case ":resources":
		res := make(map[string]any)
		for id, tag := range rt.Resources().Entries() {
			res[fmt.Sprint(id)] = tag
		}
		return format(res), nil
	case ":graph":
		return strings.Join(rt.Graph().Specifiers(), "\n"), nil
	}

	v, err := rt.Eval(ctx, "repl", src)
	if err != nil {
		return "", err
	}
	return format(v), nil
}

func format(v any) string {
	switch x := v.(type) {
	case nil:
		return "undefined"
	case string:
		return fmt.Sprintf("%q", x)
	case map[string]any, []any:
		b, err := sonic.ConfigStd.MarshalIndent(x, "", "  ")
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(b)
	}
	return fmt.Sprint(v)
}

func (m *interactiveModel) View() string {
	if m.err != nil {
		return errorStyle.Render(fmt.Sprintf("Error: %v\n\nPress ctrl+c to quit.", m.err))
	}
	if m.rt == nil {
		return "Starting runtime..."
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("JS Runtime"))
	b.WriteString(" ")
	b.WriteString(m.rt.ID())
	b.WriteString("\n\n")

	for _, e := range m.entries {
		b.WriteString(promptStyle.Render("> "))
		b.WriteString(e.input)
		b.WriteString("\n")
		if e.output != "" {
			b.WriteString(printStyle.Render(strings.TrimRight(e.output, "\n")))
			b.WriteString("\n")
		}
		if e.err != nil {
			b.WriteString(errorStyle.Render(e.err.Error()))
		} else {
			b.WriteString(resultStyle.Render(e.result))
		}
		b.WriteString("\n")
	}

	b.WriteString(m.input.View())
	b.WriteString("\n\n")
	b.WriteString(helpStyle.Render("enter eval • ↑/↓ history • ctrl+c quit"))
	return b.String()
}

func runInteractive(ctx context.Context, a *app) error {
	p := tea.NewProgram(newInteractiveModel(ctx, a), tea.WithContext(ctx))
	_, err := p.Run()
	return err
}

// pipe evaluates stdin line by line when it is not a terminal.
func (a *app) pipe(ctx context.Context, r io.Reader) error {
	rt, err := a.newRuntime(nil)
	if err != nil {
		return fmt.Errorf("create runtime: %w", err)
	}
	defer rt.Close()
	if err := a.runFiles(ctx, rt); err != nil {
		return err
	}

	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		res, err := evalLine(ctx, rt, line)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			continue
		}
		fmt.Println(res)
	}
	return sc.Err()
}
