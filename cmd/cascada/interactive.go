package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"gopkg.in/yaml.v3"

	"github.com/geleto/cascada/ir"
)

const renderTimeout = 5 * time.Second

const sampleTemplate = `{% set total = 0 %}
{% for item in items %}{% set total = total + item %}{% endfor %}
Hello {{ name }}, total {{ total }}`

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	modeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	resultStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

type focus int

const (
	focusTemplate focus = iota
	focusData
)

type view int

const (
	viewOutput view = iota
	viewIR
)

// playground is the bubbletea model of the interactive mode: a template
// editor, a one-line YAML context and the rendered result.
type playground struct {
	opts    options
	sess    *session
	editor  textarea.Model
	data    textinput.Model
	focus   focus
	view    view
	seq     int
	result  string
	outputs string
	err     error
	width   int
}

type renderedMsg struct {
	err     error
	seq     int
	result  string
	outputs string
}

func newPlayground(o options, sess *session, src string) *playground {
	ed := textarea.New()
	ed.Placeholder = "{{ template }}"
	ed.ShowLineNumbers = true
	ed.SetWidth(80)
	ed.SetHeight(10)
	ed.SetValue(src)
	ed.Focus()

	data := textinput.New()
	data.Prompt = "data: "
	data.Placeholder = "{name: Ada, items: [1, 2, 3]}"
	data.Width = 72
	data.SetValue("{name: Ada, items: [1, 2, 3]}")

	return &playground{opts: o, sess: sess, editor: ed, data: data, width: 80}
}

func (m *playground) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, m.render())
}

// render renders the current template in the background. Results of
// renders started before the latest edit are dropped in Update.
func (m *playground) render() tea.Cmd {
	m.seq++
	seq := m.seq
	src := m.editor.Value()
	rawData := m.data.Value()
	sess := m.sess
	showIR := m.view == viewIR

	return func() tea.Msg {
		data, err := parseData([]byte(rawData))
		if err != nil {
			return renderedMsg{seq: seq, err: err}
		}
		prog, err := sess.env.Compile("<string>", src)
		if err != nil {
			return renderedMsg{seq: seq, err: diagnostic(err, src)}
		}
		if showIR {
			return renderedMsg{seq: seq, result: ir.String(prog)}
		}

		ctx, cancel := context.WithTimeout(context.Background(), renderTimeout)
		defer cancel()
		res, err := sess.env.RenderProgram(ctx, prog, data)
		if err != nil {
			return renderedMsg{seq: seq, err: diagnostic(err, src)}
		}
		msg := renderedMsg{seq: seq, result: res.Text}
		if len(res.Outputs) > 0 {
			out, err := yaml.Marshal(res.Outputs)
			if err == nil {
				msg.outputs = string(out)
			}
		}
		return msg
	}
}

// diagnostic renders err the way the command line prints it.
func diagnostic(err error, src string) error {
	var b bytes.Buffer
	writeError(&b, err, func(name string) (string, bool) {
		if name == "<string>" {
			return src, true
		}
		return "", false
	})
	return fmt.Errorf("%s", strings.TrimSpace(b.String()))
}

func (m *playground) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit

		case "tab":
			if m.focus == focusTemplate {
				m.focus = focusData
				m.editor.Blur()
				return m, m.data.Focus()
			}
			m.focus = focusTemplate
			m.data.Blur()
			return m, m.editor.Focus()

		case "ctrl+s":
			m.opts.sync = !m.opts.sync
			sess, _, err := newSession(context.Background(), m.opts)
			if err != nil {
				m.err = err
				return m, nil
			}
			m.sess.close(context.Background())
			m.sess = sess
			return m, m.render()

		case "ctrl+t":
			if m.view == viewOutput {
				m.view = viewIR
			} else {
				m.view = viewOutput
			}
			return m, m.render()
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.editor.SetWidth(msg.Width - 2)
		m.data.Width = msg.Width - 10
		return m, nil

	case renderedMsg:
		if msg.seq != m.seq {
			return m, nil
		}
		m.result, m.outputs, m.err = msg.result, msg.outputs, msg.err
		return m, nil
	}

	var cmd tea.Cmd
	before := m.editor.Value() + "\x00" + m.data.Value()
	if m.focus == focusTemplate {
		m.editor, cmd = m.editor.Update(msg)
	} else {
		m.data, cmd = m.data.Update(msg)
	}
	if m.editor.Value()+"\x00"+m.data.Value() != before {
		return m, tea.Batch(cmd, m.render())
	}
	return m, cmd
}

func (m *playground) View() string {
	var b strings.Builder

	mode := "async"
	if m.opts.sync {
		mode = "sync"
	}
	b.WriteString(titleStyle.Render("Cascada Playground"))
	b.WriteString(" ")
	b.WriteString(modeStyle.Render(mode))
	b.WriteString("\n\n")

	b.WriteString(labelStyle.Render("template"))
	b.WriteString("\n")
	b.WriteString(m.editor.View())
	b.WriteString("\n\n")
	b.WriteString(m.data.View())
	b.WriteString("\n\n")

	label := "output"
	if m.view == viewIR {
		label = "program"
	}
	b.WriteString(labelStyle.Render(label))
	b.WriteString("\n")
	if m.err != nil {
		b.WriteString(errorStyle.Render(m.err.Error()))
	} else {
		b.WriteString(resultStyle.Render(m.result))
		if m.outputs != "" {
			b.WriteString("\n")
			b.WriteString(labelStyle.Render("handlers"))
			b.WriteString("\n")
			b.WriteString(m.outputs)
		}
	}
	b.WriteString("\n\n")
	b.WriteString(helpStyle.Render("tab switch field • ctrl+s sync/async • ctrl+t output/program • esc quit"))
	return b.String()
}

func runInteractive(o options) error {
	ctx := context.Background()
	sess, name, err := newSession(ctx, o)
	if err != nil {
		return err
	}

	src := sampleTemplate
	switch {
	case o.inline != "":
		src = o.inline
	case name != "":
		if text, ok := sess.source(name); ok {
			src = text
		}
	}

	m := newPlayground(o, sess, src)
	if o.dataFile != "" {
		raw, err := os.ReadFile(o.dataFile)
		if err != nil {
			sess.close(ctx)
			return fmt.Errorf("read data: %w", err)
		}
		// the data field is one line; flow style keeps it on one
		var data map[string]any
		if err := yaml.Unmarshal(raw, &data); err != nil {
			sess.close(ctx)
			return fmt.Errorf("parse data: %w", err)
		}
		m.data.SetValue(flowYAML(data))
	}

	p := tea.NewProgram(m, tea.WithAltScreen())
	_, err = p.Run()
	m.sess.close(ctx)
	return err
}

// flowYAML encodes data as single-line flow-style YAML.
func flowYAML(data map[string]any) string {
	var node yaml.Node
	if err := node.Encode(data); err != nil {
		return ""
	}
	setFlow(&node)
	out, err := yaml.Marshal(&node)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}

func setFlow(n *yaml.Node) {
	n.Style |= yaml.FlowStyle
	for _, c := range n.Content {
		setFlow(c)
	}
}
