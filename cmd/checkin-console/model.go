package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/micro-nova/checkin-go/internal/models"
)

const requestTimeout = 5 * time.Second

type inputMode int

const (
	inputNone inputMode = iota
	inputMax
	inputCard
)

type (
	tickMsg  time.Time
	stateMsg struct {
		state models.State
		err   error
	}
	membersMsg struct {
		members models.MembersResponse
		err     error
	}
	actionMsg struct {
		what string
		err  error
	}
)

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	faintStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	selectedStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15")).Background(lipgloss.Color("4"))
	panelStyle    = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)

	okColor   = lipgloss.Color("10")
	warnColor = lipgloss.Color("11")
	fullColor = lipgloss.Color("9")
)

// Model is the console's bubbletea model.
type Model struct {
	client   *Client
	keys     KeyMap
	help     help.Model
	interval time.Duration

	state    models.State
	loaded   bool
	fetchErr error

	selected    int
	mode        inputMode
	input       textinput.Model
	armedReset  bool
	lastCard    models.CardNumber
	showMembers bool
	members     []models.CardNumber

	status    string
	statusErr bool
	width     int
}

// NewModel returns a console model polling client every interval.
func NewModel(client *Client, interval time.Duration) Model {
	in := textinput.New()
	in.CharLimit = 10
	return Model{
		client:   client,
		keys:     DefaultKeyMap,
		help:     help.New(),
		interval: interval,
		input:    in,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.fetchState(), m.tick())
}

func (m Model) tick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) fetchState() tea.Cmd {
	c := m.client
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		st, err := c.State(ctx)
		return stateMsg{state: st, err: err}
	}
}

func (m Model) fetchMembers() tea.Cmd {
	c := m.client
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		mem, err := c.Members(ctx)
		return membersMsg{members: mem, err: err}
	}
}

func (m Model) action(what string, fn func(ctx context.Context) error) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		return actionMsg{what: what, err: fn(ctx)}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.help.Width = msg.Width
		return m, nil

	case tickMsg:
		cmds := []tea.Cmd{m.fetchState(), m.tick()}
		if m.showMembers {
			cmds = append(cmds, m.fetchMembers())
		}
		return m, tea.Batch(cmds...)

	case stateMsg:
		if msg.err != nil {
			m.fetchErr = msg.err
			return m, nil
		}
		m.fetchErr = nil
		m.state = msg.state
		m.loaded = true
		if m.selected >= len(m.state.Stations) {
			m.selected = max(len(m.state.Stations)-1, 0)
		}
		return m, nil

	case membersMsg:
		if msg.err == nil {
			m.members = msg.members.Cards
		}
		return m, nil

	case actionMsg:
		if msg.err != nil {
			m.setStatus(fmt.Sprintf("%s: %v", msg.what, msg.err), true)
		} else {
			m.setStatus(msg.what, false)
		}
		return m, m.fetchState()

	case tea.KeyMsg:
		if m.mode != inputNone {
			return m.updateInput(msg)
		}
		return m.updateKeys(msg)
	}
	return m, nil
}

func (m *Model) setStatus(s string, isErr bool) {
	m.status = s
	m.statusErr = isErr
}

func (m Model) updateKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if !key.Matches(msg, m.keys.Reset) {
		m.armedReset = false
	}
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit

	case key.Matches(msg, m.keys.Up):
		if m.selected > 0 {
			m.selected--
		}
	case key.Matches(msg, m.keys.Down):
		if m.selected < len(m.state.Stations)-1 {
			m.selected++
		}

	case key.Matches(msg, m.keys.CheckIn):
		return m, m.stationCmd(models.ActionCheckIn)
	case key.Matches(msg, m.keys.CheckOut):
		return m, m.stationCmd(models.ActionCheckOut)
	case key.Matches(msg, m.keys.Stop):
		return m, m.stationCmd("stop")

	case key.Matches(msg, m.keys.SetMax):
		return m.openInput(inputMax, strconv.Itoa(m.state.Occupancy.MaxOccupancy))

	case key.Matches(msg, m.keys.Reset):
		if !m.armedReset {
			m.armedReset = true
			m.setStatus("press R again to check everybody out", false)
			return m, nil
		}
		m.armedReset = false
		c := m.client
		return m, m.action("occupancy reset", c.ResetOccupancy)

	case key.Matches(msg, m.keys.Members):
		m.showMembers = !m.showMembers
		if m.showMembers {
			return m, m.fetchMembers()
		}

	case key.Matches(msg, m.keys.Simulate):
		if !m.state.Info.Mock {
			m.setStatus("card simulation needs the mock reader", true)
			return m, nil
		}
		return m.openInput(inputCard, "")
	case key.Matches(msg, m.keys.Remove):
		if !m.state.Info.Mock || m.lastCard == 0 {
			return m, nil
		}
		return m, m.simulateCmd(models.SimRemoved, m.lastCard)
	}
	return m, nil
}

func (m Model) openInput(mode inputMode, value string) (tea.Model, tea.Cmd) {
	m.mode = mode
	m.input.Reset()
	m.input.SetValue(value)
	if mode == inputMax {
		m.input.Prompt = "max occupancy: "
	} else {
		m.input.Prompt = "card number: "
	}
	return m, m.input.Focus()
}

func (m Model) updateInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Cancel):
		m.mode = inputNone
		m.input.Blur()
		return m, nil

	case key.Matches(msg, m.keys.Submit):
		mode := m.mode
		value := strings.TrimSpace(m.input.Value())
		m.mode = inputNone
		m.input.Blur()
		switch mode {
		case inputMax:
			n, err := strconv.Atoi(value)
			if err != nil || n < 0 {
				m.setStatus(fmt.Sprintf("invalid max occupancy %q", value), true)
				return m, nil
			}
			c := m.client
			return m, m.action(fmt.Sprintf("max occupancy set to %d", n), func(ctx context.Context) error {
				return c.SetMaxOccupancy(ctx, n)
			})
		case inputCard:
			card, err := models.ParseCardNumber(value)
			if err != nil {
				m.setStatus(err.Error(), true)
				return m, nil
			}
			m.lastCard = card
			return m, m.simulateCmd(models.SimInserted, card)
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) currentStation() (models.Station, bool) {
	if m.selected < 0 || m.selected >= len(m.state.Stations) {
		return models.Station{}, false
	}
	return m.state.Stations[m.selected], true
}

func (m Model) stationCmd(action string) tea.Cmd {
	st, ok := m.currentStation()
	if !ok {
		return nil
	}
	c := m.client
	return m.action(fmt.Sprintf("%s %s", st.Name, action), func(ctx context.Context) error {
		return c.StationAction(ctx, st.ID, action)
	})
}

func (m Model) simulateCmd(event string, card models.CardNumber) tea.Cmd {
	st, ok := m.currentStation()
	if !ok {
		return nil
	}
	c := m.client
	return m.action(fmt.Sprintf("%s card %s on %s", event, card, st.Name), func(ctx context.Context) error {
		return c.Simulate(ctx, st.ID, event, card)
	})
}

func (m Model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Check-in console"))
	if m.loaded {
		info := m.state.Info
		fmt.Fprintf(&b, "  %s", faintStyle.Render(fmt.Sprintf("%s v%s, %s storage", info.Hostname, info.Version, info.Storage)))
		if info.Mock {
			b.WriteString(faintStyle.Render(", mock reader"))
		}
	}
	b.WriteString("\n\n")

	if !m.loaded {
		if m.fetchErr != nil {
			b.WriteString(errorStyle.Render("daemon unreachable: " + m.fetchErr.Error()))
		} else {
			b.WriteString("connecting...")
		}
		b.WriteString("\n")
		return b.String()
	}

	b.WriteString(occupancyPanel(m.state.Occupancy))
	b.WriteString("\n")
	for i, st := range m.state.Stations {
		line := stationRow(st)
		if i == m.selected {
			line = selectedStyle.Render(line)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}

	if m.showMembers {
		b.WriteString("\n")
		b.WriteString(membersView(m.members))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	if m.mode != inputNone {
		b.WriteString(m.input.View())
		b.WriteString("\n")
	}
	if m.fetchErr != nil {
		b.WriteString(errorStyle.Render("offline: " + m.fetchErr.Error()))
		b.WriteString("\n")
	} else if m.status != "" {
		if m.statusErr {
			b.WriteString(errorStyle.Render(m.status))
		} else {
			b.WriteString(faintStyle.Render(m.status))
		}
		b.WriteString("\n")
	}
	b.WriteString(m.help.ShortHelpView(m.helpBindings()))
	return b.String()
}

func (m Model) helpBindings() []key.Binding {
	if m.mode != inputNone {
		return []key.Binding{m.keys.Submit, m.keys.Cancel}
	}
	bindings := []key.Binding{
		m.keys.Up, m.keys.Down, m.keys.CheckIn, m.keys.CheckOut, m.keys.Stop,
		m.keys.SetMax, m.keys.Reset, m.keys.Members,
	}
	if m.state.Info.Mock {
		bindings = append(bindings, m.keys.Simulate, m.keys.Remove)
	}
	return append(bindings, m.keys.Quit)
}

func occupancyColor(o models.Occupancy) lipgloss.Color {
	switch {
	case o.Full():
		return fullColor
	case o.MaxOccupancy > 0 && o.Inside*4 >= o.MaxOccupancy*3:
		return warnColor
	default:
		return okColor
	}
}

func occupancyPanel(o models.Occupancy) string {
	count := lipgloss.NewStyle().Bold(true).Foreground(occupancyColor(o)).
		Render(fmt.Sprintf("%*d / %d", o.Digits, o.Inside, o.MaxOccupancy))
	return panelStyle.Render("Belegung  " + count)
}

func stationRow(st models.Station) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%-12s %-13s %-10s", st.Name, st.Phase, st.Label)
	switch {
	case st.Error != "":
		b.WriteString(" error: " + st.Error)
	case st.Result != models.ResultNone:
		b.WriteString(" " + st.Icon + " " + st.Message)
	case st.Device != "":
		b.WriteString(" " + st.Device)
	}
	return b.String()
}

func membersView(cards []models.CardNumber) string {
	if len(cards) == 0 {
		return faintStyle.Render("nobody checked in")
	}
	parts := make([]string, len(cards))
	for i, c := range cards {
		parts[i] = c.String()
	}
	return fmt.Sprintf("inside (%d): %s", len(cards), strings.Join(parts, " "))
}
