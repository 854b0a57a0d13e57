package main

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/indent"
	"github.com/muesli/reflow/wordwrap"

	"github.com/jwebster45206/boothill-gm/internal/handlers"
	"github.com/jwebster45206/boothill-gm/pkg/chat"
	"github.com/jwebster45206/boothill-gm/pkg/decision"
	"github.com/jwebster45206/boothill-gm/pkg/impact"
	"github.com/jwebster45206/boothill-gm/pkg/narrative"
	"github.com/jwebster45206/boothill-gm/pkg/session"
)

const (
	AgentName       = "Narrator"
	PlaceHolderText = "Describe what you do, or /help..."
	requestTimeout  = 2 * time.Minute
)

type lineKind int

const (
	lineNarrator lineKind = iota
	linePlayer
	lineDecision
	lineSystem
	lineError
)

type transcriptLine struct {
	kind lineKind
	text string
}

// ConsoleUI is the BubbleTea model that runs the UI.
// https://github.com/charmbracelet/bubbletea
type ConsoleUI struct {
	api          *APIClient
	session      *session.Session
	events       <-chan SSEEvent
	transcript   []transcriptLine
	lastContext  string
	lastEvent    string
	chatViewport viewport.Model
	metaViewport viewport.Model
	textarea     textarea.Model
	ready        bool
	width        int
	height       int
	loading      bool

	showQuitModal bool
	progressTick  int
}

type narrativeMsg struct {
	resp *handlers.NarrativeResponse
	err  error
}

type decisionMsg struct {
	resp *handlers.DecisionResponse
	err  error
}

type selectMsg struct {
	option string
	resp   *handlers.SelectResponse
	err    error
}

type evolveMsg struct {
	resp *handlers.EvolveResponse
	err  error
}

type contextMsg struct {
	res *narrative.Result
	err error
}

type sessionMsg struct {
	session *session.Session
	err     error
}

type sseMsg struct{ event SSEEvent }

type progressTickMsg struct{}

var (
	chatPanelStyle = lipgloss.NewStyle().
			PaddingTop(2).
			PaddingBottom(1).
			PaddingLeft(3).
			PaddingRight(0)

	metaPanelStyle = lipgloss.NewStyle().
			PaddingTop(2).
			PaddingBottom(0).
			PaddingLeft(0).
			PaddingRight(2)

	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("178")). // brass
			Bold(true)

	speakerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("173")). // rust
			Bold(true)

	narratorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("180")) // tan

	userStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39")) // teal

	decisionStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")). // yellow
			Bold(true)

	systemStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")). // grey
			Italic(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")) // red

	positiveStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("71")) // green

	negativeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("167")) // red

	promptStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")) // dark grey

	modalStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("94")).
			Padding(1, 2).
			Background(lipgloss.Color("235")).
			Foreground(lipgloss.Color("255"))

	modalTitleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("178")).
			Bold(true).
			Align(lipgloss.Center)

	separatorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")) // dark grey
)

func NewConsoleUI(api *APIClient, s *session.Session, events <-chan SSEEvent) ConsoleUI {
	ta := textarea.New()
	ta.Placeholder = PlaceHolderText
	ta.Focus()
	ta.Prompt = promptStyle.Render(":: ")
	ta.CharLimit = chat.MaxMessageLength
	ta.SetWidth(50)
	ta.SetHeight(3)
	ta.ShowLineNumbers = false

	chatVp := viewport.New(50, 20)
	chatVp.MouseWheelEnabled = true

	return ConsoleUI{
		api:          api,
		session:      s,
		events:       events,
		textarea:     ta,
		chatViewport: chatVp,
		metaViewport: viewport.New(20, 20),
	}
}

func (m ConsoleUI) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, waitForEvent(m.events))
}

func waitForEvent(events <-chan SSEEvent) tea.Cmd {
	if events == nil {
		return nil
	}
	return func() tea.Msg {
		ev, ok := <-events
		if !ok {
			return nil
		}
		return sseMsg{ev}
	}
}

func (m *ConsoleUI) layout() {
	chatWidth := int(float64(m.width)*0.7) - 4
	metaWidth := m.width - chatWidth - 6

	m.chatViewport.Width = chatWidth - 2
	m.chatViewport.Height = m.height - 7
	m.metaViewport.Width = metaWidth - 2
	m.metaViewport.Height = m.height - 4
	m.textarea.SetWidth(chatWidth - 4)
}

func (m *ConsoleUI) add(kind lineKind, text string) {
	m.transcript = append(m.transcript, transcriptLine{kind: kind, text: text})
}

func (m ConsoleUI) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if m.showQuitModal {
		return m.updateQuitModal(msg)
	}

	var (
		tiCmd tea.Cmd
		vpCmd tea.Cmd
		mvCmd tea.Cmd
	)

	switch msg := msg.(type) {
	case tea.MouseMsg:
		m.chatViewport, vpCmd = m.chatViewport.Update(msg)
		m.metaViewport, mvCmd = m.metaViewport.Update(msg)
		return m, tea.Batch(vpCmd, mvCmd)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.layout()
		m.ready = true
		m.refresh()

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.showQuitModal = true
			return m, nil
		case tea.KeyEnter:
			if m.loading {
				return m, nil
			}
			input := strings.TrimSpace(m.textarea.Value())
			if input == "" {
				return m, nil
			}
			m.textarea.Reset()

			if strings.HasPrefix(input, "/") {
				return m.handleCommand(input)
			}
			if n, err := strconv.Atoi(input); err == nil {
				if d := m.session.Pending(); d != nil && n >= 1 && n <= len(d.Options) {
					return m.startRequest(m.selectOption(d, d.Options[n-1]))
				}
			}

			m.add(linePlayer, input)
			return m.startRequest(m.sendNarrative(input, chat.SpeakerPlayer))
		}

	case narrativeMsg:
		m.loading = false
		if msg.err != nil {
			m.add(lineError, msg.err.Error())
			break
		}
		m.showNarrativeResult(msg.resp)
		m.refresh()
		return m, m.refreshSession()

	case decisionMsg:
		m.loading = false
		if msg.err != nil {
			m.add(lineError, msg.err.Error())
			break
		}
		m.showDecision(msg.resp.Decision, msg.resp.Discarded, msg.resp.RequestID)
		m.refresh()
		return m, m.refreshSession()

	case selectMsg:
		m.loading = false
		if msg.err != nil {
			m.add(lineError, msg.err.Error())
			break
		}
		m.add(linePlayer, "I choose: "+msg.option)
		for _, imp := range msg.resp.Record.Impacts {
			m.add(lineSystem, fmt.Sprintf("%s %s on %s (%+.2f)", imp.Severity, imp.Type, imp.Target, imp.Value))
		}
		m.refresh()
		return m, m.refreshSession()

	case evolveMsg:
		m.loading = false
		if msg.err != nil {
			m.add(lineError, msg.err.Error())
			break
		}
		switch {
		case msg.resp.RequestID != "":
			m.add(lineSystem, "Evolution queued.")
		case msg.resp.Changed:
			m.add(lineSystem, "Time passes. Old deeds fade from memory.")
		default:
			m.add(lineSystem, "Nothing has faded yet.")
		}
		m.refresh()
		return m, m.refreshSession()

	case contextMsg:
		m.loading = false
		if msg.err != nil {
			m.add(lineError, msg.err.Error())
			break
		}
		m.lastContext = msg.res.Text
		m.add(lineSystem, fmt.Sprintf("Context: ~%d tokens, %s compression, ratio %.2f. Use /copy to copy it.",
			msg.res.TokenEstimate, msg.res.Compression, msg.res.CompressionRatio))
		m.add(lineSystem, msg.res.Text)

	case sessionMsg:
		if msg.err == nil && msg.session != nil {
			m.session = msg.session
		}

	case sseMsg:
		if msg.event.Type != "connected" {
			m.lastEvent = msg.event.Type
		}
		m.refresh()
		return m, tea.Batch(m.refreshSession(), waitForEvent(m.events))

	case progressTickMsg:
		if m.loading {
			m.progressTick++
			m.refresh()
			return m, progressTick()
		}
	}

	m.refresh()
	m.textarea, tiCmd = m.textarea.Update(msg)
	m.chatViewport, vpCmd = m.chatViewport.Update(msg)
	m.metaViewport, mvCmd = m.metaViewport.Update(msg)

	return m, tea.Batch(tiCmd, vpCmd, mvCmd)
}

func (m ConsoleUI) startRequest(cmd tea.Cmd) (tea.Model, tea.Cmd) {
	m.loading = true
	m.progressTick = 0
	m.refresh()
	return m, tea.Batch(cmd, progressTick())
}

func (m *ConsoleUI) showNarrativeResult(resp *handlers.NarrativeResponse) {
	if len(resp.Update.Items.Acquired) > 0 {
		m.add(lineSystem, "Acquired: "+strings.Join(resp.Update.Items.Acquired, ", "))
	}
	if len(resp.Update.Items.Removed) > 0 {
		m.add(lineSystem, "Lost: "+strings.Join(resp.Update.Items.Removed, ", "))
	}
	if sp := resp.Update.StoryPoint; sp != nil {
		title := sp.Title
		if title == "" {
			title = sp.Description
		}
		m.add(lineSystem, "Story point: "+title)
	}
	if resp.Decision != nil || resp.RequestID != "" || resp.Discarded != "" {
		m.showDecision(resp.Decision, resp.Discarded, resp.RequestID)
	}
}

func (m *ConsoleUI) showDecision(d *decision.PlayerDecision, discarded, requestID string) {
	switch {
	case requestID != "":
		m.add(lineSystem, "The narrator is considering your options...")
	case discarded != "" && d != nil:
		m.add(lineSystem, "A decision is still waiting for you ("+discarded+").")
	case discarded != "":
		m.add(lineSystem, "No new decision ("+discarded+").")
	case d != nil:
		m.add(lineDecision, renderDecisionText(d))
	}
}

func renderDecisionText(d *decision.PlayerDecision) string {
	var sb strings.Builder
	sb.WriteString(d.Prompt)
	for i, o := range d.Options {
		fmt.Fprintf(&sb, "\n%d. %s", i+1, o.Text)
		if o.Impact != "" {
			fmt.Fprintf(&sb, " (%s)", o.Impact)
		}
	}
	return sb.String()
}

// refresh rebuilds both panels for the current width
func (m *ConsoleUI) refresh() {
	if !m.ready {
		return
	}
	m.writeChatContent()
	m.metaViewport.SetContent(writeMetadata(m.session, m.lastEvent, m.metaViewport.Width))
}

func (m *ConsoleUI) writeChatContent() {
	chatWidth := m.chatViewport.Width - 6

	var content strings.Builder
	content.WriteString(titleStyle.Render("BOOTHILL") + "\n\n")
	content.WriteString("Describe what your character does. Pick options by number.\n\n")
	content.WriteString(separatorStyle.Render(strings.Repeat("─", max(chatWidth-6, 1))) + "\n\n")

	for _, line := range m.transcript {
		switch line.kind {
		case lineNarrator:
			content.WriteString(formatNarratorResponse(line.text, chatWidth))
		case linePlayer:
			content.WriteString(userStyle.Render("You: ") + wordwrap.String(line.text, chatWidth-5))
		case lineDecision:
			content.WriteString(formatDecision(line.text, chatWidth))
		case lineSystem:
			content.WriteString(systemStyle.Render(wordwrap.String(line.text, chatWidth)))
		case lineError:
			content.WriteString(errorStyle.Render("Error: " + wordwrap.String(line.text, chatWidth-7)))
		}
		content.WriteString("\n\n")
	}

	if m.loading {
		content.WriteString(m.renderProgressBar())
	}

	m.chatViewport.SetContent(content.String())
	m.chatViewport.GotoBottom()
}

func formatDecision(text string, width int) string {
	lines := strings.Split(text, "\n")
	var sb strings.Builder
	sb.WriteString(decisionStyle.Render(wordwrap.String(lines[0], width)))
	for _, opt := range lines[1:] {
		sb.WriteString("\n")
		sb.WriteString(indent.String(wordwrap.String(opt, width-2), 2))
	}
	return sb.String()
}

func writeMetadata(s *session.Session, lastEvent string, width int) string {
	if width < 10 {
		width = 10
	}
	var content strings.Builder
	content.WriteString(titleStyle.Render("SESSION") + "\n\n")

	content.WriteString("Session:\n")
	id := s.ID
	if len(id) > 8 {
		id = id[:8] + "..."
	}
	content.WriteString(id + "\n\n")

	if s.Character.Name != "" {
		content.WriteString("Character:\n" + s.Character.Name + "\n")
		if len(s.Character.Inventory) > 0 {
			content.WriteString(wordwrap.String(strings.Join(s.Character.Inventory, ", "), width) + "\n")
		}
		content.WriteString("\n")
	}
	if s.Location != nil && s.Location.Name != "" {
		content.WriteString("Location:\n" + s.Location.Name + "\n\n")
	}

	if d := s.Pending(); d != nil {
		content.WriteString(decisionStyle.Render("Decision pending") + "\n")
		for i, o := range d.Options {
			content.WriteString(wordwrap.String(fmt.Sprintf("%d. %s", i+1, o.Text), width) + "\n")
		}
		content.WriteString("\n")
	}

	if s.Narrative != nil {
		content.WriteString(fmt.Sprintf("Decisions made: %d\n\n", len(s.Narrative.DecisionHistory)))
		content.WriteString(writeImpacts(&s.Narrative.ImpactState))
	}

	if lastEvent != "" {
		content.WriteString(systemStyle.Render("Last event: "+lastEvent) + "\n\n")
	}

	content.WriteString("Commands:\n")
	content.WriteString("• 1-9: Choose option\n")
	content.WriteString("• /decide: Ask for a decision\n")
	content.WriteString("• /narrate: Add narration\n")
	content.WriteString("• /evolve: Let time pass\n")
	content.WriteString("• /context: LLM context\n")
	content.WriteString("• /copy: Copy context\n")
	content.WriteString("• Ctrl+C: Quit\n")

	return content.String()
}

func writeImpacts(st *impact.State) string {
	var content strings.Builder
	section := func(title string, values map[string]float64) {
		if len(values) == 0 {
			return
		}
		content.WriteString(title + ":\n")
		for _, k := range slices.Sorted(maps.Keys(values)) {
			content.WriteString(fmt.Sprintf("• %s %s\n", k, signed(values[k])))
		}
		content.WriteString("\n")
	}

	section("Reputation", st.ReputationImpacts)
	if len(st.RelationshipImpacts) > 0 {
		content.WriteString("Relationships:\n")
		for _, a := range slices.Sorted(maps.Keys(st.RelationshipImpacts)) {
			for _, b := range slices.Sorted(maps.Keys(st.RelationshipImpacts[a])) {
				content.WriteString(fmt.Sprintf("• %s/%s %s\n", a, b, signed(st.RelationshipImpacts[a][b])))
			}
		}
		content.WriteString("\n")
	}
	section("World", st.WorldStateImpacts)
	section("Story arcs", st.StoryArcImpacts)

	if content.Len() == 0 {
		return "Impacts:\nNone yet\n\n"
	}
	return content.String()
}

func signed(v float64) string {
	s := fmt.Sprintf("%+.2f", v)
	if v < 0 {
		return negativeStyle.Render(s)
	}
	return positiveStyle.Render(s)
}

func formatNarratorResponse(response string, width int) string {
	hasPrefix := false
	if idx := strings.Index(response, ":"); idx > 0 && idx <= 20 {
		if len(strings.Fields(response[:idx])) <= 2 {
			hasPrefix = true
		}
	}

	wrapWidth := width
	if !hasPrefix {
		wrapWidth = width - len(AgentName+": ")
	}

	lines := strings.Split(wordwrap.String(response, wrapWidth), "\n")
	formatted := make([]string, 0, len(lines))
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if idx := strings.Index(trimmed, ":"); idx > 0 && idx <= 20 && len(strings.Fields(trimmed[:idx])) <= 2 {
			formatted = append(formatted, speakerStyle.Render(trimmed[:idx+1])+trimmed[idx+1:])
			continue
		}
		formatted = append(formatted, line)
	}

	result := strings.Join(formatted, "\n")
	if !hasPrefix {
		result = narratorStyle.Render(AgentName+": ") + result
	}
	return result
}

func (m ConsoleUI) handleCommand(input string) (tea.Model, tea.Cmd) {
	name, arg, _ := strings.Cut(input, " ")
	arg = strings.TrimSpace(arg)

	switch strings.ToLower(name) {
	case "/help":
		m.add(lineSystem, `Commands:
/narrate <text> - add narration as the game master
/decide - ask for a decision now
/evolve - let time pass so old impacts fade
/context [none|low|medium|high] - show the LLM context
/copy - copy the last context (or the transcript) to the clipboard
Anything else is what your character does.`)

	case "/narrate":
		if arg == "" {
			m.add(lineError, "usage: /narrate <text>")
			break
		}
		m.add(lineNarrator, arg)
		return m.startRequest(m.sendNarrative(arg, ""))

	case "/decide":
		return m.startRequest(m.generateDecision())

	case "/evolve":
		return m.startRequest(m.evolve())

	case "/context":
		return m.startRequest(m.fetchContext(narrative.ParseLevel(arg)))

	case "/copy":
		text := m.lastContext
		if text == "" {
			text = m.plainTranscript()
		}
		if err := clipboard.WriteAll(text); err != nil {
			m.add(lineError, "copy failed: "+err.Error())
		} else {
			m.add(lineSystem, "Copied to clipboard.")
		}

	default:
		m.add(lineError, "unknown command "+name+", try /help")
	}

	m.refresh()
	return m, nil
}

func (m ConsoleUI) plainTranscript() string {
	var sb strings.Builder
	for _, line := range m.transcript {
		switch line.kind {
		case linePlayer:
			sb.WriteString("You: ")
		case lineNarrator:
			sb.WriteString(AgentName + ": ")
		}
		sb.WriteString(line.text + "\n\n")
	}
	return sb.String()
}

func (m ConsoleUI) sendNarrative(text, speaker string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		resp, err := m.api.SendNarrative(ctx, m.session.ID, text, speaker)
		return narrativeMsg{resp, err}
	}
}

func (m ConsoleUI) generateDecision() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		resp, err := m.api.GenerateDecision(ctx, m.session.ID)
		return decisionMsg{resp, err}
	}
}

func (m ConsoleUI) selectOption(d *decision.PlayerDecision, o decision.Option) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		resp, err := m.api.SelectOption(ctx, m.session.ID, d.ID, o.ID)
		return selectMsg{option: o.Text, resp: resp, err: err}
	}
}

func (m ConsoleUI) evolve() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		resp, err := m.api.Evolve(ctx, m.session.ID)
		return evolveMsg{resp, err}
	}
}

func (m ConsoleUI) fetchContext(level narrative.Level) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		res, err := m.api.Context(ctx, m.session.ID, level)
		return contextMsg{res, err}
	}
}

func (m ConsoleUI) refreshSession() tea.Cmd {
	id := m.session.ID
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		s, err := m.api.GetSession(ctx, id)
		return sessionMsg{s, err}
	}
}

func (m ConsoleUI) updateQuitModal(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.layout()

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc, tea.KeyEnter:
			return m, tea.Quit
		default:
			switch msg.String() {
			case "y", "Y":
				return m, tea.Quit
			case "n", "N":
				m.showQuitModal = false
				m.textarea.Focus()
				return m, textarea.Blink
			}
		}
	}

	return m, nil
}

func (m ConsoleUI) renderQuitModal() string {
	var content strings.Builder
	content.WriteString(modalTitleStyle.Render("Ride Off?"))
	content.WriteString("\n\n")
	content.WriteString("Are you sure you want to leave town?")
	content.WriteString("\n\n")
	content.WriteString(promptStyle.Render("Press Y to quit, N to continue, or Ctrl+C to force quit"))

	modal := modalStyle.Width(50).Render(content.String())
	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, modal, lipgloss.WithWhitespaceChars(" "))
}

func (m ConsoleUI) View() string {
	if !m.ready {
		return "\n  Initializing..."
	}
	if m.showQuitModal {
		return m.renderQuitModal()
	}

	chatWidth := int(float64(m.width)*0.7) - 4
	metaWidth := m.width - chatWidth - 6

	chatPanel := chatPanelStyle.Width(chatWidth).Height(m.height - 3).Render(
		lipgloss.JoinVertical(lipgloss.Left,
			m.chatViewport.View(),
			"",
			separatorStyle.Render(strings.Repeat("─", max(chatWidth-4, 1))),
			m.textarea.View(),
		),
	)

	metaPanel := metaPanelStyle.Width(metaWidth).Height(m.height - 2).Render(
		m.metaViewport.View(),
	)

	return lipgloss.JoinHorizontal(lipgloss.Top, chatPanel, metaPanel)
}

// renderProgressBar creates an animated progress bar for loading states
func (m ConsoleUI) renderProgressBar() string {
	usable := m.chatViewport.Width - 6
	if usable <= 0 {
		usable = 30
	}
	usable = min(max(usable, 10), 80)

	const totalFrames = 40
	frame := m.progressTick % totalFrames
	filled := (frame * usable) / totalFrames

	var bar strings.Builder
	for i := 0; i < usable; i++ {
		switch {
		case i < filled:
			bar.WriteString("█")
		case i == filled && frame%4 < 2:
			bar.WriteString("▓")
		default:
			bar.WriteString("░")
		}
	}
	return separatorStyle.Render(bar.String())
}

func progressTick() tea.Cmd {
	return tea.Tick(time.Millisecond*200, func(time.Time) tea.Msg {
		return progressTickMsg{}
	})
}
