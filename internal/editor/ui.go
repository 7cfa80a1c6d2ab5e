package editor

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/neboloop/wplace-painter/internal/config"
	"github.com/neboloop/wplace-painter/internal/logging"
)

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	selectedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("212")).Bold(true)
	labelStyle    = lipgloss.NewStyle().Width(14).Foreground(lipgloss.Color("245"))
	helpStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	okStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	warnStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
)

type screen int

const (
	screenList screen = iota
	screenForm
	screenAdd
)

// form field order
const (
	fieldIdentifier = iota
	fieldCoords
	fieldFileID
	fieldImage
	fieldCrop
	fieldToken
	fieldCFClearance
	fieldMode
	fieldKeychain
	fieldCount
)

var fieldLabels = [fieldCount]string{"Identifier", "Coords", "File ID", "Import image", "Crop x,y,w,h", "Token", "cf_clearance", "Mode", "Keychain"}

const textFields = fieldMode

// ui is the bubbletea model around Model.
type ui struct {
	model *Model
	path  string

	screen  screen
	inputs  [textFields]textinput.Model
	addName textinput.Model
	focus   int
	mode    config.Mode
	keychn  bool

	status string
	err    error
	saved  bool
	width  int
}

func newUI(m *Model, path string) *ui {
	u := &ui{model: m, path: path}
	for i := range u.inputs {
		ti := textinput.New()
		ti.Prompt = ""
		ti.CharLimit = 4096
		switch i {
		case fieldCoords:
			ti.Placeholder = "(Tl X: 0, Tl Y: 0, Px X: 0, Px Y: 0)"
		case fieldImage:
			ti.Placeholder = "path to a PNG to copy into templates/"
		case fieldToken, fieldCFClearance:
			ti.EchoMode = textinput.EchoPassword
			ti.EchoCharacter = '•'
		}
		u.inputs[i] = ti
	}
	u.addName = textinput.New()
	u.addName.Placeholder = "identifier"
	return u
}

func (u *ui) Init() tea.Cmd {
	return textinput.Blink
}

func (u *ui) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		u.width = msg.Width
		return u, nil
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC {
			return u, tea.Quit
		}
		switch u.screen {
		case screenList:
			return u.updateList(msg)
		case screenAdd:
			return u.updateAdd(msg)
		case screenForm:
			return u.updateForm(msg)
		}
	}
	return u, nil
}

func (u *ui) setStatus(status string, err error) {
	u.status, u.err = status, err
}

func (u *ui) updateList(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	m := u.model
	switch msg.String() {
	case "up", "k":
		m.Select(m.Selected - 1)
	case "down", "j":
		m.Select(m.Selected + 1)
	case "enter", "e":
		if _, ok := m.Current(); ok {
			u.openForm()
			return u, textinput.Blink
		}
	case "a":
		u.screen = screenAdd
		u.addName.SetValue("")
		u.addName.Focus()
		return u, textinput.Blink
	case "d", "delete":
		if cur, ok := m.Current(); ok && m.RemoveUser(cur.Identifier) {
			u.setStatus("removed "+cur.Identifier, nil)
		}
	case "b":
		u.setStatus("browser: "+string(m.CycleBrowser()), nil)
	case "h":
		m.Config.Headless = !m.Config.Headless
		u.setStatus(fmt.Sprintf("headless: %v", m.Config.Headless), nil)
	case "s", "ctrl+s":
		err := m.Save(u.path)
		switch {
		case errors.Is(err, ErrTokenCleanup):
			u.saved = true
			u.setStatus("", err)
		case err != nil:
			u.setStatus("", err)
		default:
			u.saved = true
			u.setStatus("saved "+u.path, nil)
		}
	case "q", "esc":
		return u, tea.Quit
	}
	return u, nil
}

func (u *ui) updateAdd(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEsc:
		u.screen = screenList
		return u, nil
	case tea.KeyEnter:
		if err := u.model.AddUser(u.addName.Value()); err != nil {
			u.setStatus("", err)
			return u, nil
		}
		u.setStatus("added "+u.addName.Value(), nil)
		u.openForm()
		return u, textinput.Blink
	}
	var cmd tea.Cmd
	u.addName, cmd = u.addName.Update(msg)
	return u, cmd
}

func (u *ui) openForm() {
	f := u.model.FormFor()
	values := [textFields]string{f.Identifier, f.Coords, f.FileID, f.ImagePath, f.Crop, f.Token, f.CFClearance}
	for i := range u.inputs {
		u.inputs[i].SetValue(values[i])
		u.inputs[i].Blur()
	}
	u.mode, u.keychn = f.Mode, f.Keychain
	u.focus = 0
	u.inputs[0].Focus()
	u.screen = screenForm
}

func (u *ui) form() Form {
	v := func(i int) string { return u.inputs[i].Value() }
	return Form{
		Identifier:  v(fieldIdentifier),
		Coords:      v(fieldCoords),
		FileID:      v(fieldFileID),
		ImagePath:   v(fieldImage),
		Crop:        v(fieldCrop),
		Token:       v(fieldToken),
		CFClearance: v(fieldCFClearance),
		Mode:        u.mode,
		Keychain:    u.keychn,
	}
}

func (u *ui) moveFocus(delta int) {
	if u.focus < textFields {
		u.inputs[u.focus].Blur()
	}
	u.focus = (u.focus + delta + fieldCount) % fieldCount
	if u.focus < textFields {
		u.inputs[u.focus].Focus()
	}
}

func (u *ui) updateForm(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		u.screen = screenList
		u.setStatus("discarded changes", nil)
		return u, nil
	case "tab", "down":
		u.moveFocus(1)
		return u, nil
	case "shift+tab", "up":
		u.moveFocus(-1)
		return u, nil
	case "enter", "ctrl+s":
		if err := u.model.Apply(u.form()); err != nil {
			u.setStatus("", err)
			return u, nil
		}
		u.screen = screenList
		u.setStatus("updated "+strings.TrimSpace(u.inputs[fieldIdentifier].Value())+" (press s to save)", nil)
		return u, nil
	}

	switch u.focus {
	case fieldMode:
		if s := msg.String(); s == " " || s == "left" || s == "right" {
			u.mode = nextMode(u.mode)
		}
		return u, nil
	case fieldKeychain:
		if s := msg.String(); s == " " || s == "left" || s == "right" {
			u.keychn = !u.keychn
		}
		return u, nil
	}

	var cmd tea.Cmd
	u.inputs[u.focus], cmd = u.inputs[u.focus].Update(msg)
	return u, cmd
}

func nextMode(m config.Mode) config.Mode {
	for i, mode := range config.Modes {
		if mode == m || (m == "" && mode == config.ModeDiff) {
			return config.Modes[(i+1)%len(config.Modes)]
		}
	}
	return config.ModeDiff
}

func (u *ui) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("wpaint configuration") + "  " + helpStyle.Render(u.path) + "\n\n")

	switch u.screen {
	case screenList:
		u.viewList(&b)
	case screenAdd:
		b.WriteString("New user: " + u.addName.View() + "\n\n")
		b.WriteString(helpStyle.Render("enter: create • esc: back"))
	case screenForm:
		u.viewForm(&b)
	}

	b.WriteString("\n\n")
	if u.err != nil {
		b.WriteString(errorStyle.Render("error: " + u.err.Error()))
	} else if u.status != "" {
		b.WriteString(okStyle.Render(u.status))
	}
	return b.String() + "\n"
}

func (u *ui) viewList(b *strings.Builder) {
	m := u.model
	fmt.Fprintf(b, "%s %s   %s %v\n\n", labelStyle.Render("Browser"), m.Config.Engine(), labelStyle.Render("Headless"), m.Config.Headless)
	if len(m.Config.Users) == 0 {
		b.WriteString(helpStyle.Render("no users yet, press a to add one") + "\n")
	}
	for i, usr := range m.Config.Users {
		line := fmt.Sprintf("%-16s %s  %s", usr.Identifier, usr.Template.Coords.BlueMarble(), displayPath(m.TemplatePath(usr.Template.FileID)))
		if i == m.Selected {
			b.WriteString(selectedStyle.Render("> "+line) + "\n")
		} else {
			b.WriteString("  " + line + "\n")
		}
	}
	if _, ok := m.Current(); ok && !m.TemplateExists(fileExists) {
		b.WriteString("\n" + warnStyle.Render("template image missing for the selected user") + "\n")
	}
	b.WriteString("\n" + helpStyle.Render("↑/↓ select • enter edit • a add • d remove • b browser • h headless • s save • q quit"))
}

func (u *ui) viewForm(b *strings.Builder) {
	for i := 0; i < fieldCount; i++ {
		cursor := "  "
		if i == u.focus {
			cursor = selectedStyle.Render("> ")
		}
		var value string
		switch i {
		case fieldMode:
			value = string(u.mode)
			if value == "" {
				value = string(config.ModeDiff)
			}
		case fieldKeychain:
			value = "no"
			if u.keychn {
				value = "yes (token kept out of config.json)"
			}
		default:
			value = u.inputs[i].View()
		}
		b.WriteString(cursor + labelStyle.Render(fieldLabels[i]) + value + "\n")
	}
	b.WriteString("\n" + helpStyle.Render("tab/↑/↓ move • space toggle • enter apply • esc cancel"))
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Run opens the editor on the document at path. cfg may be nil when the
// file is missing or invalid. It reports whether the document was saved.
func Run(cfg *config.Config, path string) (bool, error) {
	// console logs would draw over the alternate screen
	logging.Disable()
	defer logging.Enable()

	u := newUI(NewModel(cfg), path)
	if _, err := tea.NewProgram(u, tea.WithAltScreen()).Run(); err != nil {
		return false, fmt.Errorf("editor: %w", err)
	}
	return u.saved, nil
}
