// Package tui is an interactive inspector for a bootstrapped instance:
// it browses the mounted read-only filesystem tree and shows the
// instance's bootstrap and snapshot details.
package tui

import (
	"fmt"
	"path"
	"sort"
	"strings"
	"unicode"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/mwantia/isopod"
	"github.com/mwantia/isopod/snapshot"
)

const previewLimit = 4096

// Mode is the current interaction mode.
type Mode int

const (
	ModeBrowse Mode = iota
	ModeInfo
	ModeHelp
)

// Model holds the inspector state.
type Model struct {
	instance *isopod.Instance
	image    *snapshot.Image
	theme    *Theme
	keys     KeyMap
	help     help.Model

	currentPath string
	entries     []*Entry
	cursor      int
	offset      int

	width  int
	height int

	showPreview    bool
	previewContent string
	previewErr     error

	mode     Mode
	errorMsg string
}

// NewModel creates the inspector for a booted instance. The image may be
// nil when the instance came up without a snapshot.
func NewModel(instance *isopod.Instance, image *snapshot.Image) *Model {
	return &Model{
		instance:    instance,
		image:       image,
		theme:       DefaultTheme(),
		keys:        DefaultKeyMap(),
		help:        help.New(),
		currentPath: "/",
		showPreview: true,
	}
}

// Run drives the inspector until the user quits.
func Run(instance *isopod.Instance, image *snapshot.Image) error {
	program := tea.NewProgram(NewModel(instance, image), tea.WithAltScreen())
	_, err := program.Run()
	return err
}

func (m *Model) Init() tea.Cmd {
	m.loadDir(m.currentPath)
	return nil
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	return m, nil
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.mode != ModeBrowse {
		// Any key leaves the info and help screens.
		if key.Matches(msg, m.keys.Quit) {
			return m, tea.Quit
		}
		m.mode = ModeBrowse
		return m, nil
	}

	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit

	case key.Matches(msg, m.keys.Up):
		m.moveCursor(-1)

	case key.Matches(msg, m.keys.Down):
		m.moveCursor(1)

	case key.Matches(msg, m.keys.Enter):
		m.openSelected()

	case key.Matches(msg, m.keys.Back):
		m.openParent()

	case key.Matches(msg, m.keys.Preview):
		m.showPreview = !m.showPreview
		m.refreshPreview()

	case key.Matches(msg, m.keys.Info):
		m.mode = ModeInfo

	case key.Matches(msg, m.keys.Help):
		m.mode = ModeHelp
	}

	return m, nil
}

func (m *Model) moveCursor(delta int) {
	m.cursor += delta
	if m.cursor < 0 {
		m.cursor = 0
	}
	if m.cursor >= len(m.entries) {
		m.cursor = len(m.entries) - 1
	}
	if m.cursor < 0 {
		m.cursor = 0
	}

	visible := m.visibleLines()
	if m.cursor < m.offset {
		m.offset = m.cursor
	}
	if m.cursor >= m.offset+visible {
		m.offset = m.cursor - visible + 1
	}

	m.refreshPreview()
}

func (m *Model) openSelected() {
	entry := m.selected()
	if entry == nil || !entry.IsDir {
		return
	}
	m.loadDir(entry.Path)
}

func (m *Model) openParent() {
	if m.currentPath == "/" {
		return
	}
	m.loadDir(path.Dir(m.currentPath))
}

func (m *Model) selected() *Entry {
	if m.cursor < 0 || m.cursor >= len(m.entries) {
		return nil
	}
	return m.entries[m.cursor]
}

func (m *Model) loadDir(dir string) {
	fs := m.instance.FileSystem()

	names, err := fs.Readdir(dir)
	if err != nil {
		m.errorMsg = err.Error()
		return
	}

	entries := make([]*Entry, 0, len(names))
	for _, name := range names {
		full := path.Join(dir, name)
		node, err := fs.Stat(full)
		if err != nil {
			continue
		}
		entries = append(entries, entryFromNode(full, node))
	}

	// Directories first, each group alphabetical.
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].IsDir != entries[j].IsDir {
			return entries[i].IsDir
		}
		return entries[i].Name < entries[j].Name
	})

	m.currentPath = dir
	m.entries = entries
	m.cursor = 0
	m.offset = 0
	m.errorMsg = ""
	m.refreshPreview()
}

func (m *Model) refreshPreview() {
	m.previewContent = ""
	m.previewErr = nil

	if !m.showPreview {
		return
	}
	entry := m.selected()
	if entry == nil || entry.IsDir {
		return
	}

	buf := make([]byte, previewLimit)
	n, err := m.instance.FileSystem().Read(entry.Path, 0, buf)
	if err != nil {
		m.previewErr = err
		return
	}

	m.previewContent = sanitize(string(buf[:n]))
}

// sanitize strips control characters so binary content does not corrupt
// the terminal.
func sanitize(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r == '\n' || r == '\t' || unicode.IsPrint(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune('·')
		}
	}
	return b.String()
}

func (m *Model) visibleLines() int {
	// Title, status, help bar and two borders.
	lines := m.height - 7
	if lines < 3 {
		lines = 3
	}
	return lines
}

func (m *Model) instanceInfo() []string {
	in := m.instance

	lines := []string{
		fmt.Sprintf("Instance  %s", in.ID()),
		fmt.Sprintf("State     %s", in.State()),
		fmt.Sprintf("Restored  %t", in.Restored()),
	}

	if eng, err := in.Engine(); err == nil {
		lines = append(lines, fmt.Sprintf("Build     %s", eng.BuildVersion()))
		lines = append(lines, fmt.Sprintf("Memory    %d bytes", len(eng.Memory())))
	}

	lines = append(lines, "")
	lines = append(lines, "Mounts")
	for _, mount := range in.FileSystem().Mounts() {
		lines = append(lines, fmt.Sprintf("  %-12s %d nodes", mount.Path, mount.Nodes))
	}

	if m.image != nil {
		lines = append(lines, "")
		lines = append(lines, "Snapshot")
		lines = append(lines, fmt.Sprintf("  Build        %s", m.image.Build))
		lines = append(lines, fmt.Sprintf("  Memory       %d bytes", len(m.image.Memory)))
		lines = append(lines, fmt.Sprintf("  Host objects %d", len(m.image.Objects)))
	}

	lines = append(lines, "")
	lines = append(lines, fmt.Sprintf("Clock     %s", in.Bridge().Clock().Now().Format("15:04:05.000000")))

	return lines
}
