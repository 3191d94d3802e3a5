package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

func (m *Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	switch m.mode {
	case ModeInfo:
		return m.renderInfo()
	case ModeHelp:
		return m.renderHelp()
	default:
		return m.renderBrowse()
	}
}

func (m *Model) renderBrowse() string {
	sections := []string{
		m.renderTitle(),
		m.renderContent(),
		m.renderStatus(),
		m.theme.HelpStyle.Render(m.help.ShortHelpView(m.keys.ShortHelp())),
	}
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m *Model) renderTitle() string {
	return m.theme.TitleStyle.Render("Instance Inspector - " + m.currentPath)
}

func (m *Model) renderContent() string {
	fileList := m.renderFileList()

	if !m.showPreview {
		return m.theme.BorderStyle.
			Width(m.width - 4).
			Height(m.visibleLines()).
			Render(fileList)
	}

	leftWidth := m.width / 2
	rightWidth := m.width - leftWidth - 4

	listBox := m.theme.BorderStyle.
		Width(leftWidth).
		Height(m.visibleLines()).
		Render(fileList)
	previewBox := m.theme.PreviewBorderStyle.
		Width(rightWidth).
		Height(m.visibleLines()).
		Render(m.renderPreview())

	return lipgloss.JoinHorizontal(lipgloss.Top, listBox, previewBox)
}

func (m *Model) renderFileList() string {
	if len(m.entries) == 0 {
		return m.theme.FileStyle.Render("(empty directory)")
	}

	end := m.offset + m.visibleLines()
	if end > len(m.entries) {
		end = len(m.entries)
	}

	var lines []string
	for i := m.offset; i < end; i++ {
		entry := m.entries[i]

		style := m.theme.FileStyle
		if entry.IsDir {
			style = m.theme.DirectoryStyle
		}
		if i == m.cursor {
			style = m.theme.SelectedItemStyle
		}

		line := fmt.Sprintf("%-30s %10s  %s",
			entry.DisplayName(), entry.DisplaySize(), entry.DisplayModTime())
		lines = append(lines, style.Render(line))
	}

	return strings.Join(lines, "\n")
}

func (m *Model) renderPreview() string {
	entry := m.selected()
	if entry == nil {
		return m.theme.PreviewStyle.Render("No file selected")
	}
	if entry.IsDir {
		return m.theme.PreviewStyle.Render(entry.DisplayName())
	}
	if m.previewErr != nil {
		return m.theme.ErrorStyle.Render(fmt.Sprintf("Error: %v", m.previewErr))
	}
	if m.previewContent == "" {
		return m.theme.PreviewStyle.Render("(empty file)")
	}
	return m.theme.PreviewStyle.Render(m.previewContent)
}

func (m *Model) renderStatus() string {
	if m.errorMsg != "" {
		return m.theme.StatusBarStyle.Width(m.width).Render(
			m.theme.ErrorStyle.Render(m.errorMsg))
	}

	status := fmt.Sprintf("%d entries | state: %s | restored: %t",
		len(m.entries), m.instance.State(), m.instance.Restored())
	return m.theme.StatusBarStyle.Width(m.width).Render(status)
}

func (m *Model) renderInfo() string {
	body := strings.Join(m.instanceInfo(), "\n")

	sections := []string{
		m.theme.TitleStyle.Render("Instance Inspector - Info"),
		m.theme.BorderStyle.Width(m.width - 4).Render(body),
		m.theme.HelpStyle.Render("press any key to return"),
	}
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m *Model) renderHelp() string {
	sections := []string{
		m.theme.TitleStyle.Render("Instance Inspector - Help"),
		m.theme.HelpStyle.Render(m.help.FullHelpView(m.keys.FullHelp())),
		m.theme.HelpStyle.Render("press any key to return"),
	}
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}
