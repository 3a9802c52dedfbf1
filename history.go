package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/babybirdprd/irongraph/internal/history"
)

type historyItem struct {
	summary history.SessionSummary
}

func (h historyItem) Title() string {
	return fmt.Sprintf("%s (%s)", h.summary.Timestamp.Format("01/02 15:04"), h.summary.Model)
}
func (h historyItem) Description() string { return h.summary.Summary }
func (h historyItem) FilterValue() string { return h.summary.Summary + " " + h.summary.Model }

type historyModel struct {
	list     list.Model
	selected *history.SessionSummary
	quitting bool
}

func newHistoryModel(sessions []history.SessionSummary) historyModel {
	items := make([]list.Item, len(sessions))
	for i, s := range sessions {
		items[i] = historyItem{summary: s}
	}

	l := list.New(items, list.NewDefaultDelegate(), 0, 0)
	l.Title = "Recent Sessions"
	l.Styles.Title = lipgloss.NewStyle().
		Foreground(lipgloss.Color("#FFF")).
		Background(lipgloss.Color("#7D56F4")).
		Padding(0, 1)

	return historyModel{list: l}
}

func (m historyModel) Init() tea.Cmd {
	return nil
}

func (m historyModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" || msg.String() == "q" {
			m.quitting = true
			return m, tea.Quit
		}
		if msg.String() == "enter" {
			if i, ok := m.list.SelectedItem().(historyItem); ok {
				m.selected = &i.summary
				return m, tea.Quit
			}
		}
	case tea.WindowSizeMsg:
		h, v := lipgloss.NewStyle().Margin(1, 2).GetFrameSize()
		m.list.SetSize(msg.Width-h, msg.Height-v)
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m historyModel) View() string {
	if m.quitting {
		return ""
	}
	return lipgloss.NewStyle().Margin(1, 2).Render(m.list.View())
}

func openHistoryManager() (*history.Manager, error) {
	root, err := filepath.Abs(flagWorkspace)
	if err != nil {
		return nil, err
	}
	histDir := filepath.Join(root, ".irongraph")
	return history.New(filepath.Join(histDir, "history.db"), filepath.Join(histDir, "history.jsonl"))
}

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Browse or search past agent sessions",
	}
	cmd.AddCommand(newHistoryBrowseCmd())
	cmd.AddCommand(newHistorySearchCmd())
	return cmd
}

func newHistoryBrowseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "browse",
		Short: "Open an interactive list of recent sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := openHistoryManager()
			if err != nil {
				return err
			}
			defer mgr.Close()

			sessions, err := mgr.ListRecentSessions(50)
			if err != nil {
				return err
			}
			if len(sessions) == 0 {
				fmt.Println("No sessions recorded yet.")
				return nil
			}

			p := tea.NewProgram(newHistoryModel(sessions))
			finalModel, err := p.Run()
			if err != nil {
				return err
			}
			if m, ok := finalModel.(historyModel); ok && m.selected != nil {
				fmt.Printf("%s\t%s\n", m.selected.UUID, m.selected.Summary)
			}
			return nil
		},
	}
}

func newHistorySearchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "search [query]",
		Short: "Full-text search across indexed session content",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := openHistoryManager()
			if err != nil {
				return err
			}
			defer mgr.Close()

			results, err := mgr.Search(strings.Join(args, " "))
			if err != nil {
				return err
			}
			if len(results) == 0 {
				fmt.Println("No matches.")
				return nil
			}
			for _, r := range results {
				fmt.Fprintf(os.Stdout, "[%s] %s (%s): %s\n", r.Timestamp.Format("01/02 15:04"), r.SessionUUID, r.Role, r.Preview)
			}
			return nil
		},
	}
}
