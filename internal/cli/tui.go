package cli

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/matzehuels/storagex/pkg/app"
	"github.com/matzehuels/storagex/pkg/config"
	serrors "github.com/matzehuels/storagex/pkg/errors"
	"github.com/matzehuels/storagex/pkg/metadata"
	"github.com/matzehuels/storagex/pkg/storage"
)

// List styles
var (
	listSelectedStyle = lipgloss.NewStyle().Bold(true).Foreground(colorCyan)
	listDimStyle      = lipgloss.NewStyle().Foreground(colorDim)
)

// browseCommand creates the "browse" command.
func (c *CLI) browseCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "browse",
		Short: "Browse stored files and their chunks interactively",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return c.withBundle(ctx, func(_ *config.Config, b *app.Bundle) error {
				p := tea.NewProgram(NewBrowserModel(ctx, b.Storage), tea.WithAltScreen(), tea.WithContext(ctx))
				_, err := p.Run()
				return err
			})
		},
	}
}

// =============================================================================
// BrowserModel - Interactive file browser
// =============================================================================

// Catalog is the part of the storage service the browser reads.
type Catalog interface {
	List(ctx context.Context) ([]metadata.FileMetadata, error)
	Stat(ctx context.Context, name string) (*storage.FileInfo, error)
	Verify(ctx context.Context, name string) (int64, error)
}

type filesLoadedMsg struct {
	files []metadata.FileMetadata
	err   error
}

type detailLoadedMsg struct {
	info *storage.FileInfo
	err  error
}

type verifiedMsg struct {
	name string
	size int64
	err  error
}

// BrowserModel is the bubbletea model for browsing the file catalogue.
type BrowserModel struct {
	ctx     context.Context
	catalog Catalog

	Files  []metadata.FileMetadata
	Cursor int
	Offset int
	Height int

	// Detail is the file shown in the detail view, nil in the list view.
	Detail *storage.FileInfo
	Status string
	Err    error
}

// NewBrowserModel creates a browser over catalog.
func NewBrowserModel(ctx context.Context, catalog Catalog) BrowserModel {
	return BrowserModel{ctx: ctx, catalog: catalog, Height: 15}
}

func (m BrowserModel) Init() tea.Cmd {
	return m.load()
}

func (m BrowserModel) load() tea.Cmd {
	return func() tea.Msg {
		files, err := m.catalog.List(m.ctx)
		return filesLoadedMsg{files: files, err: err}
	}
}

func (m BrowserModel) stat(name string) tea.Cmd {
	return func() tea.Msg {
		info, err := m.catalog.Stat(m.ctx, name)
		return detailLoadedMsg{info: info, err: err}
	}
}

func (m BrowserModel) verify(name string) tea.Cmd {
	return func() tea.Msg {
		n, err := m.catalog.Verify(m.ctx, name)
		return verifiedMsg{name: name, size: n, err: err}
	}
}

// selected returns the file under the cursor.
func (m BrowserModel) selected() (metadata.FileMetadata, bool) {
	if m.Cursor < 0 || m.Cursor >= len(m.Files) {
		return metadata.FileMetadata{}, false
	}
	return m.Files[m.Cursor], true
}

func (m BrowserModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case filesLoadedMsg:
		m.Files, m.Err = msg.files, msg.err
		if m.Cursor >= len(m.Files) {
			m.Cursor = max(len(m.Files)-1, 0)
		}
		m.Offset = min(m.Offset, m.Cursor)
	case detailLoadedMsg:
		m.Detail, m.Err = msg.info, msg.err
	case verifiedMsg:
		m.Err = nil
		if msg.err != nil {
			m.Status = ""
			m.Err = msg.err
		} else {
			m.Status = fmt.Sprintf("%s is intact (%s)", msg.name, formatSize(msg.size))
		}
	case tea.KeyMsg:
		return m.handleKey(msg)
	case tea.WindowSizeMsg:
		m.Height = msg.Height - 8
		if m.Height < 5 {
			m.Height = 5
		}
	}
	return m, nil
}

func (m BrowserModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit
	case "esc", "backspace", "left", "h":
		if m.Detail != nil {
			m.Detail = nil
			return m, nil
		}
		if msg.String() == "esc" {
			return m, tea.Quit
		}
	case "up", "k":
		if m.Detail == nil && m.Cursor > 0 {
			m.Cursor--
			if m.Cursor < m.Offset {
				m.Offset = m.Cursor
			}
		}
	case "down", "j":
		if m.Detail == nil && m.Cursor < len(m.Files)-1 {
			m.Cursor++
			if m.Cursor >= m.Offset+m.Height {
				m.Offset = m.Cursor - m.Height + 1
			}
		}
	case "enter", "right", "l":
		if f, ok := m.selected(); ok && m.Detail == nil {
			return m, m.stat(f.FileName)
		}
	case "v":
		name := ""
		if m.Detail != nil {
			name = m.Detail.File.FileName
		} else if f, ok := m.selected(); ok {
			name = f.FileName
		}
		if name != "" {
			m.Status = "Verifying " + name + "..."
			return m, m.verify(name)
		}
	case "r":
		m.Status, m.Err = "", nil
		return m, m.load()
	}
	return m, nil
}

func (m BrowserModel) View() string {
	var b strings.Builder

	if m.Detail != nil {
		b.WriteString(StyleTitle.Render(m.Detail.File.FileName))
		b.WriteString("\n")
		b.WriteString(listDimStyle.Render("v verify  esc back  q quit"))
		b.WriteString("\n\n")
		b.WriteString(m.detailView())
	} else {
		b.WriteString(StyleTitle.Render("Stored Files"))
		b.WriteString("\n")
		b.WriteString(listDimStyle.Render("↑/↓ navigate  ⏎ chunks  v verify  r refresh  q quit"))
		b.WriteString("\n\n")
		b.WriteString(m.listView())
	}

	b.WriteString("\n\n")
	switch {
	case m.Err != nil:
		b.WriteString(styleIconError.Render(iconError) + " " + serrors.UserMessage(m.Err))
	case m.Status != "":
		b.WriteString(styleIconInfo.Render(iconInfo) + " " + m.Status)
	}
	return b.String()
}

func (m BrowserModel) listView() string {
	if len(m.Files) == 0 {
		return listDimStyle.Render("  No files stored")
	}

	end := min(m.Offset+m.Height, len(m.Files))
	rows := [][]string{}
	for i := m.Offset; i < end; i++ {
		f := m.Files[i]
		cursor := "  "
		if i == m.Cursor {
			cursor = "▸ "
		}
		rows = append(rows, []string{cursor, f.FileName, formatSize(f.TotalSize), strconv.Itoa(f.ChunkCount), string(f.Status), formatAge(f.CreatedAt)})
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(colorDim)).
		Headers("", "Name", "Size", "Chunks", "Status", "Created").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == -1 {
				return headerStyle
			}
			idx := m.Offset + row
			if idx >= len(m.Files) {
				return lipgloss.NewStyle()
			}
			base := lipgloss.NewStyle()
			if !m.Files[idx].Complete() {
				base = base.Foreground(colorYellow)
			}
			if idx == m.Cursor {
				return base.Inherit(listSelectedStyle)
			}
			return base
		})

	return t.Render() + "\n" + listDimStyle.Render(fmt.Sprintf("  [%d/%d]", m.Cursor+1, len(m.Files)))
}

func (m BrowserModel) detailView() string {
	f := m.Detail.File
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", listDimStyle.Render("Size    "), formatSize(f.TotalSize))
	fmt.Fprintf(&b, "%s %s\n", listDimStyle.Render("Status  "), formatStatus(f.Status))
	if f.Checksum != "" {
		fmt.Fprintf(&b, "%s %s\n", listDimStyle.Render("SHA-256 "), f.Checksum)
	}
	fmt.Fprintf(&b, "%s %d chunks on %d backends\n", listDimStyle.Render("Layout  "), len(m.Detail.Chunks), countBackends(m.Detail.Chunks))
	if len(m.Detail.Chunks) > 0 {
		b.WriteString("\n")
		b.WriteString(chunksTable(m.Detail.Chunks))
	}
	return b.String()
}
