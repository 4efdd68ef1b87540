// relkit-inspect opens a relkit database file and browses its pages: the
// header page's index records, B+ tree node headers, and a hex preview of
// raw page bytes. It writes no page data; a missing file is created empty.
package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"relkit/pkg/buffer"
	"relkit/pkg/primitives"
	"relkit/pkg/storage/disk"
	"relkit/pkg/storage/index/btree"
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s <database-file>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	summary, err := loadSummary(flag.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "relkit-inspect: %v\n", err)
		os.Exit(1)
	}

	if _, err := tea.NewProgram(newModel(summary), tea.WithAltScreen()).Run(); err != nil {
		fmt.Fprintf(os.Stderr, "relkit-inspect: %v\n", err)
		os.Exit(1)
	}
}

// pageInfo is one classified page of the database file.
type pageInfo struct {
	id     primitives.PageID
	kind   string
	detail string
	raw    []byte
}

// fileSummary is everything the UI renders.
type fileSummary struct {
	path    string
	indexes map[string]primitives.PageID
	pages   []pageInfo
}

func loadSummary(path string) (*fileSummary, error) {
	dm, err := disk.NewManager(path)
	if err != nil {
		return nil, err
	}
	defer dm.ShutDown()

	size, err := dm.Size()
	if err != nil {
		return nil, err
	}
	numPages := int(size / primitives.PageSize)

	pool := buffer.NewPool(8, dm, 2)
	indexes, err := btree.HeaderRecords(pool)
	if err != nil {
		indexes = map[string]primitives.PageID{}
	}

	summary := &fileSummary{path: path, indexes: indexes}
	buf := make([]byte, primitives.PageSize)
	for pid := primitives.PageID(0); int(pid) < numPages; pid++ {
		if err := dm.ReadPage(pid, buf); err != nil {
			return nil, err
		}
		summary.pages = append(summary.pages, classify(pid, buf))
	}
	return summary, nil
}

// classify reads just enough of the page bytes to name its role.
func classify(pid primitives.PageID, buf []byte) pageInfo {
	info := pageInfo{id: pid, raw: append([]byte(nil), buf...)}

	if pid == btree.HeaderPageID {
		info.kind = "header"
		info.detail = fmt.Sprintf("%d index record(s)", binary.BigEndian.Uint32(buf))
		return info
	}

	size := int32(binary.BigEndian.Uint32(buf[4:]))
	maxSize := int32(binary.BigEndian.Uint32(buf[8:]))
	parent := primitives.PageID(binary.BigEndian.Uint32(buf[12:]))
	self := primitives.PageID(binary.BigEndian.Uint32(buf[16:]))

	plausible := self == pid && size >= 0 && maxSize > 0 && size <= maxSize
	switch {
	case plausible && buf[0] == 1:
		next := primitives.PageID(binary.BigEndian.Uint32(buf[20:]))
		info.kind = "tree leaf"
		info.detail = fmt.Sprintf("size %d/%d, parent %d, next %d", size, maxSize, parent, next)
	case plausible && buf[0] == 2:
		info.kind = "tree internal"
		info.detail = fmt.Sprintf("size %d/%d, parent %d", size, maxSize, parent)
	default:
		info.kind = "raw"
		info.detail = "unrecognized page bytes"
	}
	return info
}

type model struct {
	summary    *fileSummary
	cursor     int
	detailMode bool
	viewport   viewport.Model
	width      int
	height     int
	ready      bool
}

func newModel(summary *fileSummary) model {
	return model{summary: summary}
}

func (m model) Init() tea.Cmd {
	return nil
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.viewport = viewport.New(msg.Width-4, msg.Height-8)
		m.ready = true

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, keys.Back):
			m.detailMode = false
		case m.detailMode:
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		case key.Matches(msg, keys.Up):
			if m.cursor > 0 {
				m.cursor--
			}
		case key.Matches(msg, keys.Down):
			if m.cursor < len(m.summary.pages)-1 {
				m.cursor++
			}
		case key.Matches(msg, keys.Select):
			m.detailMode = true
			m.viewport.SetContent(m.renderDetail())
			m.viewport.GotoTop()
		}
	}
	return m, nil
}

func (m model) View() string {
	if !m.ready {
		return "loading..."
	}
	if m.detailMode {
		page := m.summary.pages[m.cursor]
		title := titleStyle.Render(fmt.Sprintf("page %d (%s)", page.id, page.kind))
		return lipgloss.JoinVertical(lipgloss.Left,
			title,
			detailStyle.Render(m.viewport.View()),
			helpStyle.Render("esc back · q quit"),
		)
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("relkit database: " + m.summary.path))
	b.WriteByte('\n')
	for name, root := range m.summary.indexes {
		b.WriteString(itemStyle.Render(fmt.Sprintf("index %q root=%d", name, root)))
		b.WriteByte('\n')
	}
	b.WriteByte('\n')

	for i, page := range m.summary.pages {
		line := fmt.Sprintf("%4d  %-13s %s", page.id, page.kind, page.detail)
		if i == m.cursor {
			b.WriteString(selectedItemStyle.Render(line))
		} else {
			b.WriteString(itemStyle.Render(line))
		}
		b.WriteByte('\n')
	}

	b.WriteString(statusBarStyle.Render(fmt.Sprintf("%d pages", len(m.summary.pages))))
	b.WriteByte('\n')
	b.WriteString(helpStyle.Render("↑/↓ move · enter inspect · q quit"))
	return b.String()
}

// renderDetail hex-dumps the selected page with its parsed header.
func (m model) renderDetail() string {
	page := m.summary.pages[m.cursor]
	var b strings.Builder
	b.WriteString(labelStyle.Render("kind: "))
	b.WriteString(page.kind + "\n")
	b.WriteString(labelStyle.Render("summary: "))
	b.WriteString(page.detail + "\n\n")

	const bytesPerLine = 16
	for off := 0; off < len(page.raw); off += bytesPerLine {
		end := off + bytesPerLine
		if end > len(page.raw) {
			end = len(page.raw)
		}
		chunk := page.raw[off:end]

		var hexPart, asciiPart strings.Builder
		for _, c := range chunk {
			fmt.Fprintf(&hexPart, "%02x ", c)
			if c >= 0x20 && c < 0x7f {
				asciiPart.WriteByte(c)
			} else {
				asciiPart.WriteByte('.')
			}
		}
		fmt.Fprintf(&b, "%08x  %-48s %s\n", off, hexPart.String(), asciiPart.String())
	}
	return b.String()
}
