package cli

import (
	"context"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	serrors "github.com/matzehuels/storagex/pkg/errors"
	"github.com/matzehuels/storagex/pkg/metadata"
	"github.com/matzehuels/storagex/pkg/storage"
)

type fakeCatalog struct {
	files     []metadata.FileMetadata
	chunks    map[string][]metadata.ChunkMetadata
	verifyErr error
}

func (f *fakeCatalog) List(context.Context) ([]metadata.FileMetadata, error) {
	return f.files, nil
}

func (f *fakeCatalog) Stat(_ context.Context, name string) (*storage.FileInfo, error) {
	for _, file := range f.files {
		if file.FileName == name {
			return &storage.FileInfo{File: file, Chunks: f.chunks[name]}, nil
		}
	}
	return nil, serrors.New(serrors.ErrCodeFileNotFound, "file %s not found", name)
}

func (f *fakeCatalog) Verify(_ context.Context, name string) (int64, error) {
	if f.verifyErr != nil {
		return 0, f.verifyErr
	}
	fi, err := f.Stat(context.Background(), name)
	if err != nil {
		return 0, err
	}
	return fi.File.TotalSize, nil
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{
		files: []metadata.FileMetadata{
			{FileName: "a.txt", TotalSize: 10, ChunkCount: 1, Status: metadata.StatusComplete},
			{FileName: "b.bin", TotalSize: 300, ChunkCount: 2, Status: metadata.StatusComplete},
		},
		chunks: map[string][]metadata.ChunkMetadata{
			"b.bin": {
				{ChunkName: "b.bin-chunk-0", Index: 0, Size: 200, StorageID: "local:/x"},
				{ChunkName: "b.bin-chunk-1", Index: 1, Size: 100, StorageID: "local:/y"},
			},
		},
	}
}

// step applies msg and runs any returned command once, feeding its result
// back into the model.
func step(t *testing.T, m BrowserModel, msg tea.Msg) BrowserModel {
	t.Helper()
	next, cmd := m.Update(msg)
	m = next.(BrowserModel)
	if cmd != nil {
		if out := cmd(); out != nil {
			if _, quit := out.(tea.QuitMsg); !quit {
				next, _ = m.Update(out)
				m = next.(BrowserModel)
			}
		}
	}
	return m
}

func key(s string) tea.KeyMsg {
	switch s {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	case "down":
		return tea.KeyMsg{Type: tea.KeyDown}
	case "up":
		return tea.KeyMsg{Type: tea.KeyUp}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func initModel(t *testing.T, cat Catalog) BrowserModel {
	t.Helper()
	m := NewBrowserModel(context.Background(), cat)
	msg := m.Init()()
	next, _ := m.Update(msg)
	return next.(BrowserModel)
}

func TestBrowserLoadsFiles(t *testing.T) {
	m := initModel(t, newFakeCatalog())
	if len(m.Files) != 2 {
		t.Fatalf("got %d files, want 2", len(m.Files))
	}
	view := m.View()
	for _, want := range []string{"Stored Files", "a.txt", "b.bin", "[1/2]"} {
		if !strings.Contains(view, want) {
			t.Errorf("list view missing %q", want)
		}
	}
}

func TestBrowserNavigation(t *testing.T) {
	m := initModel(t, newFakeCatalog())

	m = step(t, m, key("down"))
	m = step(t, m, key("down"))
	if m.Cursor != 1 {
		t.Errorf("cursor = %d, want 1 (clamped)", m.Cursor)
	}
	m = step(t, m, key("k"))
	if m.Cursor != 0 {
		t.Errorf("cursor = %d, want 0", m.Cursor)
	}
}

func TestBrowserDetailView(t *testing.T) {
	m := initModel(t, newFakeCatalog())
	m = step(t, m, key("j"))
	m = step(t, m, key("enter"))

	if m.Detail == nil || m.Detail.File.FileName != "b.bin" {
		t.Fatalf("detail = %+v, want b.bin", m.Detail)
	}
	view := m.View()
	for _, want := range []string{"b.bin-chunk-0", "local:/y", "2 chunks on 2 backends"} {
		if !strings.Contains(view, want) {
			t.Errorf("detail view missing %q:\n%s", want, view)
		}
	}

	m = step(t, m, key("esc"))
	if m.Detail != nil {
		t.Error("esc should return to the list")
	}
}

func TestBrowserVerify(t *testing.T) {
	m := initModel(t, newFakeCatalog())
	m = step(t, m, key("v"))
	if !strings.Contains(m.Status, "a.txt is intact") {
		t.Errorf("status = %q", m.Status)
	}

	cat := newFakeCatalog()
	cat.verifyErr = serrors.New(serrors.ErrCodeChecksumMismatch, "chunk a.txt-chunk-0 is corrupt")
	m = initModel(t, cat)
	m = step(t, m, key("v"))
	if m.Err == nil || !strings.Contains(m.View(), "is corrupt") {
		t.Errorf("verify failure not shown: err=%v", m.Err)
	}
}

func TestBrowserQuit(t *testing.T) {
	m := initModel(t, newFakeCatalog())
	_, cmd := m.Update(key("q"))
	if cmd == nil {
		t.Fatal("q should return a command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("q should quit")
	}
}

func TestBrowserEmpty(t *testing.T) {
	m := initModel(t, &fakeCatalog{})
	if !strings.Contains(m.View(), "No files stored") {
		t.Error("empty catalogue should say so")
	}
	m = step(t, m, key("enter"))
	if m.Detail != nil {
		t.Error("enter on an empty list should do nothing")
	}
}
