package subtitle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/JeesubKim/live-trans-sub000/fileq"
)

const maxNameRunes = 64

// Store reads and writes permanent subtitle files in one directory. All
// mutations go through the file queue.
type Store struct {
	dir string
	q   *fileq.Queue
	now func() time.Time
}

func NewStore(dir string, q *fileq.Queue) *Store {
	return &Store{dir: dir, q: q, now: time.Now}
}

func (s *Store) Dir() string { return s.dir }

type SaveRequest struct {
	Title     string
	Category  string
	Language  string
	Model     string
	Items     []Item
	Duration  *time.Duration
	AudioPath string
}

// PathFor returns where a file with the given title is stored. Two titles
// that sanitize to the same name share a path; the later save wins.
func (s *Store) PathFor(title string) string {
	return filepath.Join(s.dir, FileName(title))
}

func (s *Store) Save(ctx context.Context, req SaveRequest) (string, error) {
	items := req.Items
	if items == nil {
		items = []Item{}
	}
	f := &File{
		Version: FormatVersion,
		Metadata: Metadata{
			Title:         req.Title,
			Category:      req.Category,
			Language:      req.Language,
			Model:         req.Model,
			Created:       s.now().UTC(),
			Duration:      secondsPtr(req.Duration),
			AudioFilePath: req.AudioPath,
		},
		Subtitles: items,
	}
	path := s.PathFor(req.Title)
	if err := s.write(ctx, path, f); err != nil {
		return "", err
	}
	return path, nil
}

// Update overwrites an existing permanent file wholesale.
func (s *Store) Update(ctx context.Context, path string, f *File) error {
	if f == nil {
		return errors.New("subtitle: nil file")
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("subtitle: update %s: %w", path, err)
	}
	if f.Version == "" {
		f.Version = FormatVersion
	}
	return s.write(ctx, path, f)
}

func (s *Store) write(ctx context.Context, path string, f *File) error {
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("subtitle: encode: %w", err)
	}
	if err := s.q.Write(path, data).Wait(ctx); err != nil {
		return fmt.Errorf("subtitle: write %s: %w", path, err)
	}
	return nil
}

func (s *Store) Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("subtitle: load: %w", err)
	}
	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("subtitle: parse %s: %w", path, err)
	}
	return &f, nil
}

// List returns the permanent files, newest modification first. A missing
// directory is an empty list.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	type entry struct {
		path string
		mod  time.Time
	}
	var files []entry
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != Ext {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, entry{filepath.Join(s.dir, e.Name()), info.ModTime()})
	}
	sort.SliceStable(files, func(i, j int) bool {
		return files[i].mod.After(files[j].mod)
	})
	paths := make([]string, len(files))
	for i, f := range files {
		paths[i] = f.path
	}
	return paths, nil
}

// Metadata decodes only the metadata object of a file; the subtitle array
// is skipped token by token. It returns nil, nil when the file has no
// metadata section.
func (s *Store) Metadata(path string) (*Metadata, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("subtitle: metadata: %w", err)
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	if err := expectDelim(dec, '{'); err != nil {
		return nil, fmt.Errorf("subtitle: metadata %s: %w", path, err)
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("subtitle: metadata %s: %w", path, err)
		}
		key, _ := tok.(string)
		if key == "metadata" {
			var m Metadata
			if err := dec.Decode(&m); err != nil {
				return nil, fmt.Errorf("subtitle: metadata %s: %w", path, err)
			}
			return &m, nil
		}
		if err := skipValue(dec); err != nil {
			return nil, fmt.Errorf("subtitle: metadata %s: %w", path, err)
		}
	}
	return nil, nil
}

// Delete removes a permanent file. A file that does not exist reports false
// without error.
func (s *Store) Delete(ctx context.Context, path string) (bool, error) {
	if filepath.Ext(path) != Ext {
		return false, fmt.Errorf("subtitle: refusing to delete %s: not a %s file", path, Ext)
	}
	err := s.q.Delete(path).Wait(ctx)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("subtitle: delete %s: %w", path, err)
	}
	return true, nil
}

// FileName derives a file name from a title: characters that are illegal in
// file names are dropped, whitespace runs become one underscore, and the
// result is cut to 64 runes.
func FileName(title string) string {
	var b strings.Builder
	space := false
	for _, r := range strings.TrimSpace(title) {
		switch {
		case strings.ContainsRune(`<>:"/\|?*`, r), unicode.IsControl(r):
			continue
		case unicode.IsSpace(r):
			space = true
			continue
		}
		if space {
			b.WriteByte('_')
			space = false
		}
		b.WriteRune(r)
	}
	name := []rune(b.String())
	if len(name) > maxNameRunes {
		name = name[:maxNameRunes]
	}
	base := strings.Trim(string(name), ".")
	if base == "" {
		base = "untitled"
	}
	return base + Ext
}

func expectDelim(dec *json.Decoder, want json.Delim) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != want {
		return fmt.Errorf("expected %q, got %v", want, tok)
	}
	return nil
}

func skipValue(dec *json.Decoder) error {
	depth := 0
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return io.ErrUnexpectedEOF
		}
		if err != nil {
			return err
		}
		if d, ok := tok.(json.Delim); ok {
			switch d {
			case '{', '[':
				depth++
			case '}', ']':
				depth--
			}
		}
		if depth == 0 {
			return nil
		}
	}
}
