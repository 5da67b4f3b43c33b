// Package export writes harvested comments to CSV and JSON files.
package export

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/nadmax/harvq/internal/record"
)

const TimestampLayout = "2006-01-02_15-04-05"

// utf8BOM lets spreadsheet applications detect the encoding.
const utf8BOM = "\ufeff"

var CSVHeader = []string{"first_name", "username", "user_id", "comment_text", "post_url"}

var ErrUnexpectedHeader = errors.New("unexpected CSV header")

type Writer interface {
	Extension() string
	Write(w io.Writer, comments []record.Comment) error
}

type CSVWriter struct{}

func (CSVWriter) Extension() string { return "csv" }

func (CSVWriter) Write(w io.Writer, comments []record.Comment) error {
	if _, err := io.WriteString(w, utf8BOM); err != nil {
		return err
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeader); err != nil {
		return err
	}
	for _, c := range comments {
		row := []string{
			c.DisplayName,
			c.Handle,
			strconv.FormatInt(c.IdentityID, 10),
			c.Text,
			c.PostURL,
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

type JSONWriter struct{}

func (JSONWriter) Extension() string { return "json" }

func (JSONWriter) Write(w io.Writer, comments []record.Comment) error {
	if comments == nil {
		comments = []record.Comment{}
	}

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(comments)
}

// ReadCSV parses a file produced by CSVWriter. Columns missing from the
// export (post, comment ids, timestamps) are left zero.
func ReadCSV(r io.Reader) ([]record.Comment, error) {
	br := bufio.NewReader(r)
	if bom, err := br.Peek(len(utf8BOM)); err == nil && string(bom) == utf8BOM {
		if _, err := br.Discard(len(utf8BOM)); err != nil {
			return nil, err
		}
	}

	cr := csv.NewReader(br)
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	if strings.Join(header, ",") != strings.Join(CSVHeader, ",") {
		return nil, fmt.Errorf("%w: %v", ErrUnexpectedHeader, header)
	}

	var comments []record.Comment
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}

		id, err := strconv.ParseInt(row[2], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid user_id %q: %w", row[2], err)
		}
		comments = append(comments, record.Comment{
			DisplayName: row[0],
			Handle:      row[1],
			IdentityID:  id,
			Text:        row[3],
			PostURL:     row[4],
		})
	}

	return comments, nil
}

type Files struct {
	CSV  string `json:"csv_file"`
	JSON string `json:"json_file"`
}

type Exporter struct {
	dir string
	now func() time.Time
}

func NewExporter(dir string) *Exporter {
	if dir == "" {
		dir = "./data/output"
	}
	return &Exporter{dir: dir, now: time.Now}
}

// Export writes comments as {channel}_commenters_{timestamp}.csv and .json
// into the output directory. Both files share one timestamp.
func (e *Exporter) Export(channel string, comments []record.Comment) (Files, error) {
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return Files{}, fmt.Errorf("failed to create output directory: %w", err)
	}

	ts := e.now().Format(TimestampLayout)
	csvPath, err := e.writeFile(CSVWriter{}, channel, ts, comments)
	if err != nil {
		return Files{}, err
	}
	jsonPath, err := e.writeFile(JSONWriter{}, channel, ts, comments)
	if err != nil {
		return Files{}, err
	}

	return Files{CSV: csvPath, JSON: jsonPath}, nil
}

func (e *Exporter) writeFile(w Writer, channel, ts string, comments []record.Comment) (string, error) {
	path := filepath.Join(e.dir, Filename(channel, ts, w.Extension()))

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create %s: %w", w.Extension(), err)
	}

	if err := w.Write(f, comments); err != nil {
		_ = f.Close()
		return "", fmt.Errorf("failed to write %s: %w", w.Extension(), err)
	}
	if err := f.Close(); err != nil {
		return "", err
	}

	return path, nil
}

func Filename(channel, timestamp, ext string) string {
	return fmt.Sprintf("%s_commenters_%s.%s", sanitize(channel), timestamp, ext)
}

func sanitize(name string) string {
	name = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		return r
	}, strings.TrimSpace(name))
	if name == "" {
		return "channel"
	}
	return name
}
