// Package evaluation runs the offline evaluation of the ensemble and the
// assistant against labelled samples and stores the reports.
package evaluation

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
)

// Labelled is one validation message.
type Labelled struct {
	Message string `json:"message"`
	Label   string `json:"label"`
}

// Session is one assistant evaluation question.
type Session struct {
	Question string         `json:"question"`
	Extra    map[string]any `json:"-"`
}

// LoadLabelled reads a CSV with message and label columns, or JSON lines with
// the same keys, depending on the file extension.
func LoadLabelled(path string) ([]Labelled, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if strings.EqualFold(filepath.Ext(path), ".jsonl") {
		return decodeJSONL[Labelled](f)
	}
	return readLabelledCSV(f)
}

func readLabelledCSV(r io.Reader) ([]Labelled, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	msgCol, labelCol := -1, -1
	for i, h := range header {
		switch strings.ToLower(strings.TrimSpace(h)) {
		case "message", "text":
			msgCol = i
		case "label":
			labelCol = i
		}
	}
	if msgCol < 0 || labelCol < 0 {
		return nil, fmt.Errorf("csv needs message and label columns, got %v", header)
	}
	var out []Labelled
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if msgCol >= len(rec) || labelCol >= len(rec) {
			continue
		}
		out = append(out, Labelled{
			Message: rec[msgCol],
			Label:   strings.ToLower(strings.TrimSpace(rec[labelCol])),
		})
	}
	return out, nil
}

// LoadSessions reads assistant questions from JSON lines.
func LoadSessions(path string) ([]Session, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	raw, err := decodeJSONL[map[string]any](f)
	if err != nil {
		return nil, err
	}
	out := make([]Session, 0, len(raw))
	for _, m := range raw {
		q, _ := m["question"].(string)
		if strings.TrimSpace(q) == "" {
			continue
		}
		delete(m, "question")
		out = append(out, Session{Question: q, Extra: m})
	}
	return out, nil
}

func decodeJSONL[T any](r io.Reader) ([]T, error) {
	var out []T
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for line := 1; sc.Scan(); line++ {
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		var v T
		if err := json.Unmarshal([]byte(text), &v); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, v)
	}
	return out, sc.Err()
}

// Sample picks n items without replacement. The same seed yields the same
// sample; n larger than the input returns everything.
func Sample[T any](items []T, n int, seed int64) []T {
	if n <= 0 || n >= len(items) {
		return append([]T(nil), items...)
	}
	perm := rand.New(rand.NewSource(seed)).Perm(len(items))
	out := make([]T, n)
	for i := 0; i < n; i++ {
		out[i] = items[perm[i]]
	}
	return out
}
