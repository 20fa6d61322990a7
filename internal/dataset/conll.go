package dataset

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"kbest/internal/forest"
)

// POSTags holds the universal POS tag of every token and the token count.
type POSTags struct {
	Tags   map[forest.GraphNode]string
	Length int
}

// LoadPOS reads the UPOS column of a CoNLL-U file.
func LoadPOS(path string) (*POSTags, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open conll: %w", err)
	}
	defer f.Close()

	pos, err := ReadPOS(f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse conll %s: %w", path, err)
	}
	return pos, nil
}

// ReadPOS parses CoNLL-U token lines. Comments, multiword ranges (1-2) and
// empty nodes (1.1) are skipped.
func ReadPOS(r io.Reader) (*POSTags, error) {
	out := &POSTags{Tags: make(map[forest.GraphNode]string)}
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		cols := strings.Split(text, "\t")
		if len(cols) < 4 {
			return nil, fmt.Errorf("line %d: expected at least 4 columns, got %d", line, len(cols))
		}
		if strings.ContainsAny(cols[0], "-.") {
			continue
		}
		id, err := strconv.Atoi(cols[0])
		if err != nil {
			return nil, fmt.Errorf("line %d: bad token id %q", line, cols[0])
		}
		out.Tags[forest.GraphNode(id)] = cols[3]
		if id > out.Length {
			out.Length = id
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
