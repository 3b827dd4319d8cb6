package cmd

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/JakeFAU/article-harvester/internal/retrieval"
)

// targetLine is one inventory row. Hints are optional and merged with the
// configured site table by the selector.
type targetLine struct {
	ID           string              `json:"id"`
	URL          string              `json:"url"`
	Hints        retrieval.SiteHints `json:"hints"`
	TopicKeyword string              `json:"topic_keyword"`
	Topic        string              `json:"topic"`
	Excerpt      string              `json:"excerpt"`
}

func loadTargets(path string) ([]retrieval.Target, error) {
	if path == "-" {
		return readTargets(os.Stdin)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open targets: %w", err)
	}
	defer f.Close()
	return readTargets(f)
}

func readTargets(r io.Reader) ([]retrieval.Target, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	var (
		targets []retrieval.Target
		errs    []error
	)
	seen := make(map[string]int)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" || strings.HasPrefix(raw, "#") {
			continue
		}
		var line targetLine
		if err := json.Unmarshal([]byte(raw), &line); err != nil {
			errs = append(errs, fmt.Errorf("line %d: %w", lineNo, err))
			continue
		}
		switch {
		case line.ID == "":
			errs = append(errs, fmt.Errorf("line %d: id is required", lineNo))
			continue
		case line.URL == "":
			errs = append(errs, fmt.Errorf("line %d: url is required", lineNo))
			continue
		}
		if first, dup := seen[line.ID]; dup {
			errs = append(errs, fmt.Errorf("line %d: duplicate id %q (first on line %d)", lineNo, line.ID, first))
			continue
		}
		seen[line.ID] = lineNo
		topic := line.TopicKeyword
		if topic == "" {
			topic = line.Topic
		}
		targets = append(targets, retrieval.Target{
			ID:           line.ID,
			URL:          line.URL,
			Hints:        line.Hints,
			TopicKeyword: topic,
			Excerpt:      line.Excerpt,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read targets: %w", err)
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("parse targets: %w", errors.Join(errs...))
	}
	return targets, nil
}
