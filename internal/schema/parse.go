package schema

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"supervisory/internal/domain"
)

var yamlLine = regexp.MustCompile(`^line (\d+): `)

// Parse decodes a definition document. Unknown fields and type mismatches
// are reported as error issues; decoding continues past them so every
// problem surfaces at once. The returned definition is nil only when the
// document could not be decoded at all.
func Parse(data []byte) (*domain.Definition, []Issue) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var def domain.Definition
	err := dec.Decode(&def)
	if err == nil {
		return &def, nil
	}
	if errors.Is(err, io.EOF) {
		return nil, []Issue{{Path: "root", Message: "document is empty"}}
	}
	var te *yaml.TypeError
	if errors.As(err, &te) {
		issues := make([]Issue, 0, len(te.Errors))
		for _, msg := range te.Errors {
			issues = append(issues, typeIssue(msg))
		}
		return &def, issues
	}
	return nil, []Issue{{Path: "root", Message: "invalid YAML: " + strings.TrimPrefix(err.Error(), "yaml: ")}}
}

// ParseFile reads and decodes path. I/O failures are returned as errors,
// document problems as issues.
func ParseFile(path string) (*domain.Definition, []Issue, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read definition: %w", err)
	}
	def, issues := Parse(data)
	return def, issues, nil
}

func typeIssue(msg string) Issue {
	path := "root"
	if m := yamlLine.FindStringSubmatch(msg); m != nil {
		path = "line " + m[1]
		msg = msg[len(m[0]):]
	}
	msg = strings.ReplaceAll(msg, "domain.", "")
	return Issue{Path: path, Message: msg}
}
