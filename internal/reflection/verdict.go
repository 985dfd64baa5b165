package reflection

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ashureev/reflection-judge/internal/domain"
	"github.com/kaptinlin/jsonrepair"
)

// ErrParse is returned when a judge reply holds no usable verdict.
var ErrParse = errors.New("unparseable verdict")

var errMissingComplete = errors.New(`missing "complete" field`)

type rawVerdict struct {
	Complete    *bool    `json:"complete"`
	Severity    string   `json:"severity"`
	Feedback    string   `json:"feedback"`
	Missing     []string `json:"missing"`
	NextActions []string `json:"next_actions"`
}

// ParseVerdict finds the first brace-delimited object in text that decodes to
// a valid verdict. Chatty preambles and code fences are tolerated; slightly
// malformed JSON gets one repair attempt.
func ParseVerdict(text string) (domain.Verdict, error) {
	var lastErr error
	for _, candidate := range jsonObjects(text) {
		v, err := decodeVerdict(candidate)
		if err == nil {
			return v, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		return domain.Verdict{}, fmt.Errorf("%w: no JSON object in response", ErrParse)
	}
	return domain.Verdict{}, fmt.Errorf("%w: %w", ErrParse, lastErr)
}

func decodeVerdict(obj string) (domain.Verdict, error) {
	var raw rawVerdict
	if err := json.Unmarshal([]byte(obj), &raw); err != nil {
		repaired, repairErr := jsonrepair.JSONRepair(obj)
		if repairErr != nil {
			return domain.Verdict{}, fmt.Errorf("decode: %w", err)
		}
		raw = rawVerdict{}
		if err := json.Unmarshal([]byte(repaired), &raw); err != nil {
			return domain.Verdict{}, fmt.Errorf("decode repaired: %w", err)
		}
	}
	if raw.Complete == nil {
		return domain.Verdict{}, errMissingComplete
	}
	severity, _ := domain.ParseSeverity(raw.Severity)
	return domain.Verdict{
		Complete:    *raw.Complete,
		Severity:    severity,
		Feedback:    strings.TrimSpace(raw.Feedback),
		Missing:     nonEmpty(raw.Missing),
		NextActions: nonEmpty(raw.NextActions),
	}, nil
}

// jsonObjects returns the balanced {...} substrings of text in order of their
// opening brace. Braces inside JSON strings are ignored. The first unclosed
// object is appended last so the repair step can try to close it.
func jsonObjects(text string) []string {
	var out []string
	tail := ""
	for start := strings.IndexByte(text, '{'); start >= 0; {
		if end := matchBrace(text, start); end >= 0 {
			out = append(out, text[start:end+1])
		} else if tail == "" {
			tail = text[start:]
		}
		next := strings.IndexByte(text[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	if tail != "" {
		out = append(out, tail)
	}
	return out
}

func matchBrace(text string, start int) int {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func nonEmpty(items []string) []string {
	var out []string
	for _, s := range items {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
