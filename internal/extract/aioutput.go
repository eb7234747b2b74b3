package extract

import (
	"fmt"
	"iter"
	"strings"

	"github.com/dvloznov/report-extractor/internal/table"
)

const codeFence = "```"

// Collect concatenates streamed fragments in arrival order. When the stream
// fails, the text accumulated so far is returned together with the error.
func Collect(fragments iter.Seq2[string, error]) (string, error) {
	var b strings.Builder
	for frag, err := range fragments {
		if err != nil {
			return b.String(), err
		}
		b.WriteString(frag)
	}
	return b.String(), nil
}

// StripCodeFence removes a Markdown code fence wrapped around model output:
// a leading ``` or ```json marker and a trailing ```.
func StripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, codeFence) {
		return s
	}

	s = strings.TrimLeft(s, "`")
	if len(s) >= 4 && strings.EqualFold(s[:4], "json") {
		s = s[4:]
	}
	s = strings.TrimSpace(s)

	if strings.HasSuffix(s, codeFence) {
		s = strings.TrimSpace(s[:strings.LastIndex(s, codeFence)])
	}
	return s
}

// ParseAIOutput turns raw model output into rows. The fence is stripped first;
// anything that does not then start with '[' is rejected.
func ParseAIOutput(raw string) (table.Table, error) {
	s := StripCodeFence(raw)
	if !strings.HasPrefix(s, "[") {
		return nil, fmt.Errorf("%w: starts with %q", ErrNotJSONArray, preview(s))
	}

	t, err := table.Decode([]byte(s))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	return t, nil
}

func preview(s string) string {
	const max = 40
	r := []rune(s)
	if len(r) > max {
		return string(r[:max]) + "..."
	}
	return s
}
