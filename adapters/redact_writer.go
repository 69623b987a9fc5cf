package adapters

import (
	"io"
	"sort"
	"strings"
)

const RedactedPlaceholder = "***"

// RedactingWriter is a log sink that masks configured secrets before the
// bytes reach the underlying writer. It expects one log event per Write,
// which is how zerolog writes.
type RedactingWriter struct {
	out      io.Writer
	replacer *strings.Replacer
}

// NewRedactingWriter masks every non-empty secret. Longer secrets are
// replaced first so a broker url wins over its host name.
func NewRedactingWriter(out io.Writer, secrets ...string) *RedactingWriter {
	uniq := make(map[string]struct{}, len(secrets))
	for _, s := range secrets {
		if s = strings.TrimSpace(s); s != "" {
			uniq[s] = struct{}{}
		}
	}

	sorted := make([]string, 0, len(uniq))
	for s := range uniq {
		sorted = append(sorted, s)
	}
	sort.Slice(sorted, func(i, j int) bool {
		if len(sorted[i]) != len(sorted[j]) {
			return len(sorted[i]) > len(sorted[j])
		}
		return sorted[i] < sorted[j]
	})

	pairs := make([]string, 0, len(sorted)*2)
	for _, s := range sorted {
		pairs = append(pairs, s, RedactedPlaceholder)
	}

	return &RedactingWriter{out: out, replacer: strings.NewReplacer(pairs...)}
}

// Write reports len(p) on success so callers do not treat the masked,
// shorter output as a short write.
func (w *RedactingWriter) Write(p []byte) (int, error) {
	if _, err := io.WriteString(w.out, w.replacer.Replace(string(p))); err != nil {
		return 0, err
	}
	return len(p), nil
}
