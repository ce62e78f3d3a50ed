package processors

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"docket/internal/logging"
	"docket/internal/processor"
	"docket/internal/textutil"
)

const wordcountName = "wordcount"

// defaultMaxBytes bounds how much of a document wordcount reads.
const defaultMaxBytes = int64(16 << 20)

// Wordcount derives plain-text statistics: word, unique-word, line, and
// byte counts. Binary documents (per the sniff stage or the declared MIME
// type) yield zero counts with a binary marker instead of garbage numbers.
type Wordcount struct {
	maxBytes int64
	logger   *slog.Logger
}

// NewWordcount constructs the processor. The optional "max_bytes" config
// value bounds the read.
func NewWordcount(config map[string]any) (processor.Processor, error) {
	w := &Wordcount{maxBytes: defaultMaxBytes, logger: logging.NewNop()}
	if raw, ok := config["max_bytes"]; ok {
		limit, err := toInt64(raw)
		if err != nil {
			return nil, fmt.Errorf("wordcount max_bytes: %w", err)
		}
		if limit <= 0 {
			return nil, fmt.Errorf("wordcount max_bytes must be positive, got %d", limit)
		}
		w.maxBytes = limit
	}
	return w, nil
}

func (w *Wordcount) Metadata() processor.Metadata {
	return processor.Metadata{
		Name:        wordcountName,
		Version:     "1.0.0",
		Description: "counts words, unique words, lines, and bytes of plain-text documents",
	}
}

// SetLogger lets the pipeline inject a contextual logger.
func (w *Wordcount) SetLogger(logger *slog.Logger) {
	if logger != nil {
		w.logger = logger
	}
}

func (w *Wordcount) Process(ctx context.Context, pctx *processor.Context) (*processor.Result, error) {
	result := processor.NewResult(wordcountName)

	if mime := documentMIME(pctx); mime != "" && !textual(mime) {
		w.logger.Debug("skipping binary document", logging.String("mime_type", mime))
		result.Data["words"] = 0
		result.Data["unique_words"] = 0
		result.Data["lines"] = 0
		result.Data["bytes"] = int64(0)
		result.Data["binary"] = true
		return result.Finish(), nil
	}

	file, err := os.Open(pctx.FilePath)
	if err != nil {
		return nil, fmt.Errorf("open document: %w", err)
	}
	defer file.Close()

	var (
		words int
		lines int
		bytes int64
	)
	unique := make(map[string]struct{})
	scanner := bufio.NewScanner(io.LimitReader(file, w.maxBytes))
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		line := scanner.Text()
		lines++
		bytes += int64(len(line)) + 1
		words += len(strings.Fields(line))
		for _, token := range textutil.Tokenize(line) {
			unique[token] = struct{}{}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan document: %w", err)
	}

	result.Data["words"] = words
	result.Data["unique_words"] = len(unique)
	result.Data["lines"] = lines
	result.Data["bytes"] = bytes
	result.Data["binary"] = false
	pctx.ReportProgress(100, "counted")
	return result.Finish(), nil
}

// documentMIME prefers the sniff stage's detection over the declared type.
func documentMIME(pctx *processor.Context) string {
	if detected, ok := pctx.UpstreamData(sniffName, "mime_type"); ok {
		if mime, ok := detected.(string); ok && mime != "" {
			return mime
		}
	}
	return strings.TrimSpace(pctx.MIMEType)
}

func textual(mime string) bool {
	mime = strings.ToLower(mime)
	if strings.HasPrefix(mime, "text/") {
		return true
	}
	switch {
	case strings.Contains(mime, "json"),
		strings.Contains(mime, "xml"),
		strings.Contains(mime, "yaml"),
		strings.Contains(mime, "csv"):
		return true
	}
	return false
}

func toInt64(raw any) (int64, error) {
	switch v := raw.(type) {
	case int:
		return int64(v), nil
	case int64:
		return v, nil
	case float64:
		return int64(v), nil
	default:
		return 0, fmt.Errorf("expected a number, got %T", raw)
	}
}
