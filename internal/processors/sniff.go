package processors

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"docket/internal/processor"
)

// sniffName is the registry name of the content-type processor.
const sniffName = "sniff"

// Sniff detects a document's MIME type from its leading bytes and records
// basic file facts. Downstream stages read its data to pick strategies.
type Sniff struct{}

// NewSniff constructs the processor. The config map is accepted for
// interface symmetry; sniff has no options.
func NewSniff(_ map[string]any) (processor.Processor, error) {
	return &Sniff{}, nil
}

func (s *Sniff) Metadata() processor.Metadata {
	return processor.Metadata{
		Name:        sniffName,
		Version:     "1.0.0",
		Description: "detects content type and basic file facts",
	}
}

func (s *Sniff) Process(ctx context.Context, pctx *processor.Context) (*processor.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	result := processor.NewResult(sniffName)

	file, err := os.Open(pctx.FilePath)
	if err != nil {
		return nil, fmt.Errorf("open document: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat document: %w", err)
	}

	head := make([]byte, 512)
	n, err := io.ReadFull(file, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, fmt.Errorf("read document head: %w", err)
	}

	mimeType := http.DetectContentType(head[:n])
	if declared := strings.TrimSpace(pctx.MIMEType); declared != "" {
		result.Data["declared_mime_type"] = declared
	}
	result.Data["mime_type"] = mimeType
	result.Data["size_bytes"] = info.Size()
	result.Data["extension"] = strings.ToLower(filepath.Ext(pctx.FilePath))
	pctx.ReportProgress(100, "content type detected")
	return result.Finish(), nil
}
