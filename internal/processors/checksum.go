package processors

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"docket/internal/processor"
)

const checksumName = "checksum"

// hashChunkSize keeps progress updates flowing on large documents.
const hashChunkSize = 1 << 20

// Checksum computes a SHA-256 digest of the document bytes.
type Checksum struct{}

// NewChecksum constructs the processor.
func NewChecksum(_ map[string]any) (processor.Processor, error) {
	return &Checksum{}, nil
}

func (c *Checksum) Metadata() processor.Metadata {
	return processor.Metadata{
		Name:        checksumName,
		Version:     "1.0.0",
		Description: "computes a sha256 digest of the document",
	}
}

func (c *Checksum) Process(ctx context.Context, pctx *processor.Context) (*processor.Result, error) {
	result := processor.NewResult(checksumName)

	file, err := os.Open(pctx.FilePath)
	if err != nil {
		return nil, fmt.Errorf("open document: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat document: %w", err)
	}
	total := info.Size()

	digest := sha256.New()
	buf := make([]byte, hashChunkSize)
	var hashed int64
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n, err := file.Read(buf)
		if n > 0 {
			digest.Write(buf[:n])
			hashed += int64(n)
			if total > 0 {
				pctx.ReportProgress(float64(hashed)/float64(total)*100, "hashing")
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read document: %w", err)
		}
	}

	result.Data["sha256"] = hex.EncodeToString(digest.Sum(nil))
	result.Data["size_bytes"] = hashed
	pctx.ReportProgress(100, "digest complete")
	return result.Finish(), nil
}
