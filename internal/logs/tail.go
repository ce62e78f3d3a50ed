package logs

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"
)

// Options control what Tail reads. A negative Offset asks for the last Limit
// lines; Follow makes Tail poll for up to Wait when no new lines are pending.
type Options struct {
	Offset int64
	Limit  int
	Follow bool
	Wait   time.Duration
}

// Result carries the lines read and the offset where the next read resumes.
type Result struct {
	Lines  []string
	Offset int64
}

const (
	scanBufferSize = 64 * 1024
	maxLineSize    = 1024 * 1024
	followPoll     = 250 * time.Millisecond
)

// Tail reads from the log file at path. A missing file is not an error; it
// reports no lines and offset zero so a follow loop can pick the file up once
// the daemon creates it.
func Tail(ctx context.Context, path string, opts Options) (Result, error) {
	result := Result{Offset: opts.Offset}

	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			result.Offset = 0
			return result, nil
		}
		return result, fmt.Errorf("stat log file: %w", err)
	}
	if info.IsDir() {
		return result, fmt.Errorf("log path %q is a directory", path)
	}
	if opts.Wait < 0 {
		opts.Wait = 0
	}

	offset := opts.Offset
	if offset < 0 {
		lines, end, err := lastLines(path, opts.Limit)
		if err != nil {
			return result, err
		}
		result.Lines = lines
		result.Offset = end
		if opts.Follow && opts.Wait > 0 && len(lines) == 0 {
			return await(ctx, path, end, opts.Wait)
		}
		return result, nil
	}

	if offset > info.Size() {
		offset = info.Size()
	}
	lines, end, err := forward(path, offset)
	if err != nil {
		return result, err
	}
	result.Lines = lines
	result.Offset = end
	if opts.Follow && opts.Wait > 0 && len(lines) == 0 {
		return await(ctx, path, end, opts.Wait)
	}
	return result, nil
}

// lastLines returns up to limit trailing lines and the end-of-file offset.
func lastLines(path string, limit int) ([]string, int64, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, 0, nil
		}
		return nil, 0, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, 0, fmt.Errorf("stat log file: %w", err)
	}
	if limit <= 0 {
		return nil, info.Size(), nil
	}

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, scanBufferSize), maxLineSize)

	ring := make([]string, limit)
	count, next := 0, 0
	for scanner.Scan() {
		ring[next] = scanner.Text()
		next = (next + 1) % limit
		if count < limit {
			count++
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, 0, fmt.Errorf("read log file: %w", err)
	}

	end, err := file.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, 0, fmt.Errorf("determine log offset: %w", err)
	}

	lines := make([]string, count)
	if count == limit {
		for i := range lines {
			lines[i] = ring[(next+i)%limit]
		}
	} else {
		copy(lines, ring[:count])
	}
	return lines, end, nil
}

// forward reads every complete line from offset to the end of the file.
func forward(path string, offset int64) ([]string, int64, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, 0, nil
		}
		return nil, 0, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		return nil, 0, fmt.Errorf("seek log file: %w", err)
	}

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, scanBufferSize), maxLineSize)
	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, 0, fmt.Errorf("read log file: %w", err)
	}

	end, err := file.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, 0, fmt.Errorf("determine log offset: %w", err)
	}
	return lines, end, nil
}

// await polls for new lines until some arrive, wait elapses, or ctx ends.
func await(ctx context.Context, path string, offset int64, wait time.Duration) (Result, error) {
	deadline := time.Now().Add(wait)
	ticker := time.NewTicker(followPoll)
	defer ticker.Stop()

	result := Result{Offset: offset}
	for {
		lines, end, err := forward(path, offset)
		if err != nil {
			return result, err
		}
		if len(lines) > 0 {
			result.Lines = lines
			result.Offset = end
			return result, nil
		}
		result.Offset = end
		if time.Now().After(deadline) {
			return result, nil
		}
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		case <-ticker.C:
		}
	}
}
