package logs

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"reel/internal/logging"
)

const maxLineBytes = 1 << 20

// FileOptions controls one read of a JSON log file. A negative Offset reads
// the last Lines events; otherwise reading resumes at Offset. With Wait set,
// an empty read polls until new lines arrive or Wait elapses.
type FileOptions struct {
	Offset int64
	Lines  int
	Wait   time.Duration
}

// FileResult holds decoded events and the offset to resume from.
type FileResult struct {
	Events []logging.LogEvent
	Offset int64
}

// ReadFile decodes events from the JSON log at path. A missing file yields
// no events.
func ReadFile(ctx context.Context, path string, opts FileOptions) (FileResult, error) {
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return FileResult{}, nil
	}
	if err != nil {
		return FileResult{Offset: opts.Offset}, fmt.Errorf("stat log file: %w", err)
	}
	if info.IsDir() {
		return FileResult{Offset: opts.Offset}, fmt.Errorf("log path %q is a directory", path)
	}

	if opts.Offset < 0 {
		return readLast(path, opts.Lines)
	}
	offset := opts.Offset
	if offset > info.Size() {
		// Truncated or rotated: start over.
		offset = 0
	}

	deadline := time.Now().Add(max(opts.Wait, 0))
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for {
		lines, next, err := readFrom(path, offset)
		if err != nil {
			return FileResult{Offset: offset}, err
		}
		if len(lines) > 0 || !time.Now().Before(deadline) {
			return FileResult{Events: decodeLines(lines), Offset: next}, nil
		}
		select {
		case <-ctx.Done():
			return FileResult{Offset: next}, ctx.Err()
		case <-ticker.C:
		}
	}
}

// readLast returns the final n lines and the end offset. n <= 0 only
// positions at the end.
func readLast(path string, n int) (FileResult, error) {
	file, err := os.Open(path)
	if err != nil {
		return FileResult{}, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	var ring []string
	if n > 0 {
		ring = make([]string, 0, n)
		scanner := bufio.NewScanner(file)
		scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
		for scanner.Scan() {
			if len(ring) == n {
				ring = append(ring[:0], ring[1:]...)
			}
			ring = append(ring, scanner.Text())
		}
		if err := scanner.Err(); err != nil {
			return FileResult{}, fmt.Errorf("read log file: %w", err)
		}
	}
	end, err := file.Seek(0, io.SeekEnd)
	if err != nil {
		return FileResult{}, fmt.Errorf("seek log file: %w", err)
	}
	return FileResult{Events: decodeLines(ring), Offset: end}, nil
}

// readFrom returns complete lines after offset. A trailing partial line is
// left for the next read.
func readFrom(path string, offset int64) ([]string, int64, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, offset, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()
	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		return nil, offset, fmt.Errorf("seek log file: %w", err)
	}

	reader := bufio.NewReaderSize(file, 64*1024)
	var lines []string
	for {
		line, err := reader.ReadString('\n')
		if err == io.EOF {
			return lines, offset, nil
		}
		if err != nil {
			return lines, offset, fmt.Errorf("read log file: %w", err)
		}
		offset += int64(len(line))
		if text := strings.TrimRight(line, "\r\n"); text != "" {
			lines = append(lines, text)
		}
	}
}

func decodeLines(lines []string) []logging.LogEvent {
	events := make([]logging.LogEvent, 0, len(lines))
	for _, line := range lines {
		events = append(events, DecodeLine(line))
	}
	return events
}

// DecodeLine converts one JSON log line into a LogEvent. Lines that are not
// JSON objects become a bare message.
func DecodeLine(line string) logging.LogEvent {
	var raw map[string]any
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		return logging.LogEvent{Message: line}
	}
	evt := logging.LogEvent{}
	for key, value := range raw {
		text := fmt.Sprint(value)
		switch key {
		case "ts":
			evt.Timestamp, _ = time.Parse(time.RFC3339Nano, text)
		case "level":
			evt.Level = strings.ToUpper(text)
		case "msg":
			evt.Message = text
		case logging.FieldComponent:
			evt.Component = text
		case logging.FieldItemID:
			evt.ItemID = text
		case logging.FieldSessionID:
			evt.SessionID = text
		case logging.FieldCorrelationID:
			evt.CorrelationID = text
		default:
			if evt.Fields == nil {
				evt.Fields = make(map[string]string)
			}
			evt.Fields[key] = text
		}
	}
	return evt
}
