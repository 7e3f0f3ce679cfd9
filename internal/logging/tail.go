package logging

import (
	"bufio"
	"context"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/fsnotify/fsnotify"
)

var (
	warnColor  = color.New(color.FgYellow)
	errorColor = color.New(color.FgRed)
)

// Colorize returns the line colored by its level marker. Lines
// without a recognized marker pass through unchanged.
func Colorize(line string) string {
	switch {
	case strings.Contains(line, "["+LevelError+"]"):
		return errorColor.Sprint(line)
	case strings.Contains(line, "["+LevelWarn+"]"):
		return warnColor.Sprint(line)
	default:
		return line
	}
}

// LastLines returns up to n trailing lines of the log file. A
// missing file yields no lines and no error.
func LastLines(path string, n int) ([]string, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
		if len(lines) > n {
			lines = lines[1:]
		}
	}
	return lines, scanner.Err()
}

// Follow streams lines appended to the log file to out, colored by
// level, until ctx is canceled. It starts at the current end of
// the file.
func Follow(ctx context.Context, path string, out io.Writer) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()
	if err := watcher.Add(path); err != nil {
		return err
	}

	reader := bufio.NewReader(f)
	var partial strings.Builder
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&fsnotify.Write == 0 {
				continue
			}
			if err := drainLines(reader, &partial, out); err != nil {
				return err
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return err
		}
	}
}

// drainLines copies newly-appended complete lines to out. An
// incomplete trailing line is held in partial until the rest of it
// arrives.
func drainLines(
	reader *bufio.Reader, partial *strings.Builder, out io.Writer,
) error {
	for {
		chunk, err := reader.ReadString('\n')
		partial.WriteString(chunk)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		line := strings.TrimRight(partial.String(), "\n")
		partial.Reset()
		if _, werr := io.WriteString(
			out, Colorize(line)+"\n",
		); werr != nil {
			return werr
		}
	}
}
