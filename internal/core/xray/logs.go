package xray

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"strings"
)

const (
	accessLogTail = 50
	logsTail      = 200
	journalUnit   = "raydock"
)

// Logs returns recent xray log lines: the error log, the tail of the access
// log, capped to the last 200 lines. When neither file has content it falls
// back to the service journal.
func (x *Xray) Logs(ctx context.Context) ([]string, error) {
	var logs []string

	errorLines, err := readLines(filepath.Join(x.opts.LogDir, ErrorLogName))
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	for _, l := range errorLines {
		logs = append(logs, "[ErrorLog] "+l)
	}

	accessLines, err := readLines(filepath.Join(x.opts.LogDir, AccessLogName))
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	for _, l := range tail(accessLines, accessLogTail) {
		logs = append(logs, "[AccessLog] "+l)
	}

	if len(logs) > 0 {
		return tail(logs, logsTail), nil
	}

	output, err := x.runner.Output(ctx, "journalctl", "-u", journalUnit, "-n", "100", "--no-pager")
	if err != nil {
		x.logger.WithError(err).Debug("journalctl unavailable")
		return nil, nil
	}
	var journal []string
	for _, l := range strings.Split(strings.TrimRight(string(output), "\n"), "\n") {
		if l == "" || strings.Contains(l, "-- No entries --") {
			continue
		}
		journal = append(journal, l)
	}
	return journal, nil
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines, scanner.Err()
}

func tail(lines []string, n int) []string {
	if len(lines) > n {
		return lines[len(lines)-n:]
	}
	return lines
}
