package xray

import (
	"bufio"
	"io"
	"strconv"
	"strings"
)

// Snapshot maps a stats counter name such as
// "inbound>>>my-tag>>>traffic>>>uplink" to the value read in one query.
type Snapshot map[string]int64

// Get returns the counter value, or 0 when the counter was not reported.
func (s Snapshot) Get(name string) int64 {
	return s[name]
}

// InboundTraffic returns the uplink and downlink counters for an inbound tag.
func (s Snapshot) InboundTraffic(tag string) (up, down int64) {
	return s.Get(CounterName("inbound", tag, "uplink")), s.Get(CounterName("inbound", tag, "downlink"))
}

// CounterName builds a traffic counter name in xray's stats naming scheme.
func CounterName(direction, tag, link string) string {
	return direction + ">>>" + tag + ">>>traffic>>>" + link
}

// parseState tracks which halves of a record have been seen.
type parseState int

const (
	awaitingRecord parseState = iota
	haveName
	haveValue
	haveNameAndValue
)

func (s parseState) String() string {
	switch s {
	case awaitingRecord:
		return "awaiting_record"
	case haveName:
		return "have_name"
	case haveValue:
		return "have_value"
	case haveNameAndValue:
		return "have_name_and_value"
	}
	return "unknown"
}

// statsParser accumulates records from `xray api statsquery` output. It
// accepts both the JSON and the protobuf text encodings, one or many
// fields per line.
type statsParser struct {
	state  parseState
	name   string
	value  int64
	result Snapshot
}

func newStatsParser() *statsParser {
	return &statsParser{result: Snapshot{}}
}

func (p *statsParser) setName(name string) {
	p.name = name
	switch p.state {
	case awaitingRecord, haveName:
		p.state = haveName
	case haveValue, haveNameAndValue:
		p.state = haveNameAndValue
	}
}

func (p *statsParser) setValue(value int64) {
	p.value = value
	switch p.state {
	case awaitingRecord, haveValue:
		p.state = haveValue
	case haveName, haveNameAndValue:
		p.state = haveNameAndValue
	}
}

// commit stores the pending record if it is complete, then resets. A record
// without a value is dropped: xray omits value for idle counters.
func (p *statsParser) commit() {
	if p.state == haveNameAndValue {
		p.result[p.name] = p.value
	}
	p.state = awaitingRecord
	p.name = ""
	p.value = 0
}

func (p *statsParser) line(raw string) {
	line := strings.TrimSpace(raw)
	if isRecordClose(line) {
		p.commit()
		return
	}

	if name, ok := extractName(line); ok {
		p.setName(name)
	}
	if value, ok := extractValue(line); ok {
		p.setValue(value)
	}

	// Compact encodings carry a whole record on one line.
	if p.state == haveNameAndValue || closesRecord(line) {
		p.commit()
	}
}

// closesRecord reports whether a line with fields also ends its record,
// as in `{ name: "x" }`.
func closesRecord(line string) bool {
	line = strings.TrimSuffix(line, ",")
	return strings.HasSuffix(line, "}") || strings.HasSuffix(line, ">")
}

// isRecordClose reports whether the line only closes a record.
func isRecordClose(line string) bool {
	switch line {
	case "}", "},", ">":
		return true
	}
	return false
}

// extractName returns the first quoted string after the name key.
func extractName(line string) (string, bool) {
	rest, ok := afterKey(line, "name")
	if !ok {
		return "", false
	}
	start := strings.IndexByte(rest, '"')
	if start < 0 {
		return "", false
	}
	end := strings.IndexByte(rest[start+1:], '"')
	if end < 0 {
		return "", false
	}
	return rest[start+1 : start+1+end], true
}

// extractValue returns the run of decimal digits after the value key.
func extractValue(line string) (int64, bool) {
	rest, ok := afterKey(line, "value")
	if !ok {
		return 0, false
	}
	rest = strings.TrimLeft(rest, " \t\"")
	end := 0
	for end < len(rest) && rest[end] >= '0' && rest[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0, false
	}
	v, err := strconv.ParseInt(rest[:end], 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// afterKey finds key used as a field name (bare or quoted, followed by a
// colon) outside of string literals and returns the text after the colon.
// Counter names may themselves contain "name" or "value".
func afterKey(line, key string) (string, bool) {
	inString := false
	for i := 0; i < len(line); i++ {
		c := line[i]
		if c == '\\' && inString {
			i++
			continue
		}
		if c == '"' {
			// A quoted key: "name":
			if !inString && strings.HasPrefix(line[i+1:], key+`"`) {
				rest := strings.TrimLeft(line[i+len(key)+2:], " \t")
				if strings.HasPrefix(rest, ":") {
					return rest[1:], true
				}
			}
			inString = !inString
			continue
		}
		if inString || !strings.HasPrefix(line[i:], key) {
			continue
		}
		if i > 0 && isIdentByte(line[i-1]) {
			continue
		}
		rest := strings.TrimLeft(line[i+len(key):], " \t")
		if strings.HasPrefix(rest, ":") {
			return rest[1:], true
		}
	}
	return "", false
}

func isIdentByte(c byte) bool {
	return c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
}

// ParseStats parses the output of `xray api statsquery` into a Snapshot.
func ParseStats(r io.Reader) Snapshot {
	p := newStatsParser()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		p.line(scanner.Text())
	}
	return p.result
}
