package db2

import (
	"regexp"
	"strings"
)

var (
	// SQL1234N, SQL2036N: error messages. Warnings end in W.
	sqlCodePattern  = regexp.MustCompile(`\bSQL\d{4,5}[NC]\b`)
	sqlStatePattern = regexp.MustCompile(`SQLSTATE=(\d{2})[0-9A-Z]{3}`)
	failedPattern   = regexp.MustCompile(`(?i)\bfailed\b`)
)

// ScanErrors returns the output lines carrying an embedded error marker.
// The CLP can exit 0 while printing a failure message.
func ScanErrors(output string) []string {
	var hits []string
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if sqlCodePattern.MatchString(line) || failedPattern.MatchString(line) || errorState(line) {
			hits = append(hits, line)
		}
	}
	return hits
}

// errorState reports an SQLSTATE outside the success, warning and no-data
// classes.
func errorState(line string) bool {
	for _, m := range sqlStatePattern.FindAllStringSubmatch(line, -1) {
		switch m[1] {
		case "00", "01", "02":
		default:
			return true
		}
	}
	return false
}
