package docker

import (
	"strconv"
	"strings"

	"github.com/raworc/tsbx/pkg/runtime"
)

// parseLsOutput parses `ls -la` lines into FileInfo entries, skipping
// the leading "total N" line and the "." / ".." entries.
func parseLsOutput(output string) []runtime.FileInfo {
	var files []runtime.FileInfo
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "total ") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 9 {
			continue
		}
		name := strings.Join(fields[8:], " ")
		if name == "." || name == ".." {
			continue
		}
		size, _ := strconv.ParseInt(fields[4], 10, 64)
		files = append(files, runtime.FileInfo{
			Path:  name,
			IsDir: strings.HasPrefix(fields[0], "d"),
			Size:  size,
		})
	}
	return files
}
