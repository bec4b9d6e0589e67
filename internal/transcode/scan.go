package transcode

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"io/fs"
	"strings"
	"syscall"
)

// newProgressScanner splits encoder stderr on CR as well as LF, since
// progress lines are rewritten in place with a bare carriage return.
func newProgressScanner(r io.Reader) *bufio.Scanner {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), 64*1024)
	sc.Split(scanCRLF)
	return sc
}

func scanCRLF(data []byte, atEOF bool) (int, []byte, error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

func isProgressLine(line string) bool {
	return strings.HasPrefix(line, "frame=") || strings.Contains(line, "muxing overhead")
}

func isPipeClosed(err error) bool {
	return errors.Is(err, fs.ErrClosed) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, syscall.EPIPE)
}
