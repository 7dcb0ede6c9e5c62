package shell

import (
	"bufio"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// FailedCommand is one shell command that exited non-zero, recorded by the
// shell hook.
type FailedCommand struct {
	Raw       string    `json:"raw"`
	ExitCode  int       `json:"exit_code"`
	Timestamp time.Time `json:"timestamp"`
}

// FailureLogPath returns the path to the bugrelay failure log file.
func FailureLogPath() (string, error) {
	base := os.Getenv("XDG_DATA_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(base, "bugrelay", "failures.log"), nil
}

// ReadFailureLog reads all entries from the failure log.
// Format per line: <epoch>\t<exit code>\t<command>
func ReadFailureLog() ([]FailedCommand, error) {
	path, err := FailureLogPath()
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil // no log yet — not an error
		}
		return nil, err
	}
	defer f.Close()

	var cmds []FailedCommand
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		fields := strings.SplitN(line, "\t", 3)
		if len(fields) != 3 || fields[2] == "" {
			continue
		}
		epoch, err := strconv.ParseInt(fields[0], 10, 64)
		if err != nil {
			continue
		}
		code, err := strconv.Atoi(fields[1])
		if err != nil {
			continue
		}
		cmds = append(cmds, FailedCommand{
			Raw:       fields[2],
			ExitCode:  code,
			Timestamp: time.Unix(epoch, 0),
		})
	}
	return cmds, scanner.Err()
}

// TruncateFailureLog empties the failure log after its entries were attached
// to a report.
func TruncateFailureLog() error {
	path, err := FailureLogPath()
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	return os.WriteFile(path, nil, 0o644)
}
