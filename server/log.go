package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Log record tags.
const (
	tagTrace   = "trc"
	tagDebug   = "dbg"
	tagInfo    = "inf"
	tagGame    = "gam"
	tagShot    = "sht"
	tagWarning = "wrn"
	tagError   = "err"
)

// Log file names inside the log directory.
const (
	allLogFile  = "server.log"
	gameLogFile = "game.dcl2"
)

const logTargetServer = "server"

func logTargetClient(id int) string {
	return fmt.Sprintf("client%d", id)
}

// logRecord is the envelope every log line carries.
type logRecord struct {
	Ver      [2]int      `json:"ver"`
	Tag      string      `json:"tag"`
	ID       uint64      `json:"id"`
	DateTime string      `json:"date_time"`
	Thread   string      `json:"thread"`
	Log      interface{} `json:"log"`
}

type traceRecord struct {
	From string `json:"from"`
	To   string `json:"to"`
	Msg  string `json:"msg"`
}

// Log is the process-wide sink. Every record gets a versioned envelope with
// a monotonically increasing id and lands, depending on its tag, in the
// run-wide file, the match's game file, a per-shot file, or on the console.
// It is safe to use from any goroutine.
type Log struct {
	mu      sync.Mutex
	verbose bool
	debug   bool

	matchDir     string
	matchDirMade bool
	nextID       uint64

	fileAll  *os.File
	fileGame *os.File
	stdout   io.Writer
	stderr   io.Writer
}

// NewLog opens the run-wide log file under logDir and reserves
// logDir/matchDirName for this match's game and shot files. It refuses to
// run into an existing match directory. verbose mirrors structured records
// to the console; debug mirrors debug records.
func NewLog(logDir, matchDirName string, verbose, debug bool) (*Log, error) {
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create log directory")
	}
	matchDir := filepath.Join(logDir, matchDirName)
	if _, err := os.Stat(matchDir); err == nil {
		return nil, errors.Errorf("log directory %s already exists", matchDir)
	}
	fileAll, err := os.OpenFile(filepath.Join(logDir, allLogFile), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, errors.Wrap(err, "open run-wide log")
	}
	return &Log{
		verbose:  verbose,
		debug:    debug,
		matchDir: matchDir,
		fileAll:  fileAll,
		stdout:   os.Stdout,
		stderr:   os.Stderr,
	}, nil
}

// Close flushes and closes the log files, newest first.
func (l *Log) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fileGame != nil {
		l.fileGame.Close()
		l.fileGame = nil
	}
	if l.fileAll != nil {
		l.fileAll.Close()
		l.fileAll = nil
	}
}

// MatchDir returns the directory holding this match's game and shot files.
func (l *Log) MatchDir() string {
	return l.matchDir
}

// Trace records one wire message between the server and a client.
func (l *Log) Trace(from, to, msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec := l.record(tagTrace, traceRecord{From: from, To: to, Msg: msg})
	l.writeLine(l.fileAll, rec)
}

// Debug records internals useful when chasing a bug. Console output only
// with the debug flag.
func (l *Log) Debug(msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	rec := l.record(tagDebug, msg)
	l.writeLine(l.fileAll, rec)
	if !l.debug {
		return
	}
	if l.verbose {
		l.writeLine(l.stdout, rec)
	} else {
		putConsole(l.stdout, now, "[debug] ", msg)
	}
}

func (l *Log) Debugf(format string, args ...interface{}) {
	l.Debug(fmt.Sprintf(format, args...))
}

// Info records normal progress and always reaches the console.
func (l *Log) Info(msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	rec := l.record(tagInfo, msg)
	l.writeLine(l.fileAll, rec)
	if l.verbose {
		l.writeLine(l.stdout, rec)
	} else {
		putConsole(l.stdout, now, "", msg)
	}
}

func (l *Log) Infof(format string, args ...interface{}) {
	l.Info(fmt.Sprintf(format, args...))
}

// Warning records something survivable on stderr and in the files.
func (l *Log) Warning(msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	rec := l.record(tagWarning, msg)
	l.writeLine(l.fileAll, rec)
	putConsole(l.stderr, now, "[warning] ", msg)
}

func (l *Log) Warningf(format string, args ...interface{}) {
	l.Warning(fmt.Sprintf(format, args...))
}

// Error records a failure on stderr, in the run-wide file and, when the
// match has started writing its game file, there as well.
func (l *Log) Error(msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	rec := l.record(tagError, msg)
	l.writeLine(l.fileAll, rec)
	if l.fileGame != nil {
		l.writeLine(l.fileGame, rec)
	}
	putConsole(l.stderr, now, "[error] ", msg)
}

func (l *Log) Errorf(format string, args ...interface{}) {
	l.Error(fmt.Sprintf(format, args...))
}

// Game appends one record to the match's game file (creating the match
// directory and file on first use) and to the run-wide file.
func (l *Log) Game(payload interface{}) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.ensureGameFile(); err != nil {
		return err
	}
	rec := l.record(tagGame, payload)
	l.writeLine(l.fileGame, rec)
	l.writeLine(l.fileAll, rec)
	if l.verbose {
		l.writeLine(l.stdout, rec)
	}
	return nil
}

// Shot writes one shot record to its own file in the match directory, as a
// pretty-printed copy of the same envelope that goes to the run-wide file.
func (l *Log) Shot(payload interface{}, end, shot uint8) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.ensureMatchDir(); err != nil {
		return err
	}
	rec := l.record(tagShot, payload)
	pretty, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal shot record")
	}
	name := fmt.Sprintf("shot_e%03ds%02d.json", end, shot)
	if err := os.WriteFile(filepath.Join(l.matchDir, name), append(pretty, '\n'), 0o644); err != nil {
		return errors.Wrapf(err, "write %s", name)
	}
	l.writeLine(l.fileAll, rec)
	return nil
}

// record allocates the next id and wraps a payload. Callers hold the lock.
func (l *Log) record(tag string, payload interface{}) logRecord {
	id := l.nextID
	l.nextID++
	return logRecord{
		Ver:      [2]int{LogVersionMajor, LogVersionMinor},
		Tag:      tag,
		ID:       id,
		DateTime: ISO8601Extended(time.Now()),
		Thread:   goroutineID(),
		Log:      payload,
	}
}

// writeLine appends one JSON line. The sink is the last resort, so write
// failures are swallowed rather than reported back through it.
func (l *Log) writeLine(w io.Writer, rec logRecord) {
	if w == nil {
		return
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return
	}
	fmt.Fprintln(w, string(data))
}

func (l *Log) ensureMatchDir() error {
	if l.matchDirMade {
		return nil
	}
	if err := os.MkdirAll(l.matchDir, 0o755); err != nil {
		return errors.Wrap(err, "create match directory")
	}
	l.matchDirMade = true
	return nil
}

func (l *Log) ensureGameFile() error {
	if l.fileGame != nil {
		return nil
	}
	if err := l.ensureMatchDir(); err != nil {
		return err
	}
	f, err := os.OpenFile(filepath.Join(l.matchDir, gameLogFile), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return errors.Wrap(err, "open game log")
	}
	l.fileGame = f
	return nil
}

// putConsole prints the friendly console form, repeating the time and tag
// header on every line of a multi-line message.
func putConsole(w io.Writer, now time.Time, header, msg string) {
	if w == nil {
		return
	}
	prefix := "[" + timeOfDay(now) + "] " + header
	for _, line := range strings.Split(msg, "\n") {
		fmt.Fprintln(w, prefix+line)
	}
}

// goroutineID extracts the numeric goroutine id from the runtime stack
// header. The runtime hides it on purpose, but the log envelope wants a
// textual thread id.
func goroutineID() string {
	buf := make([]byte, 64)
	n := runtime.Stack(buf, false)
	fields := bytes.Fields(buf[:n])
	if len(fields) >= 2 {
		return string(fields[1])
	}
	return "0"
}
