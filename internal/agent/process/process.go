// Package process spawns agent child processes and exposes their stdio as a
// line-delimited byte channel. Commands run through the shell so catalog
// entries like "npx some-agent" work without the user splitting arguments.
package process

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/formulahendry/acp-ui/internal/common/logger"
)

// maxLineSize bounds one JSON-RPC frame on stdout. Agents stream large tool
// outputs, so this is generous.
const maxLineSize = 10 * 1024 * 1024

// gracePeriod is how long Close waits for the child to exit after stdin
// closes before killing it.
const gracePeriod = 3 * time.Second

// Spec describes the command to run.
type Spec struct {
	Command string   // executable or shell snippet, e.g. "npx"
	Args    []string // arguments, quoted before joining
	Cwd     string   // working directory; empty inherits ours
	Env     []string // extra KEY=VALUE entries appended to our environment
}

// Handlers receive the child's output. OnLine gets each stdout line without
// the newline; OnStderr gets each stderr line; OnExit fires once when the
// process ends, with the wait error if any.
type Handlers struct {
	OnLine   func(line []byte)
	OnStderr func(line string)
	OnExit   func(err error)
}

// Process is a running agent child. It implements the rpc.Channel interface
// over the child's stdin.
type Process struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser

	writeMu sync.Mutex
	exited  chan struct{}

	logger *logger.Logger
}

// Start launches the command and begins pumping its output to handlers.
func Start(spec Spec, handlers Handlers, log *logger.Logger) (*Process, error) {
	if strings.TrimSpace(spec.Command) == "" {
		return nil, errors.New("process: empty command")
	}

	shellLine := BuildShellLine(spec.Command, spec.Args)
	cmd := exec.Command("/bin/sh", "-c", shellLine)
	if spec.Cwd != "" {
		cmd.Dir = spec.Cwd
	}
	cmd.Env = append(os.Environ(), spec.Env...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("process: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("process: stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("process: stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("process: start %q: %w", shellLine, err)
	}

	p := &Process{
		cmd:    cmd,
		stdin:  stdin,
		exited: make(chan struct{}),
		logger: log.WithFields(zap.Int("pid", cmd.Process.Pid)),
	}
	p.logger.Info("agent process started", zap.String("command", shellLine))

	go p.pumpStdout(stdout, handlers.OnLine)
	go p.pumpStderr(stderr, handlers.OnStderr)
	go p.wait(handlers.OnExit)

	return p, nil
}

// BuildShellLine joins a command and its arguments into one shell line.
// The command is taken verbatim so catalog entries may be shell snippets;
// arguments are single-quoted.
func BuildShellLine(command string, args []string) string {
	parts := make([]string, 0, len(args)+1)
	parts = append(parts, command)
	for _, arg := range args {
		parts = append(parts, shellQuote(arg))
	}
	return strings.Join(parts, " ")
}

// shellQuote wraps s in single quotes, escaping embedded single quotes with
// the '\'' idiom.
func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	if !strings.ContainsAny(s, " \t\n\"'`$\\&|;<>()*?[]#~%{}!") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func (p *Process) pumpStdout(r io.Reader, onLine func([]byte)) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if onLine != nil {
			cp := make([]byte, len(line))
			copy(cp, line)
			onLine(cp)
		}
	}
	if err := scanner.Err(); err != nil {
		p.logger.Debug("stdout pump ended", zap.Error(err))
	}
}

func (p *Process) pumpStderr(r io.Reader, onStderr func(string)) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		p.logger.Debug("agent stderr", zap.String("line", line))
		if onStderr != nil {
			onStderr(line)
		}
	}
}

func (p *Process) wait(onExit func(error)) {
	err := p.cmd.Wait()
	close(p.exited)
	if err != nil {
		p.logger.Warn("agent process exited", zap.Error(err))
	} else {
		p.logger.Info("agent process exited")
	}
	if onExit != nil {
		onExit(err)
	}
}

// Send writes one frame to the child's stdin, appending the newline.
func (p *Process) Send(line []byte) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if _, err := p.stdin.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("process: write stdin: %w", err)
	}
	return nil
}

// Close shuts the child down: stdin closes first so well-behaved agents
// exit on their own, then the process is killed after the grace period.
func (p *Process) Close() error {
	p.writeMu.Lock()
	_ = p.stdin.Close()
	p.writeMu.Unlock()

	select {
	case <-p.exited:
		return nil
	case <-time.After(gracePeriod):
	}

	p.logger.Warn("agent did not exit after stdin close, killing")
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("process: kill: %w", err)
	}
	<-p.exited
	return nil
}

// Pid returns the child's process id.
func (p *Process) Pid() int {
	return p.cmd.Process.Pid
}

// Running reports whether the child is still alive.
func (p *Process) Running() bool {
	select {
	case <-p.exited:
		return false
	default:
		return true
	}
}
