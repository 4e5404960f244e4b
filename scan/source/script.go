package source

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/kballard/go-shellquote"

	"github.com/celskeggs/scanmx/sim/component"
	"github.com/celskeggs/scanmx/sim/model"
)

const DefaultShell = "/bin/sh"

// Script is a signal evaluated by running a piece of shell text to completion and parsing what it
// prints. The text is kept in a private temporary file so that it may span several lines. The process is
// waited for off the scheduler's goroutine; subscribers hear when it has finished.
type Script struct {
	*component.EventDispatcher
	ctx model.SimContext
	// Shell is the interpreter command line; the script file is appended as its last argument.
	Shell string

	text      string
	file      *os.File
	syntaxOK  bool
	run       *scriptRun
	lastOut   string
	lastErr   string
	lastState int
}

// scriptRun is one launch; err is written by the waiting goroutine before done is closed.
type scriptRun struct {
	cmd    *exec.Cmd
	stdout bytes.Buffer
	stderr bytes.Buffer
	done   chan struct{}
	err    error
}

var _ Runner = &Script{}

func MakeScript(ctx model.SimContext, shell string) (*Script, error) {
	if shell == "" {
		shell = DefaultShell
	}
	if _, err := shellquote.Split(shell); err != nil {
		return nil, fmt.Errorf("invalid shell %q: %w", shell, err)
	}
	f, err := os.CreateTemp("", "scanmx-script-*.sh")
	if err != nil {
		return nil, err
	}
	return &Script{
		EventDispatcher: component.MakeEventDispatcher(ctx, "scan.source.Script"),
		ctx:             ctx,
		Shell:           shell,
		file:            f,
	}, nil
}

func (s *Script) command(extra ...string) (*exec.Cmd, error) {
	argv, err := shellquote.Split(s.Shell)
	if err != nil {
		return nil, err
	}
	if len(argv) == 0 {
		return nil, errors.New("empty shell command")
	}
	argv = append(argv, extra...)
	argv = append(argv, s.file.Name())
	return exec.Command(argv[0], argv[1:]...), nil
}

// SetPath stores the script text and checks its syntax, returning the checker's exit status.
func (s *Script) SetPath(text string) int {
	s.text = text
	s.syntaxOK = false
	if s.file == nil || s.Running() {
		return -1
	}
	if err := s.file.Truncate(0); err != nil {
		return -1
	}
	if _, err := s.file.WriteAt([]byte(text), 0); err != nil {
		return -1
	}
	if err := s.file.Sync(); err != nil {
		return -1
	}
	check, err := s.command("-n")
	if err != nil {
		return -1
	}
	status := exitStatus(check.Run())
	s.syntaxOK = status == 0
	return status
}

func (s *Script) Path() string {
	return s.text
}

func (s *Script) Name() string {
	return s.text
}

func (s *Script) IsConnected() bool {
	return s.file != nil && s.text != "" && s.syntaxOK
}

func (s *Script) Running() bool {
	return s.run != nil
}

// Finished reports that no launch is still waiting to be collected.
func (s *Script) Finished() bool {
	return s.run == nil
}

func (s *Script) Launch() bool {
	if s.file == nil || s.Running() || s.text == "" {
		return false
	}
	cmd, err := s.command()
	if err != nil {
		return false
	}
	r := &scriptRun{cmd: cmd, done: make(chan struct{})}
	cmd.Stdout = &r.stdout
	cmd.Stderr = &r.stderr
	if err := cmd.Start(); err != nil {
		return false
	}
	s.run = r
	s.ctx.Async("scan.source.Script/Wait", func() {
		r.err = cmd.Wait()
		close(r.done)
	}, func() {
		if s.run == r {
			s.collect()
		}
		s.DispatchLater()
	})
	return true
}

func exitStatus(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

// collect blocks until the current launch has exited and keeps its results.
func (s *Script) collect() {
	r := s.run
	<-r.done
	s.run = nil
	s.lastState = exitStatus(r.err)
	s.lastOut = strings.TrimSuffix(r.stdout.String(), "\n")
	s.lastErr = strings.TrimSuffix(r.stderr.String(), "\n")
}

// BlockUntilFinished returns the exit status of the last launch, blocking if it is still running.
func (s *Script) BlockUntilFinished() int {
	if s.run != nil {
		s.collect()
	}
	return s.lastState
}

// Execute runs the script to completion, or returns -1 if it could not be started.
func (s *Script) Execute() int {
	if !s.Launch() {
		return -1
	}
	return s.BlockUntilFinished()
}

func (s *Script) Stop() {
	if s.run != nil && s.run.cmd.Process != nil {
		_ = s.run.cmd.Process.Kill()
	}
}

func (s *Script) CapturedOutput() string {
	return s.lastOut
}

func (s *Script) CapturedError() string {
	return s.lastErr
}

func (s *Script) Close() (err error) {
	if s.file == nil {
		return nil
	}
	s.Stop()
	_ = s.BlockUntilFinished()
	name := s.file.Name()
	if e := s.file.Close(); e != nil {
		err = multierror.Append(err, e)
	}
	if e := os.Remove(name); e != nil {
		err = multierror.Append(err, e)
	}
	s.file = nil
	return err
}

// ParseValue reads the finite number on the last non-blank line of a script's output.
func ParseValue(output string) (float64, bool) {
	lines := strings.Split(strings.TrimSpace(output), "\n")
	last := strings.TrimSpace(lines[len(lines)-1])
	if last == "" {
		return math.NaN(), false
	}
	fields := strings.Fields(last)
	v, err := strconv.ParseFloat(fields[len(fields)-1], 64)
	if err != nil || math.IsInf(v, 0) || math.IsNaN(v) {
		return math.NaN(), false
	}
	return v, true
}
