package runner

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/user"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrShellClosed is returned for commands issued after Close.
var ErrShellClosed = errors.New("shell closed")

// profileInit loads the Db2 instance environment when the identity has one.
const profileInit = `if [ -f "$HOME/sqllib/db2profile" ]; then . "$HOME/sqllib/db2profile"; fi`

// Options configures a Shell.
type Options struct {
	// Identity is the OS account to run as. Empty means the current user.
	Identity string
	Shell    string
	Su       string
	Sudo     string
	// Timeout bounds each command. Zero means no timeout.
	Timeout time.Duration
	Logger  zerolog.Logger
}

// Shell runs commands inside one long-lived shell process. Keeping the same
// parent process between commands keeps the Db2 CLP back-end process, and
// therefore the database connection, alive across calls.
type Shell struct {
	opts Options

	mu     sync.Mutex
	proc   *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader
	stderr *bufio.Reader
	closed bool
}

// NewShell creates a Shell. The process is started lazily on the first Run.
func NewShell(opts Options) *Shell {
	if opts.Shell == "" {
		opts.Shell = "/bin/sh"
	}
	if opts.Su == "" {
		opts.Su = "su"
	}
	if opts.Sudo == "" {
		opts.Sudo = "sudo"
	}
	return &Shell{opts: opts}
}

// Run executes cmd in the shell.
func (s *Shell) Run(ctx context.Context, cmd Command) Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	logger := s.opts.Logger.With().Str("identity", s.identityName()).Logger()
	logger.Debug().Str("cmd", cmd.String()).Msg("running command")

	if s.closed {
		return Result{ExitCode: -1, Err: ErrShellClosed}
	}

	if s.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.Timeout)
		defer cancel()
	}

	if s.proc == nil {
		if err := s.start(ctx); err != nil {
			logger.Error().Err(err).Msg("failed to start shell")
			return Result{ExitCode: -1, Err: err}
		}
	}

	start := time.Now()
	res := s.exec(ctx, cmd.Line()+" </dev/null")
	logger.Debug().
		Str("cmd", cmd.String()).
		Int("exitCode", res.ExitCode).
		Dur("duration", time.Since(start)).
		Msg("command finished")
	return res
}

// Close ends the shell process.
func (s *Shell) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return s.stop()
}

func (s *Shell) identityName() string {
	if s.opts.Identity == "" {
		return "current"
	}
	return s.opts.Identity
}

func (s *Shell) start(ctx context.Context) error {
	current, err := user.Current()
	if err != nil {
		return fmt.Errorf("failed to resolve current user: %w", err)
	}
	argv := shellArgv(s.opts, current.Username, os.Geteuid())

	// The shell outlives any single command context; cancellation is
	// handled per command by killing the process group.
	proc := exec.Command(argv[0], argv[1:]...)
	setProcessGroup(proc)
	proc.Env = append(os.Environ(), "TERM=dumb")

	stdin, err := proc.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to get stdin pipe: %w", err)
	}
	stdout, err := proc.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to get stdout pipe: %w", err)
	}
	stderr, err := proc.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to get stderr pipe: %w", err)
	}
	if err := proc.Start(); err != nil {
		return fmt.Errorf("failed to start %s: %w", argv[0], err)
	}

	s.proc = proc
	s.stdin = stdin
	s.stdout = bufio.NewReader(stdout)
	s.stderr = bufio.NewReader(stderr)

	// Swallow login banners and check the identity is usable.
	res := s.exec(ctx, profileInit)
	if res.Err != nil {
		_ = s.stop()
		return fmt.Errorf("identity %s unreachable: %w", s.identityName(), res.Err)
	}
	return nil
}

func (s *Shell) stop() error {
	if s.proc == nil {
		return nil
	}
	proc := s.proc
	s.proc = nil

	_, _ = io.WriteString(s.stdin, "exit\n")
	_ = s.stdin.Close()

	done := make(chan error, 1)
	go func() { done <- proc.Wait() }()

	select {
	case err := <-done:
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil
		}
		return err
	case <-time.After(5 * time.Second):
		killProcessGroup(proc)
		<-done
		return nil
	}
}

type streamResult struct {
	text string
	code int
	err  error
}

// exec writes one command followed by end markers on both streams and reads
// until both markers are seen.
func (s *Shell) exec(ctx context.Context, line string) Result {
	marker := "__DB2BACKUP_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	script := fmt.Sprintf("%s\n__rc=$?; printf '\\n%s %%d\\n' \"$__rc\"; printf '\\n%s 0\\n' >&2\n", line, marker, marker)

	if _, err := io.WriteString(s.stdin, script); err != nil {
		_ = s.stop()
		return Result{ExitCode: -1, Err: fmt.Errorf("failed to write to shell: %w", err)}
	}

	outCh := make(chan streamResult, 1)
	errCh := make(chan streamResult, 1)
	go func() { outCh <- readUntilMarker(s.stdout, marker) }()
	go func() { errCh <- readUntilMarker(s.stderr, marker) }()

	var out, errOut streamResult
	for pending := 2; pending > 0; pending-- {
		select {
		case out = <-outCh:
		case errOut = <-errCh:
		case <-ctx.Done():
			s.opts.Logger.Warn().Err(ctx.Err()).Msg("command interrupted, terminating shell")
			proc := s.proc
			s.proc = nil
			killProcessGroup(proc)
			_ = proc.Wait()
			return Result{ExitCode: -1, Err: ctx.Err()}
		}
	}

	if out.err != nil || errOut.err != nil {
		_ = s.stop()
		return Result{Stdout: out.text, Stderr: errOut.text, ExitCode: -1, Err: errors.Join(out.err, errOut.err)}
	}
	return Result{Stdout: out.text, Stderr: errOut.text, ExitCode: out.code}
}

func readUntilMarker(r *bufio.Reader, marker string) streamResult {
	var sb strings.Builder
	for {
		line, err := r.ReadString('\n')
		if strings.HasPrefix(line, marker+" ") {
			code, convErr := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, marker+" ")))
			if convErr != nil {
				return streamResult{text: sb.String(), code: -1, err: fmt.Errorf("bad exit status line %q", line)}
			}
			return streamResult{text: strings.TrimSuffix(sb.String(), "\n"), code: code}
		}
		sb.WriteString(line)
		if err != nil {
			if err == io.EOF {
				err = errors.New("shell exited unexpectedly")
			}
			return streamResult{text: sb.String(), code: -1, err: err}
		}
	}
}

// shellArgv picks how to start a shell for the requested identity.
func shellArgv(opts Options, currentUser string, euid int) []string {
	if opts.Identity == "" || opts.Identity == currentUser {
		return []string{opts.Shell}
	}
	if euid == 0 {
		return []string{opts.Su, "-", opts.Identity}
	}
	return []string{opts.Sudo, "-n", "-i", "-u", opts.Identity}
}
