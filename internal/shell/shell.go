// Package shell runs external commands.
package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"syscall"
	"time"

	sh "github.com/codeskyblue/go-sh"

	"github.com/simplesurance/deployd/internal/stringutils"
)

// maxOutputInError is the max. number of bytes of the command output that
// are included in returned errors.
const maxOutputInError = 2048

// killWaitTimeout is how long execute waits for the output of a killed
// command to be drained. Processes spawned by the command survive the kill
// and keep its output pipes open until they terminate.
var killWaitTimeout = 2 * time.Second

// syncBuffer is a bytes.Buffer that can be written while it is read.
// The output of a killed command can still be written after Run returned.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.buf.Write(p)
}

func (b *syncBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	return bytes.Clone(b.buf.Bytes())
}

// ExitError is returned when a command terminated unsuccessfully.
type ExitError struct {
	Cmd    string
	Err    error
	Output []byte
}

func (e *ExitError) Error() string {
	out := strings.TrimSpace(string(e.Output))
	if out == "" {
		return fmt.Sprintf("%s: %s", e.Cmd, e.Err)
	}

	return fmt.Sprintf(
		"%s: %s, output:\n%s",
		e.Cmd, e.Err,
		stringutils.IndentString(stringutils.Tail(out, maxOutputInError), "  "),
	)
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

func goo(f func() error) chan error {
	ch := make(chan error, 1)
	go func() {
		ch <- f()
	}()
	return ch
}

func execute(ctx context.Context, s *sh.Session) error {
	if err := s.Start(); err != nil {
		return err
	}

	waitCh := goo(s.Wait)

	select {
	case <-ctx.Done():
		s.Kill(syscall.SIGKILL)

		timer := time.NewTimer(killWaitTimeout)
		defer timer.Stop()

		select {
		case <-waitCh:
		case <-timer.C:
		}

		return ctx.Err()
	case err := <-waitCh:
		return err
	}
}

// Run executes argv in dir and returns the combined stdout and stderr output.
// When ctx is cancelled the process is killed and the context error is
// returned.
func Run(ctx context.Context, dir string, env map[string]string, argv []string) ([]byte, error) {
	if len(argv) == 0 {
		return nil, errors.New("command is empty")
	}

	var out syncBuffer

	s := sh.NewSession()
	s.SetDir(dir)
	for k, v := range env {
		s.SetEnv(k, v)
	}
	s.Stdout = &out
	s.Stderr = &out

	args := make([]interface{}, 0, len(argv)-1)
	for _, a := range argv[1:] {
		args = append(args, a)
	}
	s.Command(argv[0], args...)

	if err := execute(ctx, s); err != nil {
		return out.Bytes(), &ExitError{
			Cmd:    strings.Join(argv, " "),
			Err:    err,
			Output: out.Bytes(),
		}
	}

	return out.Bytes(), nil
}
