package completion

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/briandowns/spinner"
	"github.com/mattn/go-isatty"
)

const spinnerCharSet = 14

type spinningCompleter struct {
	next Completer
	w    io.Writer
}

// WithSpinner shows a spinner on w while next is working.
func WithSpinner(next Completer, w io.Writer) Completer {
	return &spinningCompleter{next: next, w: w}
}

func (s *spinningCompleter) Complete(ctx context.Context, req Request) (*Response, error) {
	sp := spinner.New(spinner.CharSets[spinnerCharSet], 100*time.Millisecond, spinner.WithWriter(s.w))
	sp.Suffix = " waiting for AnyGPT"
	sp.Start()
	defer sp.Stop()
	return s.next.Complete(ctx, req)
}

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
