package completion

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
)

const interactivePrompt = "AnyGPT, make a move (e.g., e2e4): "

// Interactive asks a human on the terminal to play the part of the model.
type Interactive struct {
	out io.Writer

	mu      sync.Mutex
	reader  *bufio.Reader
	pending chan readResult
}

type readResult struct {
	line string
	err  error
}

func NewInteractive(in io.Reader, out io.Writer) *Interactive {
	return &Interactive{reader: bufio.NewReader(in), out: out}
}

// Complete prints the last message, prompts, and returns the typed line.
// The read is abandoned when ctx ends.
func (i *Interactive) Complete(ctx context.Context, req Request) (*Response, error) {
	if err := checkOperation(req); err != nil {
		return nil, err
	}
	i.mu.Lock()
	defer i.mu.Unlock()

	if msg := lastMessage(req); msg != "" {
		fmt.Fprintln(i.out, msg)
	}
	fmt.Fprint(i.out, interactivePrompt)

	// A read abandoned by a cancelled call is still owed to the next one.
	ch := i.pending
	if ch == nil {
		ch = make(chan readResult, 1)
		go func() {
			line, err := i.reader.ReadString('\n')
			ch <- readResult{line: line, err: err}
		}()
	}

	select {
	case <-ctx.Done():
		i.pending = ch
		return nil, ctx.Err()
	case res := <-ch:
		i.pending = nil
		line := strings.TrimSpace(res.line)
		if res.err != nil && !(errors.Is(res.err, io.EOF) && line != "") {
			if errors.Is(res.err, io.EOF) {
				return nil, fmt.Errorf("read move: %w", io.ErrUnexpectedEOF)
			}
			return nil, fmt.Errorf("read move: %w", res.err)
		}
		return TextResponse(line), nil
	}
}
