package ui

import (
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
)

// SimpleSpinner draws a one-line spinner on Output until stopped. It is
// used before the chat view takes over the terminal.
type SimpleSpinner struct {
	message  string
	spinner  spinner.Spinner
	interval time.Duration
	done     chan struct{}
	stopped  chan struct{}
	stop     sync.Once
}

func newSpinner(message string, s spinner.Spinner) *SimpleSpinner {
	return &SimpleSpinner{
		message:  message,
		spinner:  s,
		interval: s.FPS,
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
}

// NewSimpleSpinner creates a Dot spinner for local work.
func NewSimpleSpinner(message string) *SimpleSpinner {
	return newSpinner(message, spinner.Dot)
}

// NewConnectionSpinner creates a Globe spinner for network operations.
func NewConnectionSpinner(message string) *SimpleSpinner {
	return newSpinner(message, spinner.Globe)
}

// NewWaitingSpinner creates a Points spinner for waiting on the peer.
func NewWaitingSpinner(message string) *SimpleSpinner {
	return newSpinner(message, spinner.Points)
}

func (s *SimpleSpinner) Start() {
	go func() {
		defer close(s.stopped)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		frames := s.spinner.Frames
		for i := 0; ; i++ {
			fmt.Fprintf(Output, "\r%s %s", SpinnerStyle.Render(frames[i%len(frames)]), s.message)
			select {
			case <-s.done:
				fmt.Fprint(Output, "\r\033[K")
				return
			case <-ticker.C:
			}
		}
	}()
}

// Stop clears the spinner line. It is safe to call more than once.
func (s *SimpleSpinner) Stop() {
	s.stop.Do(func() {
		close(s.done)
		<-s.stopped
	})
}

func (s *SimpleSpinner) Success(message string) {
	s.Stop()
	PrintSuccess(message)
}

func (s *SimpleSpinner) Error(message string) {
	s.Stop()
	PrintError(message)
}

// RunSpinner starts a loading spinner and returns a stop function
func RunSpinner(message string) func() {
	sp := NewSimpleSpinner(message)
	sp.Start()
	return sp.Stop
}

// RunConnectionSpinner starts a connection spinner and returns a stop function
func RunConnectionSpinner(message string) func() {
	sp := NewConnectionSpinner(message)
	sp.Start()
	return sp.Stop
}

// RunWaitingSpinner starts a waiting spinner and returns a stop function
func RunWaitingSpinner(message string) func() {
	sp := NewWaitingSpinner(message)
	sp.Start()
	return sp.Stop
}
