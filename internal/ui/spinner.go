package ui

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// Spinner displays an animated indicator while waiting on the network.
// It draws nothing when stdout is not a terminal.
type Spinner struct {
	out       io.Writer
	message   string
	frames    []string
	interval  time.Duration
	running   bool
	stopCh    chan struct{}
	doneCh    chan struct{}
	mu        sync.Mutex
	startTime time.Time
}

var defaultFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// NewSpinner creates a spinner writing to out
func NewSpinner(out io.Writer, message string) *Spinner {
	return &Spinner{
		out:      out,
		message:  message,
		frames:   defaultFrames,
		interval: 80 * time.Millisecond,
	}
}

// Start begins the animation
func (s *Spinner) Start() {
	if !isTTY {
		return
	}

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.startTime = time.Now()
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.mu.Unlock()

	go s.spin()
}

func (s *Spinner) spin() {
	defer close(s.doneCh)

	i := 0
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			s.clear()
			return
		case <-ticker.C:
			s.mu.Lock()
			elapsed := time.Since(s.startTime)
			message := s.message
			frame := s.frames[i%len(s.frames)]
			fmt.Fprintf(s.out, "\r%s %s (%ds)   ", Color(Cyan, frame), message, int(elapsed.Seconds()))
			s.mu.Unlock()
			i++
		}
	}
}

func (s *Spinner) clear() {
	fmt.Fprint(s.out, "\r"+strings.Repeat(" ", Width())+"\r")
}

// Println prints a line above the spinner without tearing it
func (s *Spinner) Println(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		s.clear()
	}
	fmt.Fprintln(s.out, line)
}

// Stop halts the animation and clears its line
func (s *Spinner) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	close(s.stopCh)
	<-s.doneCh
}

// SetMessage updates the spinner message while running
func (s *Spinner) SetMessage(msg string) {
	s.mu.Lock()
	s.message = msg
	s.mu.Unlock()
}
