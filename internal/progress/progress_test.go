package progress

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"

	"bsfsim/internal/collector"
	"bsfsim/internal/core"
)

// syncWriter is an io.Writer safe for the ticker goroutine and the test.
type syncWriter struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (w *syncWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.Write(p)
}

func (w *syncWriter) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.String()
}

func TestNewProgress(t *testing.T) {
	c := collector.NewCollector()
	defer c.Close()

	progress := NewProgress(c, false)

	if progress.collector != c {
		t.Error("collector not assigned")
	}
	if progress.quiet {
		t.Error("quiet should be false")
	}
}

func TestNewProgress_Quiet(t *testing.T) {
	c := collector.NewCollector()
	defer c.Close()

	progress := NewProgress(c, true)

	if !progress.quiet {
		t.Error("quiet should be true")
	}
}

func TestProgress_QuietMode(t *testing.T) {
	c := collector.NewCollector()
	defer c.Close()

	progress := NewProgress(c, true) // quiet mode

	// Start and stop should not panic in quiet mode
	progress.Start()
	time.Sleep(10 * time.Millisecond)
	progress.Stop()
}

func TestProgress_DoubleStop(t *testing.T) {
	c := collector.NewCollector()
	defer c.Close()

	progress := NewProgress(c, true)
	progress.Start()

	// Double stop should not panic
	progress.Stop()
	progress.Stop()
}

func TestProgress_StopWithoutStart(t *testing.T) {
	c := collector.NewCollector()
	defer c.Close()

	progress := NewProgress(c, false)

	// Stop without start should not panic
	progress.Stop()
}

func TestProgress_Print(t *testing.T) {
	c := collector.NewCollector()
	defer c.Close()

	var buf bytes.Buffer
	progress := NewProgress(c, false)
	progress.SetOutput(&buf)

	progress.Print("Workers: 3 (rounds: 10)")

	output := buf.String()

	// Should contain the escape sequence to clear line before message
	if !strings.Contains(output, "\033[K") {
		t.Error("expected output to contain line clear escape sequence")
	}

	// Should contain the message
	if !strings.Contains(output, "Workers: 3 (rounds: 10)") {
		t.Errorf("expected output to contain message, got: %q", output)
	}

	// Message should end with newline
	if !strings.Contains(output, "Workers: 3 (rounds: 10)\n") {
		t.Error("expected message to end with newline")
	}
}

func TestProgress_Print_QuietModeDoesNotPrint(t *testing.T) {
	c := collector.NewCollector()
	defer c.Close()

	var buf bytes.Buffer
	progress := NewProgress(c, true) // quiet mode
	progress.SetOutput(&buf)

	progress.Print("Workers: 3")

	output := buf.String()

	// In quiet mode, Print should not output
	if output != "" {
		t.Errorf("expected no output in quiet mode, got: %q", output)
	}
}

func TestProgress_Printf(t *testing.T) {
	c := collector.NewCollector()
	defer c.Close()

	var buf bytes.Buffer
	progress := NewProgress(c, false)
	progress.SetOutput(&buf)

	progress.Printf("Round %d of %d (%s)", 1, 10, "warmup")

	output := buf.String()

	if !strings.Contains(output, "Round 1 of 10 (warmup)\n") {
		t.Errorf("expected formatted message, got: %q", output)
	}
}

func TestProgress_SetOutput(t *testing.T) {
	c := collector.NewCollector()
	defer c.Close()

	var buf1, buf2 bytes.Buffer
	progress := NewProgress(c, false)

	progress.SetOutput(&buf1)
	progress.Print("message1")

	progress.SetOutput(&buf2)
	progress.Print("message2")

	if !strings.Contains(buf1.String(), "message1") {
		t.Error("expected message1 in buf1")
	}
	if !strings.Contains(buf2.String(), "message2") {
		t.Error("expected message2 in buf2")
	}
	if strings.Contains(buf1.String(), "message2") {
		t.Error("buf1 should not contain message2")
	}
}

func TestProgress_PrintsRounds(t *testing.T) {
	c := collector.NewCollector()
	defer c.Close()
	c.Report(core.Sample{Round: 0, Phase: core.PhaseDispatch, Duration: 12 * time.Millisecond})
	c.Report(core.Sample{Round: 1, Phase: core.PhaseDispatch, Duration: 15 * time.Millisecond})
	c.Report(core.Sample{Round: 1, Phase: core.PhaseCollect, Duration: 3 * time.Millisecond})

	w := &syncWriter{}
	progress := NewProgress(c, false)
	progress.SetOutput(w)
	progress.SetInterval(5 * time.Millisecond)
	progress.Start()

	deadline := time.Now().Add(time.Second)
	for !strings.Contains(w.String(), "collect: 3ms") && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	progress.Stop()

	output := w.String()
	if !strings.Contains(output, "Rounds: 2") {
		t.Fatalf("expected round count in output, got: %q", output)
	}
	if !strings.Contains(output, "dispatch: 15ms") {
		t.Errorf("expected last dispatch time, got: %q", output)
	}
	if !strings.Contains(output, "collect: 3ms") {
		t.Errorf("expected last collect time, got: %q", output)
	}
}
