package output

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/term"
)

type JobOutput struct {
	ID          int
	Name        string
	Status      string
	Message     string
	Progress    string
	Complete    bool
	StartTime   time.Time
	LastUpdated time.Time
	Error       error
}

type ErrorReport struct {
	Name  string
	Error error
	Time  time.Time
}

// Manager renders the state of every registered job. On a terminal it
// redraws in place on a tick; otherwise it prints one line per finished job.
type Manager struct {
	w           io.Writer
	interactive bool
	outputs     map[int]*JobOutput
	mutex       sync.RWMutex
	numLines    int
	errors      []ErrorReport
	doneCh      chan struct{}
	displayTick time.Duration
	jobCount    int
	displayWg   sync.WaitGroup
	running     bool
}

func NewManager() *Manager {
	return NewManagerWithWriter(os.Stdout, term.IsTerminal(int(os.Stdout.Fd())))
}

func NewManagerWithWriter(w io.Writer, interactive bool) *Manager {
	return &Manager{
		w:           w,
		interactive: interactive,
		outputs:     make(map[int]*JobOutput),
		doneCh:      make(chan struct{}),
		displayTick: 200 * time.Millisecond,
	}
}

func (m *Manager) Register(name string) int {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.jobCount++
	now := time.Now()
	m.outputs[m.jobCount] = &JobOutput{
		ID:          m.jobCount,
		Name:        name,
		Status:      "pending",
		StartTime:   now,
		LastUpdated: now,
	}
	return m.jobCount
}

func (m *Manager) SetMessage(id int, message string) {
	m.update(id, func(info *JobOutput) { info.Message = message })
}

func (m *Manager) GetStatus(id int) string {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	if info, exists := m.outputs[id]; exists {
		return info.Status
	}
	return "unknown"
}

// SetProgress records the latest transfer figures for a job. total is -1
// when the size is not known.
func (m *Manager) SetProgress(id int, downloaded, total int64, bytesPerSec float64) {
	line := ProgressLine(downloaded, total, bytesPerSec)
	m.update(id, func(info *JobOutput) {
		info.Status = "active"
		info.Progress = line
	})
}

func (m *Manager) Complete(id int, message string) {
	var done *JobOutput
	m.update(id, func(info *JobOutput) {
		info.Progress = ""
		info.Message = message
		if message == "" {
			info.Message = fmt.Sprintf("Completed %s", info.Name)
		}
		info.Complete = true
		info.Status = "success"
		done = info
	})
	m.printFinished(done)
}

func (m *Manager) ReportError(id int, err error) {
	var done *JobOutput
	m.update(id, func(info *JobOutput) {
		info.Progress = ""
		info.Complete = true
		info.Status = "error"
		info.Error = err
		if info.Message == "" {
			info.Message = fmt.Sprintf("Failed %s", info.Name)
		}
		m.errors = append(m.errors, ErrorReport{Name: info.Name, Error: err, Time: info.LastUpdated})
		done = info
	})
	m.printFinished(done)
}

// Counts returns how many jobs succeeded and failed so far.
func (m *Manager) Counts() (success, failed int) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	for _, info := range m.outputs {
		switch info.Status {
		case "success":
			success++
		case "error":
			failed++
		}
	}
	return success, failed
}

func (m *Manager) update(id int, fn func(info *JobOutput)) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if info, exists := m.outputs[id]; exists {
		info.LastUpdated = time.Now()
		fn(info)
	}
}

// printFinished writes the final line of a job when there is no live display.
func (m *Manager) printFinished(info *JobOutput) {
	if info == nil || m.interactive {
		return
	}
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	fmt.Fprintln(m.w, m.jobLine(info))
}

func (m *Manager) statusIndicator(status string) string {
	switch status {
	case "success":
		return successStyle.Render(StyleSymbols["pass"])
	case "error":
		return errorStyle.Render(StyleSymbols["fail"])
	case "warning":
		return warningStyle.Render(StyleSymbols["warning"])
	case "pending":
		return pendingStyle.Render(StyleSymbols["pending"])
	default:
		return infoStyle.Render(StyleSymbols["bullet"])
	}
}

func (m *Manager) jobLine(info *JobOutput) string {
	elapsed := time.Since(info.StartTime).Round(time.Second)
	if info.Complete {
		elapsed = info.LastUpdated.Sub(info.StartTime).Round(time.Second)
	}
	message := info.Message
	if message == "" {
		message = info.Name
	}
	width, _ := terminalSize()
	message = truncate(message, max(width-16, 20))
	var styled string
	switch info.Status {
	case "success":
		styled = successStyle.Render(message)
	case "error":
		styled = errorStyle.Render(message)
	case "warning":
		styled = warningStyle.Render(message)
	default:
		styled = pendingStyle.Render(message)
	}
	return fmt.Sprintf("  %s %s %s", m.statusIndicator(info.Status), debugStyle.Render(elapsed.String()), styled)
}

func (m *Manager) sorted() (active, pending, completed []*JobOutput) {
	all := make([]*JobOutput, 0, len(m.outputs))
	for _, info := range m.outputs {
		all = append(all, info)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	for _, info := range all {
		switch {
		case info.Complete:
			completed = append(completed, info)
		case info.Status == "pending" && info.Message == "":
			pending = append(pending, info)
		default:
			active = append(active, info)
		}
	}
	return active, pending, completed
}

func (m *Manager) updateDisplay() {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	_, height := terminalSize()
	available := height - 3
	if m.numLines > 0 {
		fmt.Fprintf(m.w, "\033[%dA\033[J", m.numLines)
	}

	active, pending, completed := m.sorted()
	needed := len(pending) + len(completed)
	for _, info := range active {
		needed++
		if info.Progress != "" {
			needed++
		}
	}
	if needed > available {
		keep := max(0, available-(needed-len(completed)))
		if len(completed) > keep {
			completed = completed[len(completed)-keep:]
		}
	}

	lines := 0
	emit := func(s string) {
		if lines < available {
			fmt.Fprintln(m.w, s)
			lines++
		}
	}
	for _, info := range active {
		emit(m.jobLine(info))
		if info.Progress != "" {
			emit("      " + streamStyle.Render(info.Progress))
		}
	}
	for _, info := range pending {
		emit(fmt.Sprintf("  %s %s", m.statusIndicator(info.Status), pendingStyle.Render("Waiting...")))
	}
	if len(completed) > 10 {
		emit(infoStyle.Render(fmt.Sprintf("  %d downloads completed with varying hidden status ...", len(completed)-8)))
		completed = completed[len(completed)-8:]
	}
	for _, info := range completed {
		emit(m.jobLine(info))
	}
	m.numLines = lines
}

// StartDisplay begins redrawing on a terminal. It does nothing otherwise.
func (m *Manager) StartDisplay() {
	if !m.interactive || m.running {
		return
	}
	m.running = true
	m.displayWg.Add(1)
	go func() {
		defer m.displayWg.Done()
		ticker := time.NewTicker(m.displayTick)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.updateDisplay()
			case <-m.doneCh:
				m.updateDisplay()
				return
			}
		}
	}()
}

// StopDisplay draws the final frame and prints the summary.
func (m *Manager) StopDisplay() {
	if m.running {
		close(m.doneCh)
		m.displayWg.Wait()
		m.running = false
	}
	m.ShowSummary()
}

func (m *Manager) ShowSummary() {
	success, failures := m.Counts()
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	total := len(m.outputs)
	fmt.Fprintln(m.w)
	fmt.Fprintln(m.w, "  "+success2Style.Render(fmt.Sprintf("Completed %d of %d", success, total)))
	if failures > 0 {
		fmt.Fprintln(m.w, "  "+errorStyle.Render(fmt.Sprintf("Failed %d of %d", failures, total)))
	}
	if len(m.errors) > 0 {
		fmt.Fprintln(m.w)
		fmt.Fprintln(m.w, "  "+errorStyle.Bold(true).Render("Errors:"))
		for i, report := range m.errors {
			fmt.Fprintf(m.w, "    %s %s %s\n",
				errorStyle.Render(fmt.Sprintf("%d.", i+1)),
				debugStyle.Render(fmt.Sprintf("[%s]", report.Time.Format("15:04:05"))),
				errorStyle.Render(report.Name))
			fmt.Fprintf(m.w, "      %s\n", errorStyle.Render(strings.TrimSpace(report.Error.Error())))
		}
	}
	fmt.Fprintln(m.w)
}
