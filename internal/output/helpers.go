package output

import (
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/tanq16/splitfetch/internal/utils"
	"golang.org/x/term"
)

const barWidth = 30

// ProgressBar renders current/total as a fixed width bar with a percentage.
func ProgressBar(current, total int64, width int) string {
	if width <= 0 {
		width = barWidth
	}
	if total <= 0 {
		total = 1
	}
	current = max(0, min(current, total))
	percent := float64(current) / float64(total)
	filled := max(0, min(int(percent*float64(width)), width))
	bar := StyleSymbols["bullet"]
	bar += strings.Repeat(StyleSymbols["hline"], filled)
	bar += strings.Repeat(" ", width-filled)
	bar += StyleSymbols["bullet"]
	return fmt.Sprintf("%s %.1f%%", bar, percent*100)
}

// ProgressLine describes a running transfer. Unknown totals get no bar.
func ProgressLine(downloaded, total int64, bytesPerSec float64) string {
	speed := utils.FormatSpeed(bytesPerSec)
	if total < 0 {
		return fmt.Sprintf("%s %s %s", utils.FormatBytes(downloaded), StyleSymbols["bullet"], speed)
	}
	return fmt.Sprintf("%s %s %s / %s %s %s",
		ProgressBar(downloaded, total, barWidth), StyleSymbols["bullet"],
		utils.FormatBytes(downloaded), utils.FormatBytes(total), StyleSymbols["bullet"], speed)
}

func terminalSize() (width, height int) {
	width, height, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || width <= 0 || height <= 0 {
		return 80, 24
	}
	return width, height
}

// truncate shortens text to at most width runes, marking the cut.
func truncate(text string, width int) string {
	if width <= 3 || utf8.RuneCountInString(text) <= width {
		return text
	}
	runes := []rune(text)
	return string(runes[:width-3]) + "..."
}
