package report

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters"
	"github.com/alecthomas/chroma/v2/styles"
	"github.com/mattn/go-isatty"
	"github.com/muesli/termenv"
	darkmode "github.com/thiagokokada/dark-mode-go"
)

type ColorMode int

const (
	ColorAuto ColorMode = iota
	ColorAlways
	ColorNever
)

func (m ColorMode) String() string {
	switch m {
	case ColorAlways:
		return "always"
	case ColorNever:
		return "never"
	default:
		return "auto"
	}
}

func ParseColorMode(raw string) (ColorMode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", ColorAuto.String():
		return ColorAuto, nil
	case ColorAlways.String():
		return ColorAlways, nil
	case ColorNever.String():
		return ColorNever, nil
	default:
		return ColorAuto, fmt.Errorf("invalid color mode %q (want auto, always or never)", raw)
	}
}

type ThemePreference int

const (
	ThemeAuto ThemePreference = iota
	ThemeLight
	ThemeDark
)

func (p ThemePreference) String() string {
	switch p {
	case ThemeLight:
		return "light"
	case ThemeDark:
		return "dark"
	default:
		return "auto"
	}
}

func ParseThemePreference(raw string) (ThemePreference, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", ThemeAuto.String():
		return ThemeAuto, nil
	case ThemeDark.String():
		return ThemeDark, nil
	case ThemeLight.String():
		return ThemeLight, nil
	default:
		return ThemeAuto, fmt.Errorf("invalid mode %q (want auto, light or dark)", raw)
	}
}

var (
	detectDarkMode  = darkmode.IsDarkMode
	envColorProfile = termenv.EnvColorProfile
	isTerminal      = func(fd uintptr) bool {
		return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
	}
)

// colorEnabled decides whether output to w gets escape sequences. Auto
// honours NO_COLOR and only colours terminals.
func colorEnabled(mode ColorMode, w io.Writer) bool {
	switch mode {
	case ColorAlways:
		return true
	case ColorNever:
		return false
	}
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	f, ok := w.(interface{ Fd() uintptr })
	return ok && isTerminal(f.Fd())
}

func isDark(pref ThemePreference) (dark bool, err error) {
	switch pref {
	case ThemeDark:
		return true, nil
	case ThemeLight:
		return false, nil
	}
	if detectDarkMode == nil {
		return false, nil
	}
	return detectDarkMode()
}

func chromaStyle(dark bool) *chroma.Style {
	name := "github"
	if dark {
		name = "github-dark"
	}
	if st := styles.Get(name); st != nil {
		return st
	}
	return styles.Fallback
}

// colorProfile is the terminal's colour depth. Output that must be coloured
// still gets 256 colours when the environment does not advertise any.
func colorProfile() termenv.Profile {
	if p := envColorProfile(); p != termenv.Ascii {
		return p
	}
	return termenv.ANSI256
}

// chromaFormatter returns the terminal formatter with the same colour depth
// as profile, so highlighted diffs match the lipgloss styles around them.
func chromaFormatter(profile termenv.Profile) chroma.Formatter {
	switch profile {
	case termenv.TrueColor:
		return formatters.TTY16m
	case termenv.ANSI256:
		return formatters.TTY256
	case termenv.ANSI:
		return formatters.TTY16
	default:
		return formatters.NoOp
	}
}
