// Package report prints what update and apply did, for humans.
package report

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"github.com/pmezard/go-difflib/difflib"

	"github.com/thiagokokada/gitpatcher-go/internal/patcher"
	"github.com/thiagokokada/gitpatcher-go/internal/reconcile"
)

type Options struct {
	Color ColorMode
	Theme ThemePreference
	// ShowDiff prints how each modified patch file changed.
	ShowDiff bool
	Logger   *slog.Logger
}

type Printer struct {
	w         io.Writer
	color     bool
	showDiff  bool
	chroma    *chroma.Style
	formatter chroma.Formatter

	title   lipgloss.Style
	muted   lipgloss.Style
	added   lipgloss.Style
	changed lipgloss.Style
	removed lipgloss.Style
}

func New(w io.Writer, opts Options) *Printer {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	color := colorEnabled(opts.Color, w)
	profile := termenv.Ascii
	dark := false
	if color {
		profile = colorProfile()
		var err error
		if dark, err = isDark(opts.Theme); err != nil {
			logger.Debug("detect dark-mode", slog.Any("error", err))
		}
	}

	r := lipgloss.NewRenderer(w)
	r.SetColorProfile(profile)
	r.SetHasDarkBackground(dark)

	return &Printer{
		w:         w,
		color:     color,
		showDiff:  opts.ShowDiff,
		chroma:    chromaStyle(dark),
		formatter: chromaFormatter(profile),
		title:     r.NewStyle().Bold(true),
		muted:     r.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#6e7781", Dark: "#8b949e"}),
		added:     r.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#1a7f37", Dark: "#3fb950"}).Bold(true),
		changed:   r.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#9a6700", Dark: "#d29922"}).Bold(true),
		removed:   r.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#cf222e", Dark: "#f85149"}).Bold(true),
	}
}

func (p *Printer) kindStyle(k reconcile.Kind) lipgloss.Style {
	switch k {
	case reconcile.Added:
		return p.added
	case reconcile.Modified:
		return p.changed
	case reconcile.Removed:
		return p.removed
	default:
		return p.muted
	}
}

// Update prints the plan of an update run, one line per sequence number,
// followed by the totals and, when enabled, the diffs of modified patches.
func (p *Printer) Update(res patcher.UpdateResult) error {
	var b strings.Builder
	b.WriteString(p.title.Render(fmt.Sprintf("%s -> %s", res.Target.SubmodulePath, res.Target.PatchDir)))
	b.WriteByte('\n')
	for _, c := range res.Plan.Changes {
		line := fmt.Sprintf("%s %s", p.kindStyle(c.Kind).Render(c.Kind.Symbol()), c.Name())
		if c.Renamed() {
			line += p.muted.Render(" (was " + c.Old.Name + ")")
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}

	plan := res.Plan
	summary := fmt.Sprintf("%d added, %d modified, %d removed, %d unchanged",
		plan.Count(reconcile.Added),
		plan.Count(reconcile.Modified),
		plan.Count(reconcile.Removed),
		plan.Count(reconcile.Unchanged),
	)
	switch {
	case res.DryRun:
		summary += " (dry run)"
	case !plan.HasWrites():
		summary += ", patches up to date"
	default:
		summary += fmt.Sprintf(", %d files written, %d staged", res.Result.Writes(), len(res.Result.Staged))
	}
	b.WriteString(p.muted.Render(summary))
	b.WriteByte('\n')
	if _, err := io.WriteString(p.w, b.String()); err != nil {
		return err
	}

	if !p.showDiff {
		return nil
	}
	for _, c := range plan.Changes {
		if c.Kind != reconcile.Modified {
			continue
		}
		if err := p.diff(c); err != nil {
			return err
		}
	}
	return nil
}

func (p *Printer) diff(c reconcile.Change) error {
	text, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(string(c.Old.Bytes())),
		B:        difflib.SplitLines(string(c.New.Bytes())),
		FromFile: "a/" + c.Old.Name,
		ToFile:   "b/" + c.New.Name,
		Context:  3,
	})
	if err != nil {
		return fmt.Errorf("diff %s: %w", c.Name(), err)
	}
	if text == "" {
		return nil
	}
	if !p.color {
		_, err := io.WriteString(p.w, text)
		return err
	}
	lexer := lexers.Get("diff")
	if lexer == nil {
		lexer = lexers.Fallback
	}
	it, err := chroma.Coalesce(lexer).Tokenise(nil, text)
	if err != nil {
		return fmt.Errorf("highlight %s: %w", c.Name(), err)
	}
	return p.formatter.Format(p.w, p.chroma, it)
}

// Rebuild prints the patches an apply run replayed.
func (p *Printer) Rebuild(res patcher.RebuildResult) error {
	var b strings.Builder
	onto := "current worktree"
	if res.Base != nil {
		onto = res.Target.UpstreamRef + " (" + res.Base.ShortHash() + ")"
	}
	b.WriteString(p.title.Render(fmt.Sprintf("%s <- %s", res.Target.SubmodulePath, res.Target.PatchDir)))
	b.WriteByte('\n')
	for _, name := range res.Applied {
		b.WriteString(p.added.Render("+") + " " + name + "\n")
	}
	b.WriteString(p.muted.Render(fmt.Sprintf("%d patches applied onto %s, %d files changed", len(res.Applied), onto, res.Files)))
	b.WriteByte('\n')
	_, err := io.WriteString(p.w, b.String())
	return err
}
