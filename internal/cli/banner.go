package cli

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/dgrissen2/plannotator-ext/internal/model"
)

var (
	bannerTitle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#A78BFA"))
	bannerURL   = lipgloss.NewStyle().Underline(true).Foreground(lipgloss.Color("#22D3EE"))
	bannerHint  = lipgloss.NewStyle().Faint(true)
)

func renderBanner(mode model.Mode, url string, remote bool) string {
	hint := "Waiting for your review in the browser."
	if remote {
		hint = "Remote session: forward the port and open the URL locally."
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		bannerTitle.Render("plannotator · "+mode.String()),
		bannerURL.Render(url),
		bannerHint.Render(hint),
	)
}
