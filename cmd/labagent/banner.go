package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

type bannerInfo struct {
	Address    string
	Listen     string
	Network    string
	Credential string
	Enforced   bool
}

var (
	bannerStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("63")).
			Padding(0, 2)
	bannerTitle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	bannerKey   = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	bannerValue = lipgloss.NewStyle().Bold(true)
)

// renderBanner formats the startup summary with the access credential.
func renderBanner(info bannerInfo) string {
	port := info.Listen[strings.LastIndex(info.Listen, ":")+1:]
	rows := [][2]string{
		{"Agent", fmt.Sprintf("http://%s:%s", info.Address, port)},
		{"Network", info.Network},
		{"Password", info.Credential},
	}
	if !info.Enforced {
		rows = append(rows, [2]string{"Auth", "not enforced"})
	}

	lines := []string{bannerTitle.Render("lab-agent " + version), ""}
	for _, r := range rows {
		lines = append(lines, bannerKey.Render(fmt.Sprintf("%-9s", r[0]))+bannerValue.Render(r[1]))
	}
	return bannerStyle.Render(strings.Join(lines, "\n"))
}

func printBanner(w io.Writer, info bannerInfo) {
	fmt.Fprintln(w, renderBanner(info))
}
