package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"gopkg.in/yaml.v3"

	"github.com/artpar/cookielens/internal/cookies"
)

// Format is an output format for reports.
type Format string

const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
)

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case FormatTable, FormatJSON, FormatYAML:
		return f, nil
	case "":
		return FormatTable, nil
	default:
		return "", fmt.Errorf("unknown format %q (want table, json or yaml)", s)
	}
}

// Styles used by the table renderer.
var (
	headerStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("229")).Padding(0, 1)
	cellStyle     = lipgloss.NewStyle().Padding(0, 1)
	borderStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("62"))
	blockedStyle  = cellStyle.Foreground(lipgloss.Color("196"))
	exemptedStyle = cellStyle.Foreground(lipgloss.Color("214"))
	thirdStyle    = cellStyle.Foreground(lipgloss.Color("141"))
)

// Write renders r to w in the given format.
func Write(w io.Writer, r *Report, format Format) error {
	switch format {
	case FormatJSON:
		return WriteJSON(w, r)
	case FormatYAML:
		return WriteYAML(w, r)
	default:
		return WriteTable(w, r)
	}
}

// WriteJSON writes v as indented JSON.
func WriteJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	return nil
}

// WriteYAML writes v as YAML.
func WriteYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	return enc.Close()
}

// WriteTable writes the tab overview followed by one cookie table per tab.
func WriteTable(w io.Writer, r *Report) error {
	if _, err := fmt.Fprintln(w, TabsTable(r.Tabs)); err != nil {
		return err
	}
	for _, s := range r.Tabs {
		if len(s.Cookies) == 0 {
			continue
		}
		title := titleStyle.Render(fmt.Sprintf("Tab %s  %s", s.TabID, s.URL))
		if _, err := fmt.Fprintf(w, "\n%s\n%s\n", title, CookiesTable(s)); err != nil {
			return err
		}
	}
	if r.Usage != nil {
		_, err := fmt.Fprintf(w, "\nstorage: %d of %d bytes, %d tabs\n", r.Usage.BytesInUse, r.Usage.Quota, r.Usage.Tabs)
		return err
	}
	return nil
}

// TabsTable renders one row per tab.
func TabsTable(summaries []TabSummary) string {
	rows := make([][]string, 0, len(summaries))
	for _, s := range summaries {
		rows = append(rows, []string{
			s.TabID,
			truncate(s.URL, 48),
			strconv.Itoa(s.Total),
			strconv.Itoa(s.FirstParty),
			strconv.Itoa(s.ThirdParty),
			strconv.Itoa(s.Blocked),
			strconv.Itoa(s.Exempted),
			strconv.Itoa(s.Badge),
		})
	}

	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(borderStyle).
		Headers("TAB", "URL", "COOKIES", "1P", "3P", "BLOCKED", "EXEMPTED", "BADGE").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		String()
}

// CookiesTable renders a tab's cookies.
func CookiesTable(s TabSummary) string {
	rows := make([][]string, 0, len(s.Cookies))
	for _, c := range s.Cookies {
		flags := make([]string, 0, 2)
		if c.HTTPOnly {
			flags = append(flags, "httponly")
		}
		if c.Secure {
			flags = append(flags, "secure")
		}
		detail := strings.Join(c.Reasons, ",")
		if detail == "" {
			detail = c.Exemption
		}
		rows = append(rows, []string{
			c.Name,
			c.Domain,
			c.Path,
			c.Source,
			c.Party,
			c.Status,
			c.SameSite,
			c.Expires,
			strings.Join(flags, ","),
			detail,
		})
	}

	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(borderStyle).
		Headers("NAME", "DOMAIN", "PATH", "SOURCE", "PARTY", "STATUS", "SAMESITE", "EXPIRES", "FLAGS", "REASONS").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			if row < 0 || row >= len(s.Cookies) {
				return cellStyle
			}
			c := s.Cookies[row]
			switch {
			case c.Status == string(cookies.StatusBlocked):
				return blockedStyle
			case c.Status == string(cookies.StatusExempted):
				return exemptedStyle
			case c.Party == PartyThird:
				return thirdStyle
			}
			return cellStyle
		}).
		String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}
