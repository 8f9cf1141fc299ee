package main

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/fyrsmithlabs/councild/internal/archive"
	"github.com/fyrsmithlabs/councild/internal/council"
	httpapi "github.com/fyrsmithlabs/councild/internal/http"
)

const gaugeWidth = 30

type styles struct {
	title    lipgloss.Style
	header   lipgloss.Style
	label    lipgloss.Style
	value    lipgloss.Style
	dim      lipgloss.Style
	healthy  lipgloss.Style
	warning  lipgloss.Style
	gaugeOn  lipgloss.Style
	gaugeOff lipgloss.Style
	section  lipgloss.Style
}

func newStyles() styles {
	return styles{
		title:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#9400D3")),
		header:   lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
		label:    lipgloss.NewStyle().Foreground(lipgloss.Color("45")),
		value:    lipgloss.NewStyle().Foreground(lipgloss.Color("231")).Bold(true),
		dim:      lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
		healthy:  lipgloss.NewStyle().Foreground(lipgloss.Color("46")).Bold(true),
		warning:  lipgloss.NewStyle().Foreground(lipgloss.Color("226")).Bold(true),
		gaugeOn:  lipgloss.NewStyle().Foreground(lipgloss.Color("#FFD700")),
		gaugeOff: lipgloss.NewStyle().Foreground(lipgloss.Color("238")),
		section:  lipgloss.NewStyle().MarginTop(1),
	}
}

// gauge draws coherence as a bar of gaugeWidth cells.
func gauge(coherence float64, s styles) string {
	filled := int(math.Round(clamp(coherence, 0, 100) / 100 * gaugeWidth))
	return s.gaugeOn.Render(strings.Repeat("█", filled)) +
		s.gaugeOff.Render(strings.Repeat("░", gaugeWidth-filled))
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func kv(key, value string, s styles) string {
	return s.label.Render(fmt.Sprintf("%-12s", key+":")) + " " + s.value.Render(value)
}

func renderField(f httpapi.FieldResponse, s styles) string {
	presence := s.warning.Render("idle")
	if f.Online {
		presence = s.healthy.Render("online")
	}
	lines := []string{
		s.title.Render("Collective Field"),
		fmt.Sprintf("%s %s", gauge(f.Coherence, s), s.value.Render(fmt.Sprintf("%.2f%%", f.Coherence))),
		kv("trend", string(f.Trend), s),
		kv("presence", f.Presence, s) + " " + presence,
	}
	if !f.UpdatedAt.IsZero() {
		lines = append(lines, s.dim.Render("updated "+f.UpdatedAt.Local().Format(time.RFC1123)))
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func renderStatus(st httpapi.StatusResponse, s styles) string {
	lines := []string{
		s.title.Render("councild"),
		kv("status", st.Status, s),
	}
	if st.Version != "" {
		lines = append(lines, kv("version", st.Version, s))
	}

	names := make([]string, 0, len(st.Services))
	for name := range st.Services {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		state := st.Services[name]
		style := s.healthy
		if state != "ok" {
			style = s.warning
		}
		lines = append(lines, s.label.Render(fmt.Sprintf("%-12s", name+":"))+" "+style.Render(state))
	}

	archived := "disabled"
	if st.Counts.ArchiveEntries >= 0 {
		archived = fmt.Sprintf("%d", st.Counts.ArchiveEntries)
	}
	lines = append(lines,
		kv("agents", fmt.Sprintf("%d", st.Counts.Agents), s),
		kv("ceremonies", fmt.Sprintf("%d defined, %d active", st.Counts.Definitions, st.Counts.ActiveCeremonies), s),
		kv("archive", archived, s),
		s.section.Render(renderField(st.Field, s)),
	)
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func renderCeremonies(resp httpapi.CeremoniesResponse, s styles) string {
	lines := []string{
		s.title.Render("Ceremonies"),
		s.header.Render(fmt.Sprintf("%-22s %-30s %-12s %s", "ID", "NAME", "SCHEDULE", "NEXT")),
	}
	if len(resp.Definitions) == 0 {
		lines = append(lines, s.dim.Render("No ceremonies defined."))
	}
	for _, d := range resp.Definitions {
		schedule := d.Schedule
		if schedule == "" {
			schedule = "manual"
		}
		next := "-"
		if d.Next != nil {
			next = d.Next.Local().Format("Mon Jan 2 15:04")
		}
		lines = append(lines, fmt.Sprintf("%-22s %-30s %-12s %s",
			s.label.Render(d.ID), d.Name, s.dim.Render(schedule), next))
	}

	if len(resp.Active) > 0 {
		lines = append(lines, s.section.Render(s.title.Render("Active")))
		for _, in := range resp.Active {
			lines = append(lines, fmt.Sprintf("%s  %s  phase %d/%d %s  %d present",
				s.label.Render(in.ID), in.Name, in.PhaseIndex+1, in.PhaseCount,
				s.value.Render(in.PhaseName), len(in.Participants)))
		}
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func renderQuick(r council.QuickResult, s styles) string {
	name := lipgloss.NewStyle().Bold(true)
	if r.Color != "" {
		name = name.Foreground(lipgloss.Color(r.Color))
	}
	out := name.Render(r.AgentName) + s.dim.Render(" ("+r.Harmony+")") + "\n" + r.Text
	if r.Fallback {
		out += "\n" + s.dim.Render("(fallback response)")
	}
	return out
}

func renderCouncil(resp httpapi.CouncilResponse, s styles) string {
	lines := []string{s.title.Render("Council on: " + resp.Session.Topic)}
	for _, p := range resp.Session.Perspectives {
		lines = append(lines, s.section.Render(renderQuick(council.QuickResult{
			AgentName: p.AgentName,
			Harmony:   p.Harmony,
			Color:     p.Color,
			Text:      p.Text,
		}, s)))
	}
	lines = append(lines,
		s.section.Render(s.title.Render("Synthesis")),
		resp.Synthesis.Text,
		s.dim.Render(fmt.Sprintf("coherence %.1f, %d voices, %s",
			resp.Synthesis.CoherenceScore, len(resp.Synthesis.AgentIDs), resp.Synthesis.Duration.Round(time.Millisecond))),
	)
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func renderWisdom(resp httpapi.WisdomResponse, s styles) string {
	entries := resp.Entries
	scores := map[string]float32{}
	for _, r := range resp.Results {
		entries = append(entries, r.Entry)
		scores[r.ID] = r.Similarity
	}
	if len(entries) == 0 {
		return s.dim.Render("No wisdom found.")
	}

	lines := []string{s.title.Render("Wisdom")}
	for _, e := range entries {
		lines = append(lines, s.section.Render(renderEntry(e, scores, s)))
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func renderEntry(e archive.Entry, scores map[string]float32, s styles) string {
	head := s.value.Render(e.Title) + s.dim.Render(" ["+e.Kind+"] "+e.At.Local().Format("2006-01-02 15:04"))
	if sim, ok := scores[e.ID]; ok {
		head += s.dim.Render(fmt.Sprintf(" similarity %.2f", sim))
	}
	return head + "\n" + e.Text
}
