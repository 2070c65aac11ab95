package mcp

import (
	"fmt"
	"strings"

	"github.com/RyugoHori/AssistChat-Portfolio/internal/corpus"
	"github.com/RyugoHori/AssistChat-Portfolio/internal/search"
)

// FormatSearchResults formats ranked maintenance records as markdown.
func FormatSearchResults(query string, results []search.Result) string {
	if len(results) == 0 {
		return fmt.Sprintf("No results found for \"%s\"", query)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "## Search Results for \"%s\"\n\n", query)
	fmt.Fprintf(&sb, "Found %d result", len(results))
	if len(results) != 1 {
		sb.WriteString("s")
	}
	sb.WriteString("\n\n")

	for i, r := range results {
		formatResult(&sb, i+1, r)
	}

	return sb.String()
}

// formatResult formats a single result.
func formatResult(sb *strings.Builder, num int, r search.Result) {
	m := r.Record.Metadata

	title := m.Title
	if title == "" {
		title = r.Record.DocID
	}
	fmt.Fprintf(sb, "### %d. %s (score: %.2f)\n", num, title, search.DisplayScore(r))

	writeField(sb, "Doc", fmt.Sprintf("`%s`", r.Record.DocID))
	writeField(sb, "Date", m.Date)
	writeField(sb, "Category", m.Category)
	writeField(sb, "Line", m.Line)
	writeField(sb, "Equipment", equipmentPath(m))
	if r.RerankScore != nil {
		writeField(sb, "Reranked", "yes")
	}
	sb.WriteString("\n")

	sb.WriteString(quote(r.Record.Text))
	if m.ActionTaken != "" {
		fmt.Fprintf(sb, "\n**Action:** %s\n", m.ActionTaken)
	}
	sb.WriteString("\n")
}

// FormatDocument formats all chunks of one record, given in chunk order.
func FormatDocument(chunks []corpus.Record) string {
	if len(chunks) == 0 {
		return ""
	}
	first := chunks[0]
	m := first.Metadata

	var sb strings.Builder
	title := m.Title
	if title == "" {
		title = first.DocID
	}
	fmt.Fprintf(&sb, "## %s\n\n", title)

	writeField(&sb, "Doc", fmt.Sprintf("`%s`", first.DocID))
	writeField(&sb, "Date", m.Date)
	writeField(&sb, "Category", m.Category)
	writeField(&sb, "Work type", m.WorkType)
	writeField(&sb, "Location", m.Location)
	writeField(&sb, "Line", m.Line)
	writeField(&sb, "Equipment", equipmentPath(m))
	writeField(&sb, "Machine", m.Machine)
	writeField(&sb, "Symptom", m.Symptom)
	writeField(&sb, "Action", m.ActionTaken)
	writeField(&sb, "Parts", m.PartsReplaced)
	writeField(&sb, "Operator", m.Operator)
	sb.WriteString("\n")

	sb.WriteString(joinChunks(chunks))
	sb.WriteString("\n")
	return sb.String()
}

// FormatFilters formats the facet values and the equipment hierarchy.
func FormatFilters(f search.Facets) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "## Filters (%d documents, %d-%d)\n\n",
		f.TotalDocuments, f.YearRange.StartYear, f.YearRange.EndYear)

	writeList(&sb, "categories", f.Categories)
	writeList(&sb, "workTypes", f.WorkTypes)
	writeList(&sb, "productionLines", f.ProductionLines)
	writeList(&sb, "locations", f.Locations)
	writeList(&sb, "equipment1s", f.Equipment1s)
	writeList(&sb, "equipment2s", f.Equipment2s)
	writeList(&sb, "equipment3s", f.Equipment3s)

	if len(f.Hierarchy) > 0 {
		sb.WriteString("\n### Hierarchy\n\n")
		writeTree(&sb, f.Hierarchy, 0)
	}
	return sb.String()
}

// ToSearchResultOutput converts a result to the structured tool output.
func ToSearchResultOutput(r search.Result) SearchResultOutput {
	m := r.Record.Metadata
	return SearchResultOutput{
		DocID:       r.Record.DocID,
		ChunkID:     r.Record.ChunkID,
		Title:       m.Title,
		Score:       search.DisplayScore(r),
		Reranked:    r.RerankScore != nil,
		Date:        m.Date,
		Category:    m.Category,
		Line:        m.Line,
		Equipment:   equipmentPath(m),
		Text:        r.Record.Text,
		ActionTaken: m.ActionTaken,
	}
}

// ToDocumentOutput converts the chunks of one record to the structured tool output.
func ToDocumentOutput(chunks []corpus.Record) DocumentOutput {
	if len(chunks) == 0 {
		return DocumentOutput{}
	}
	m := chunks[0].Metadata
	return DocumentOutput{
		DocID:         chunks[0].DocID,
		Title:         m.Title,
		Date:          m.Date,
		Category:      m.Category,
		WorkType:      m.WorkType,
		Line:          m.Line,
		Location:      m.Location,
		Equipment:     equipmentPath(m),
		Symptom:       m.Symptom,
		ActionTaken:   m.ActionTaken,
		PartsReplaced: m.PartsReplaced,
		Content:       joinChunks(chunks),
		Chunks:        len(chunks),
	}
}

// ToFiltersOutput drops the hierarchy, which only the markdown carries.
func ToFiltersOutput(f search.Facets) FiltersOutput {
	return FiltersOutput{
		Categories:      f.Categories,
		WorkTypes:       f.WorkTypes,
		ProductionLines: f.ProductionLines,
		Locations:       f.Locations,
		Equipment1s:     f.Equipment1s,
		Equipment2s:     f.Equipment2s,
		Equipment3s:     f.Equipment3s,
		YearRange:       f.YearRange,
		TotalDocuments:  f.TotalDocuments,
	}
}

func equipmentPath(m corpus.Metadata) string {
	parts := make([]string, 0, 3)
	for _, p := range []string{m.Equipment1, m.Equipment2, m.Equipment3} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " > ")
}

func joinChunks(chunks []corpus.Record) string {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	return strings.Join(texts, "\n")
}

func writeField(sb *strings.Builder, label, value string) {
	if value == "" {
		return
	}
	fmt.Fprintf(sb, "- **%s:** %s\n", label, value)
}

func writeList(sb *strings.Builder, key string, values []string) {
	if len(values) == 0 {
		return
	}
	fmt.Fprintf(sb, "- **%s:** %s\n", key, strings.Join(values, ", "))
}

func writeTree(sb *strings.Builder, nodes []search.HierarchyNode, depth int) {
	indent := strings.Repeat("  ", depth)
	for _, n := range nodes {
		fmt.Fprintf(sb, "%s- %s\n", indent, n.Label)
		writeTree(sb, n.Children, depth+1)
	}
}

// quote renders text as a markdown blockquote.
func quote(text string) string {
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	for i, l := range lines {
		lines[i] = "> " + l
	}
	return strings.Join(lines, "\n") + "\n"
}
