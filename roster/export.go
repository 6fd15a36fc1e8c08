package roster

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"studygroups/optimizer"
)

// Groups orders an assignment into group-indexed member lists. Members are
// sorted by id within each group; empty trailing groups are kept so the
// slice always has numGroups entries.
func Groups(people []optimizer.Person, assignment map[string]int, numGroups int) [][]optimizer.Person {
	groups := make([][]optimizer.Person, numGroups)
	for _, p := range people {
		g := assignment[p.ID]
		groups[g] = append(groups[g], p)
	}
	for _, members := range groups {
		slices.SortFunc(members, func(a, b optimizer.Person) int {
			return strings.Compare(a.ID, b.ID)
		})
	}
	return groups
}

// BuildTXT renders the plain-text report: one section per group with a
// header line and one line per member.
func BuildTXT(groups [][]optimizer.Person) string {
	var buf strings.Builder
	for i, group := range groups {
		fmt.Fprintf(&buf, "=== Group %d ===\n", i+1)
		fmt.Fprintf(&buf, "%-30s | %-5s\n", "Name", "Sex")
		buf.WriteString(strings.Repeat("-", 40))
		buf.WriteByte('\n')
		for _, p := range group {
			fmt.Fprintf(&buf, "%-30s | %-5s\n", p.ID, string(p.Sex))
		}
		fmt.Fprintf(&buf, "Total: %d students\n\n", len(group))
	}
	return strings.TrimSpace(buf.String()) + "\n"
}

// BuildCSV renders the summary csv: a timestamp,members header and one row
// per group, member names joined with semicolons.
func BuildCSV(groups [][]optimizer.Person, timestamp time.Time) string {
	var buf strings.Builder
	w := csv.NewWriter(&buf)
	w.Write([]string{"timestamp", "members"})
	ts := timestamp.Format(time.RFC3339)
	for _, group := range groups {
		names := make([]string, len(group))
		for i, p := range group {
			names[i] = p.ID
		}
		w.Write([]string{ts, strings.Join(names, ";")})
	}
	w.Flush()
	return buf.String()
}

// AppendGroupsSheet adds the next study_group_N worksheet (A=Group, B=Sex,
// C=Name, groups numbered from 1) to the uploaded workbook and returns the
// updated workbook bytes plus the sheet name. The original sheets are left
// untouched, so re-uploading the result feeds this run back in as history.
func AppendGroupsSheet(data []byte, groups [][]optimizer.Person) ([]byte, string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheet := nextSheetName(f)
	if _, err := f.NewSheet(sheet); err != nil {
		return nil, "", fmt.Errorf("create sheet %q: %w", sheet, err)
	}
	if err := f.SetSheetRow(sheet, "A1", &[]any{"Group", "Sex", "Name"}); err != nil {
		return nil, "", err
	}
	rowIdx := 2
	for gi, group := range groups {
		for _, p := range group {
			ref, err := excelize.CoordinatesToCellName(1, rowIdx)
			if err != nil {
				return nil, "", err
			}
			if err := f.SetSheetRow(sheet, ref, &[]any{gi + 1, string(p.Sex), p.ID}); err != nil {
				return nil, "", err
			}
			rowIdx++
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, "", fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), sheet, nil
}
