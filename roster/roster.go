// Package roster turns uploaded spreadsheets into clean optimizer input
// and renders solved groupings back out as txt, csv and xlsx artifacts.
//
// The upload layout is fixed: column B holds the sex label, C the first
// name, D the last name. Groupings accepted in earlier runs live in
// study_group_1, study_group_2, ... worksheets appended to the same
// workbook, and feed weighted prior pairs into later solves.
package roster

import (
	"bytes"
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"studygroups/optimizer"
)

// 0-based column indices of the roster sheet.
const (
	colSex       = 1
	colFirstName = 2
	colLastName  = 3
)

// SheetPrefix names the worksheets that record accepted groupings.
const SheetPrefix = "study_group_"

var sheetPattern = regexp.MustCompile(`(?i)^study_group_(\d+)$`)

// NormalizeSex maps source sex labels (Danish or English, any case) onto
// the binary category the optimizer expects. ok is false for labels it
// cannot place, which callers treat as "not a person row".
func NormalizeSex(label string) (optimizer.Sex, bool) {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "k", "f", "female", "kvinde":
		return optimizer.SexA, true
	case "m", "male", "mand":
		return optimizer.SexB, true
	}
	return "", false
}

// Load reads the roster from the active worksheet of an .xlsx workbook.
// Rows without a recognizable sex label are skipped, which also drops any
// header row. Person ids are full names; a repeated name gets the row
// number appended so ids stay unique within the run.
func Load(data []byte) ([]optimizer.Person, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheet := f.GetSheetName(f.GetActiveSheetIndex())
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheet, err)
	}

	seen := map[string]bool{}
	var people []optimizer.Person
	for i, row := range rows {
		sex, ok := NormalizeSex(cell(row, colSex))
		if !ok {
			continue
		}
		first := strings.TrimSpace(cell(row, colFirstName))
		last := strings.TrimSpace(cell(row, colLastName))
		name := strings.TrimSpace(first + " " + last)
		if name == "" {
			name = fmt.Sprintf("Student %d", i+1)
		}
		id := name
		if seen[id] {
			id = fmt.Sprintf("%s (row %d)", name, i+1)
		}
		seen[id] = true
		people = append(people, optimizer.Person{ID: id, Sex: sex, FirstName: first, LastName: last})
	}
	return people, nil
}

// PriorPairs scans every study_group_N worksheet and returns one pair per
// couple of names that shared a group, weighted by how many runs paired
// them. Names that no longer appear in the roster are harmless: the
// optimizer ignores pairs it cannot resolve.
func PriorPairs(data []byte) ([]optimizer.Pair, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	counts := map[[2]string]int{}
	for _, sheet := range f.GetSheetList() {
		if !sheetPattern.MatchString(strings.TrimSpace(sheet)) {
			continue
		}
		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("read sheet %q: %w", sheet, err)
		}
		// Layout: A=Group, B=Sex, C=Name, row 1 is the header.
		byGroup := map[int][]string{}
		for i, row := range rows {
			if i == 0 {
				continue
			}
			g, err := strconv.Atoi(strings.TrimSpace(cell(row, 0)))
			if err != nil {
				continue
			}
			name := strings.TrimSpace(cell(row, 2))
			if name == "" {
				continue
			}
			byGroup[g] = append(byGroup[g], name)
		}
		for _, names := range byGroup {
			for i, a := range names {
				for _, b := range names[i+1:] {
					key := [2]string{a, b}
					if key[0] > key[1] {
						key[0], key[1] = key[1], key[0]
					}
					counts[key]++
				}
			}
		}
	}

	pairs := make([]optimizer.Pair, 0, len(counts))
	for key, c := range counts {
		pairs = append(pairs, optimizer.Pair{A: key[0], B: key[1], Weight: c})
	}
	slices.SortFunc(pairs, func(a, b optimizer.Pair) int {
		if c := strings.Compare(a.A, b.A); c != 0 {
			return c
		}
		return strings.Compare(a.B, b.B)
	})
	return pairs, nil
}

func nextSheetName(f *excelize.File) string {
	next := 1
	for _, sheet := range f.GetSheetList() {
		m := sheetPattern.FindStringSubmatch(strings.TrimSpace(sheet))
		if m == nil {
			continue
		}
		if n, err := strconv.Atoi(m[1]); err == nil && n >= next {
			next = n + 1
		}
	}
	return fmt.Sprintf("%s%d", SheetPrefix, next)
}

func cell(row []string, idx int) string {
	if idx < len(row) {
		return row[idx]
	}
	return ""
}
