package roster

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"studygroups/optimizer"
)

func samplePeople() []optimizer.Person {
	return []optimizer.Person{
		{ID: "Anna Jensen", Sex: optimizer.SexA, FirstName: "Anna", LastName: "Jensen"},
		{ID: "Bo Hansen", Sex: optimizer.SexB, FirstName: "Bo", LastName: "Hansen"},
		{ID: "Clara Nielsen", Sex: optimizer.SexA, FirstName: "Clara", LastName: "Nielsen"},
		{ID: "David Larsen", Sex: optimizer.SexB, FirstName: "David", LastName: "Larsen"},
	}
}

func sampleAssignment() map[string]int {
	return map[string]int{
		"Anna Jensen":   0,
		"David Larsen":  0,
		"Bo Hansen":     1,
		"Clara Nielsen": 1,
	}
}

func TestGroupsSortsMembersByID(t *testing.T) {
	groups := Groups(samplePeople(), sampleAssignment(), 2)

	require.Len(t, groups, 2)
	assert.Equal(t, "Anna Jensen", groups[0][0].ID)
	assert.Equal(t, "David Larsen", groups[0][1].ID)
	assert.Equal(t, "Bo Hansen", groups[1][0].ID)
	assert.Equal(t, "Clara Nielsen", groups[1][1].ID)
}

func TestBuildTXT(t *testing.T) {
	groups := Groups(samplePeople(), sampleAssignment(), 2)
	out := BuildTXT(groups)

	assert.Contains(t, out, "=== Group 1 ===")
	assert.Contains(t, out, "=== Group 2 ===")
	assert.Contains(t, out, "Anna Jensen")
	assert.Contains(t, out, "Total: 2 students")
	assert.True(t, bytes.HasSuffix([]byte(out), []byte("\n")))
}

func TestBuildCSV(t *testing.T) {
	groups := Groups(samplePeople(), sampleAssignment(), 2)
	ts := time.Date(2026, 2, 14, 9, 30, 0, 0, time.UTC)
	out := BuildCSV(groups, ts)

	assert.Equal(t, "timestamp,members\n"+
		"2026-02-14T09:30:00Z,Anna Jensen;David Larsen\n"+
		"2026-02-14T09:30:00Z,Bo Hansen;Clara Nielsen\n", out)
}

func TestAppendGroupsSheetRoundTrip(t *testing.T) {
	upload := buildWorkbook(t, [][]any{
		{1, "k", "Anna", "Jensen"},
		{2, "m", "Bo", "Hansen"},
		{3, "f", "Clara", "Nielsen"},
		{4, "m", "David", "Larsen"},
	})
	groups := Groups(samplePeople(), sampleAssignment(), 2)

	updated, sheet, err := AppendGroupsSheet(upload, groups)
	require.NoError(t, err)
	assert.Equal(t, "study_group_1", sheet)

	f, err := excelize.OpenReader(bytes.NewReader(updated))
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows(sheet)
	require.NoError(t, err)
	require.Len(t, rows, 5)
	assert.Equal(t, []string{"Group", "Sex", "Name"}, rows[0])
	assert.Equal(t, []string{"1", "A", "Anna Jensen"}, rows[1])
	assert.Equal(t, []string{"1", "B", "David Larsen"}, rows[2])
	assert.Equal(t, []string{"2", "B", "Bo Hansen"}, rows[3])
	assert.Equal(t, []string{"2", "A", "Clara Nielsen"}, rows[4])

	// The appended sheet feeds straight back in as history.
	pairs, err := PriorPairs(updated)
	require.NoError(t, err)
	assert.Equal(t, []optimizer.Pair{
		{A: "Anna Jensen", B: "David Larsen", Weight: 1},
		{A: "Bo Hansen", B: "Clara Nielsen", Weight: 1},
	}, pairs)
}

func TestAppendGroupsSheetNumbersPastExisting(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()
	_, err := f.NewSheet("study_group_2")
	require.NoError(t, err)
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)

	_, sheet, err := AppendGroupsSheet(buf.Bytes(), nil)
	require.NoError(t, err)
	assert.Equal(t, "study_group_3", sheet)
}
