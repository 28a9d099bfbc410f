package testing

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

// WriteCSV writes a CSV file with the given header and rows into dir and returns its path.
func WriteCSV(t *testing.T, dir, name string, header []string, rows [][]string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("Failed to create fixture %s: %v", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		t.Fatalf("Failed to write header: %v", err)
	}
	if err := w.WriteAll(rows); err != nil {
		t.Fatalf("Failed to write rows: %v", err)
	}
	return path
}

// WriteNumericCSV writes a CSV of n rows with an id column and a value column (id * scale).
func WriteNumericCSV(t *testing.T, dir, name string, n int, scale float64) string {
	t.Helper()

	rows := make([][]string, 0, n)
	for i := 1; i <= n; i++ {
		rows = append(rows, []string{fmt.Sprint(i), fmt.Sprint(float64(i) * scale)})
	}
	return WriteCSV(t, dir, name, []string{"id", "value"}, rows)
}

// PeopleCSV writes the ten-row, six-column fixture used by lifecycle scenarios.
// Names carry padding so whitespace trimming has something to do.
func PeopleCSV(t *testing.T, dir string) string {
	t.Helper()

	header := []string{"id", "name", "city", "age", "score", "joined"}
	rows := [][]string{
		{"1", "  Alice ", "Berlin", "34", "88.5", "2021-01-04"},
		{"2", "Bob", " Paris", "41", "72.0", "2020-06-11"},
		{"3", " Carol", "Rome ", "29", "91.25", "2022-03-09"},
		{"4", "Dan  ", "Oslo", "52", "", "2019-11-30"},
		{"5", "Eve", "Lisbon", "", "65.5", "2023-02-14"},
		{"6", " Frank ", "Madrid", "38", "79.0", "2018-07-21"},
		{"7", "Grace", "  Vienna", "45", "83.75", "2021-09-01"},
		{"8", "Heidi", "Prague", "31", "90.0", "2020-12-12"},
		{"9", "Ivan ", "Warsaw", "27", "58.5", ""},
		{"10", "Judy", "Dublin ", "36", "77.0", "2022-08-19"},
	}
	return WriteCSV(t, dir, "people.csv", header, rows)
}
