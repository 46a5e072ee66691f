package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/JourdanThomas/CubeSat/internal/models"
)

// ResultsExport is the structure of the results file written at hub shutdown
type ResultsExport struct {
	ExportedAt int64           `json:"exported_at"`
	Results    []models.Result `json:"results"`
}

// SaveResults writes results to path as JSON ordered by task id. The file is
// replaced atomically so a crash never leaves half an export behind.
func SaveResults(path string, results map[models.TaskID]models.Result) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create results directory: %w", err)
		}
	}

	data := ResultsExport{
		ExportedAt: time.Now().Unix(),
		Results:    make([]models.Result, 0, len(results)),
	}
	for _, r := range results {
		data.Results = append(data.Results, r)
	}
	sort.Slice(data.Results, func(i, j int) bool {
		return data.Results[i].TaskID < data.Results[j].TaskID
	})

	jsonData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal results: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, jsonData, 0600); err != nil {
		return fmt.Errorf("failed to write results file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to write results file: %w", err)
	}

	return nil
}
