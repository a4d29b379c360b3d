package logger

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// SwapRecord is one executed (or attempted) swap, appended to the daily
// history file.
type SwapRecord struct {
	Timestamp    time.Time `json:"timestamp"`
	InputMint    string    `json:"input_mint"`
	OutputMint   string    `json:"output_mint"`
	InAmount     uint64    `json:"in_amount"`
	OutAmount    uint64    `json:"out_amount"`
	SlippageBP   int       `json:"slippage_bp"`
	Signature    string    `json:"signature,omitempty"`
	Status       string    `json:"status"` // "success", "failed", "dry_run"
	ErrorMessage string    `json:"error_message,omitempty"`
	LatencyMs    int64     `json:"latency_ms"`
}

// HistoryWriter appends swap records to daily JSONL files.
type HistoryWriter struct {
	mu      sync.Mutex
	baseDir string
	logger  *Logger
}

// NewHistoryWriter creates the writer, creating baseDir as needed.
func NewHistoryWriter(baseDir string, logger *Logger) (*HistoryWriter, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}
	return &HistoryWriter{baseDir: baseDir, logger: logger}, nil
}

// Append writes one record as a JSON line.
func (hw *HistoryWriter) Append(rec SwapRecord) error {
	hw.logger.WithFields(map[string]interface{}{
		"event":       "swap_recorded",
		"input_mint":  rec.InputMint,
		"output_mint": rec.OutputMint,
		"in_amount":   rec.InAmount,
		"status":      rec.Status,
		"signature":   rec.Signature,
	}).Info("Swap recorded")

	filename := fmt.Sprintf("swaps_%s.jsonl", rec.Timestamp.Format("2006-01-02"))
	path := filepath.Join(hw.baseDir, filename)

	hw.mu.Lock()
	defer hw.mu.Unlock()

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open history file: %w", err)
	}
	defer file.Close()

	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal swap record: %w", err)
	}
	if _, err := file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to write swap record: %w", err)
	}
	return nil
}
