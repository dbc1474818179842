package polling

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	"github.com/polarityio/dataminr-pulse-limited/gateway"
	"github.com/polarityio/dataminr-pulse-limited/model"
)

// runBulkCycle is the HMAC/ZIP ingestion variant: one signed request
// per cycle against the configured download URL, watermarked by
// LastSince, extracting every JSON/JSONL entry in the archive.
func (e *Engine) runBulkCycle(ctx context.Context) {
	e.stateMu.Lock()
	since := e.state.LastSince
	e.stateMu.Unlock()

	entries, err := e.gw.RequestBulk(ctx, e.cfg.DownloadURL, since)
	if err != nil {
		e.log.Error("bulk ingestion cycle failed", map[string]interface{}{"error": err.Error()})
		return
	}

	var maxWatermark int64 = since
	totalAdded := 0

	for _, entry := range entries {
		alerts, parseErr := parseBulkEntry(entry)
		if parseErr != nil {
			e.log.Warn("bulk entry malformed, skipping", map[string]interface{}{"entry": entry.Name, "error": parseErr.Error()})
			continue
		}
		added, _ := e.store.Add(alerts)
		totalAdded += added

		if watermark, ok := gateway.EntryWatermark(entry.Name); ok && watermark > maxWatermark {
			maxWatermark = watermark
		}
	}

	e.stateMu.Lock()
	e.state.LastSince = maxWatermark
	e.persistBulkStateLocked(totalAdded)
	e.stateMu.Unlock()
}

func (e *Engine) persistBulkStateLocked(addedThisCycle int) {
	e.state.LastPollTime = time.Now().UnixMilli()
	e.state.AlertCount = addedThisCycle
	e.state.TotalAlertsProcessed += int64(addedThisCycle)
}

// parseBulkEntry handles both a JSON array of alerts and newline-
// delimited JSONL, since the vendor's bulk entries may use either.
func parseBulkEntry(entry gateway.BulkEntry) ([]model.Alert, error) {
	var asArray []model.Alert
	if err := json.Unmarshal(entry.Data, &asArray); err == nil {
		return asArray, nil
	}

	decoder := json.NewDecoder(bytes.NewReader(entry.Data))
	var alerts []model.Alert
	for {
		var a model.Alert
		if err := decoder.Decode(&a); err != nil {
			break
		}
		alerts = append(alerts, a)
	}
	return alerts, nil
}
