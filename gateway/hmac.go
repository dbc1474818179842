package gateway

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/polarityio/dataminr-pulse-limited/core"
)

// BulkEntry is one JSON/JSONL file extracted from an HMAC/ZIP bulk
// response. Name is the archive entry name (e.g. "301.json"); numeric
// names carry C3's resumption watermark.
type BulkEntry struct {
	Name string
	Data []byte
}

// RequestBulk signs and issues the HMAC/ZIP bulk-feed request. The
// signature covers pathname:METHOD:epoch_seconds per spec.md §4.1;
// the response body is unzipped into its constituent entries.
func (g *Gateway) RequestBulk(ctx context.Context, downloadURL string, since int64) ([]BulkEntry, error) {
	parsed, err := url.Parse(downloadURL)
	if err != nil {
		return nil, core.NewOpError("gateway.RequestBulk", "config", core.ErrInvalidConfiguration)
	}

	query := parsed.Query()
	if since > 0 {
		query.Set("since", strconv.FormatInt(since, 10))
	}
	parsed.RawQuery = query.Encode()

	epoch := time.Now().Unix()
	toSign := fmt.Sprintf("%s:%s:%d", parsed.Path, http.MethodGet, epoch)
	mac := hmac.New(sha256.New, []byte(g.clientSecret))
	mac.Write([]byte(toSign))
	signature := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		return nil, core.NewOpError("gateway.RequestBulk", "config", err)
	}
	req.Header.Set("Authorization", fmt.Sprintf("HELIX %s:%s", g.clientID, signature))
	req.Header.Set("Timestamp", strconv.FormatInt(epoch, 10))

	var entries []BulkEntry
	err = g.breaker.Execute(ctx, func() error {
		resp, doErr := g.httpClient.Do(req)
		if doErr != nil {
			return core.NewOpError("gateway.RequestBulk", "upstream", core.ErrUpstreamFailure)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return core.NewOpError("gateway.RequestBulk", "upstream", core.ErrUpstreamFailure)
		}

		body, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return readErr
		}

		parsedEntries, zipErr := unzipEntries(body)
		if zipErr != nil {
			return core.NewOpError("gateway.RequestBulk", "upstream", zipErr)
		}
		entries = parsedEntries
		return nil
	})
	return entries, err
}

func unzipEntries(body []byte) ([]BulkEntry, error) {
	reader, err := zip.NewReader(bytes.NewReader(body), int64(len(body)))
	if err != nil {
		return nil, err
	}
	entries := make([]BulkEntry, 0, len(reader.File))
	for _, f := range reader.File {
		if !strings.HasSuffix(f.Name, ".json") && !strings.HasSuffix(f.Name, ".jsonl") {
			continue
		}
		rc, openErr := f.Open()
		if openErr != nil {
			continue
		}
		data, readErr := io.ReadAll(rc)
		rc.Close()
		if readErr != nil {
			continue
		}
		entries = append(entries, BulkEntry{Name: f.Name, Data: data})
	}
	return entries, nil
}

// EntryWatermark extracts the numeric resumption watermark from an
// archive entry name like "301.json" — the next `since` parameter.
func EntryWatermark(name string) (int64, bool) {
	trimmed := strings.TrimSuffix(strings.TrimSuffix(name, ".json"), ".jsonl")
	n, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
