package gateway

import (
	"context"
	"net/url"
	"sync"
)

// ParallelRequest is one request in a ParallelRequests fan-out,
// tagged with a correlation id so the caller can match each result
// back to its originating entity (spec.md §4.1/§4.5).
type ParallelRequest struct {
	ResultID string
	Route    string
	Method   string
	Query    url.Values
}

// ParallelResult pairs a ParallelRequest's correlation id with its
// outcome. Result is nil on failure — individual failures never abort
// the fan-out, they just surface as a nil-result entry.
type ParallelResult struct {
	ResultID string
	Result   *Response
	Err      error
}

// ParallelRequests runs reqs concurrently, each still subject to the
// rate-limit gate and circuit breaker via Request. Order of results
// matches order of reqs.
func (g *Gateway) ParallelRequests(ctx context.Context, reqs []ParallelRequest) []ParallelResult {
	results := make([]ParallelResult, len(reqs))
	var wg sync.WaitGroup
	wg.Add(len(reqs))

	for i, r := range reqs {
		go func(i int, r ParallelRequest) {
			defer wg.Done()
			resp, err := g.Request(ctx, r.Route, r.Method, r.Query, nil)
			results[i] = ParallelResult{ResultID: r.ResultID, Result: resp, Err: err}
		}(i, r)
	}

	wg.Wait()
	return results
}
