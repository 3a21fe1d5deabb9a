package analysis

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/ferrow/reqscope/internal/client"
	"github.com/ferrow/reqscope/internal/util"
	"github.com/ferrow/reqscope/pkg/models"
)

// researchTask is one (service, query) branch of the fan-out
type researchTask struct {
	service string
	query   string
}

// branchResult carries one branch's findings or its failure
type branchResult struct {
	task     researchTask
	findings []models.Finding
	err      error
}

// Research fans out to the configured services concurrently with bounded
// concurrency and a stage-wide timeout, then fans back in. A failing
// branch degrades to an empty contribution plus an accumulator entry; it
// never fails the stage.
func Research(
	ctx context.Context,
	apiClient *client.Client,
	services []string,
	queries []string,
	sessionKey string,
	concurrency int,
	timeout time.Duration,
	maxPerSource int,
	logger *slog.Logger,
) ([]models.Finding, []string) {
	if len(services) == 0 || len(queries) == 0 {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var tasks []researchTask
	for _, svc := range services {
		for _, q := range queries {
			tasks = append(tasks, researchTask{service: svc, query: q})
		}
	}

	tasksChan := make(chan researchTask, len(tasks))
	resultsChan := make(chan branchResult, len(tasks))

	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func() {
			defer wg.Done()
			for task := range tasksChan {
				findings, err := queryService(ctx, apiClient, task, sessionKey, maxPerSource)
				resultsChan <- branchResult{task: task, findings: findings, err: err}
			}
		}()
	}

	for _, task := range tasks {
		tasksChan <- task
	}
	close(tasksChan)

	go func() {
		wg.Wait()
		close(resultsChan)
	}()

	var (
		findings []models.Finding
		errs     []string
	)
	for result := range resultsChan {
		if result.err != nil {
			logger.Warn("Research branch failed, degrading to empty result",
				"service", result.task.service,
				"query", result.task.query,
				"error", result.err)
			errs = append(errs, result.task.service+": "+result.err.Error())
			continue
		}
		findings = append(findings, result.findings...)
	}

	// Fan-in order is nondeterministic; sort for stable output.
	sort.Slice(findings, func(i, j int) bool {
		if findings[i].Service != findings[j].Service {
			return findings[i].Service < findings[j].Service
		}
		if findings[i].Query != findings[j].Query {
			return findings[i].Query < findings[j].Query
		}
		return findings[i].Title < findings[j].Title
	})
	sort.Strings(errs)

	return findings, errs
}

// queryService issues one protected search call and decodes its findings
func queryService(ctx context.Context, apiClient *client.Client, task researchTask, sessionKey string, maxPerSource int) ([]models.Finding, error) {
	resp, err := apiClient.Call(ctx, task.service, sessionKey, client.Request{
		Path:   "search",
		Params: map[string]string{"q": task.query},
	})
	if err != nil {
		return nil, err
	}

	var decoded []struct {
		Title   string `json:"title"`
		URL     string `json:"url"`
		Snippet string `json:"snippet"`
	}
	if err := json.Unmarshal(resp.Body, &decoded); err != nil {
		// The wire format is not fixed; keep the raw payload as a single
		// finding rather than discarding the branch.
		return []models.Finding{{
			Service: task.service,
			Query:   task.query,
			Title:   task.query,
			Snippet: util.TruncateString(string(resp.Body), 200),
		}}, nil
	}

	if len(decoded) > maxPerSource {
		decoded = decoded[:maxPerSource]
	}
	findings := make([]models.Finding, 0, len(decoded))
	for _, d := range decoded {
		findings = append(findings, models.Finding{
			Service: task.service,
			Query:   task.query,
			Title:   d.Title,
			URL:     d.URL,
			Snippet: d.Snippet,
		})
	}
	return findings, nil
}
