// Command smoke drives a running server through the ingest, search and
// delete flow and exits non-zero on the first failed step.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/Prajwalkadam29/graphiti-manufacturing-service/internal/logger"
)

func main() {
	baseURL := flag.String("url", "http://localhost:8000", "server base URL")
	wait := flag.Duration("wait", 2*time.Second, "time to wait for the server to start")
	withLLM := flag.Bool("llm", false, "also exercise POST /episodes (needs a configured model)")
	flag.Parse()

	if err := logger.Init("development"); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logger.Sync()
	log := logger.Named("smoke")

	time.Sleep(*wait)
	c := &client{base: *baseURL, http: &http.Client{Timeout: 2 * time.Minute}, log: log}
	suffix := fmt.Sprintf("%d", time.Now().Unix())

	var health map[string]any
	c.must("health", c.call(http.MethodGet, "/health", nil, &health))
	if health["graph_connected"] != true {
		c.fail("health", fmt.Errorf("graph not connected: %v", health))
	}

	graph := map[string]any{
		"episode_name":       "Smoke layout " + suffix,
		"source_description": "smoke test",
		"nodes": []map[string]any{
			{"id": "m", "label": "Machine", "properties": map[string]any{"name": "Machine X"}},
			{"id": "l", "label": "Line", "properties": map[string]any{"name": "Line 5"}},
		},
		"edges": []map[string]any{
			{"source": "m", "target": "l", "type": "INSTALLED_IN",
				"properties": map[string]any{"fact": "Machine X is installed in Line 5"}},
		},
	}
	var built map[string]any
	c.must("build graph", c.call(http.MethodPost, "/build-graph", graph, &built))
	episodeID, _ := built["episode_id"].(string)

	var dup map[string]any
	c.must("duplicate build", c.call(http.MethodPost, "/build-graph", graph, &dup))
	if dup["status"] != "duplicate" {
		c.fail("duplicate build", fmt.Errorf("expected duplicate, got %v", dup["status"]))
	}

	if *withLLM {
		var ingested map[string]any
		c.must("ingest episode", c.call(http.MethodPost, "/episodes", map[string]any{
			"name":               "Install A " + suffix,
			"body":               "Machine X installed in Line 5",
			"source_description": "smoke test",
		}, &ingested))
	}

	var found map[string]any
	c.must("search", c.call(http.MethodPost, "/search-graph", map[string]any{"query": "machines in Line 5"}, &found))
	if n, _ := found["count"].(float64); n < 1 {
		c.fail("search", fmt.Errorf("no results"))
	}

	var stats map[string]any
	c.must("stats", c.call(http.MethodGet, "/stats", nil, &stats))

	var deleted map[string]any
	c.must("delete", c.call(http.MethodDelete, "/episodes/"+episodeID, nil, &deleted))
	if deleted["deleted"] != true {
		c.fail("delete", fmt.Errorf("episode %s not deleted", episodeID))
	}

	log.Info("smoke test passed")
}

type client struct {
	base string
	http *http.Client
	log  *zap.Logger
}

func (c *client) call(method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.base+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, data)
	}
	c.log.Debug("response", zap.String("method", method), zap.String("path", path), zap.ByteString("body", data))
	return json.Unmarshal(data, out)
}

func (c *client) must(step string, err error) {
	if err != nil {
		c.fail(step, err)
	}
	c.log.Info("passed", zap.String("step", step))
}

func (c *client) fail(step string, err error) {
	c.log.Error("failed", zap.String("step", step), zap.Error(err))
	logger.Sync()
	os.Exit(1)
}
