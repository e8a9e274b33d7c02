// Package loki ships session events to the Grafana Loki push API.
package loki

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Job is the job label on every stream this package writes.
const Job = "session-hub"

// Entry is one log line with the labels of the stream it belongs to.
type Entry struct {
	Time   time.Time
	Line   string
	Labels map[string]string
}

// pushBody is the v1 push payload. Each value is [unix_nanos, line].
type pushBody struct {
	Streams []stream `json:"streams"`
}

type stream struct {
	Labels map[string]string `json:"stream"`
	Values [][2]string       `json:"values"`
}

// Client pushes entries to one Loki instance.
type Client struct {
	pushURL string
	http    *http.Client
}

// NewClient targets baseURL (e.g. http://loki:3100). A nil hc uses http.DefaultClient.
func NewClient(baseURL string, hc *http.Client) (*Client, error) {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return nil, errors.New("loki: base URL is empty")
	}
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Client{pushURL: strings.TrimSuffix(baseURL, "/") + "/loki/api/v1/push", http: hc}, nil
}

// EntryFromEvent turns a serialized session event into an entry stamped with the event's
// created_at and labelled by its type. The number stays in the line; a label per number
// would give every number its own stream. Input that is not an event is kept verbatim and
// stamped with the current time.
func EntryFromEvent(raw []byte) Entry {
	e := Entry{Time: time.Now().UTC(), Line: string(raw)}
	var ev struct {
		Type      string    `json:"type"`
		CreatedAt time.Time `json:"created_at"`
	}
	if json.Unmarshal(raw, &ev) != nil {
		return e
	}
	if ev.Type != "" {
		e.Labels = map[string]string{"event_type": ev.Type}
	}
	if !ev.CreatedAt.IsZero() {
		e.Time = ev.CreatedAt
	}
	return e
}

// Push sends entries in one request, one stream per distinct label set.
func (c *Client) Push(ctx context.Context, entries ...Entry) error {
	if len(entries) == 0 {
		return nil
	}
	body := pushBody{}
	index := make(map[string]int)
	for _, e := range entries {
		labels := streamLabels(e.Labels)
		key := labelKey(labels)
		i, ok := index[key]
		if !ok {
			i = len(body.Streams)
			index[key] = i
			body.Streams = append(body.Streams, stream{Labels: labels})
		}
		body.Streams[i].Values = append(body.Streams[i].Values,
			[2]string{strconv.FormatInt(e.Time.UnixNano(), 10), e.Line})
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("loki: encode push: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.pushURL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("loki: push: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("loki: push returned %s", resp.Status)
	}
	return nil
}

// streamLabels adds the job label and drops labels whose cleaned value is empty.
func streamLabels(in map[string]string) map[string]string {
	out := map[string]string{"job": Job}
	for k, v := range in {
		if v = cleanLabel(v); v != "" {
			out[k] = v
		}
	}
	return out
}

// cleanLabel keeps letters, digits and _ - : . and replaces anything else with _.
func cleanLabel(v string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '_' || r == '-' || r == ':' || r == '.':
			return r
		}
		return '_'
	}, strings.TrimSpace(v))
}

func labelKey(labels map[string]string) string {
	pairs := make([]string, 0, len(labels))
	for k, v := range labels {
		pairs = append(pairs, k+"="+v)
	}
	sort.Strings(pairs)
	return strings.Join(pairs, ",")
}
