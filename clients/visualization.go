package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
)

// --- Visualization (/plot-der) ---
type DERPlotReq struct {
	Title  string    `json:"title"`
	Names  []string  `json:"names"`
	Values []float64 `json:"values"`
	XTitle string    `json:"x_title,omitempty"`
	YTitle string    `json:"y_title,omitempty"`
}

type DERPlotResp struct {
	Status string `json:"status"`
	Path   string `json:"path"`
	URL    string `json:"url,omitempty"`
}

// NewDERPlot pairs names with values and orders both by name.
func NewDERPlot(title string, names []string, values []float64) DERPlotReq {
	idx := make([]int, len(names))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return names[idx[a]] < names[idx[b]] })
	req := DERPlotReq{Title: title, XTitle: "Recording", YTitle: "DER [%]"}
	for _, i := range idx {
		req.Names = append(req.Names, names[i])
		req.Values = append(req.Values, values[i])
	}
	return req
}

func (h *HTTP) PlotDER(ctx context.Context, url string, req DERPlotReq) (*DERPlotResp, error) {
	if len(req.Names) != len(req.Values) {
		return nil, fmt.Errorf("viz der: %d names but %d values", len(req.Names), len(req.Values))
	}
	b, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	r, err := http.NewRequestWithContext(ctx, http.MethodPost, url+"/plot-der", bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	r.Header.Set("Content-Type", "application/json")
	resp, err := h.c.Do(r)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("viz der %s: %s", resp.Status, string(body))
	}

	var out DERPlotResp
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("viz der decode: %w", err)
	}
	return &out, nil
}
