package server

import (
	"encoding/json"
	"net/http"
)

// HandleMetrics 输出引擎运行指标
// GET /metrics
func (g *Gateway) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	payload := map[string]any{
		"active_spaces":      g.registry.Len(),
		"active_connections": g.ActiveConns(),
		"joined_connections": g.router.Bound(),
		"metrics":            g.metrics.Snapshot(),
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}

// HandleSpaces 列出活跃空间及其花名册
// GET /admin/spaces
func (g *Gateway) HandleSpaces(w http.ResponseWriter, r *http.Request) {
	type spaceView struct {
		ID     string      `json:"spaceId"`
		Width  int         `json:"width"`
		Height int         `json:"height"`
		Users  []UserState `json:"users"`
	}
	out := make([]spaceView, 0)
	for _, s := range g.registry.Sessions() {
		users, err := s.Snapshot()
		if err != nil {
			// 列举期间退役的会话直接跳过
			continue
		}
		geo := s.Geometry()
		out = append(out, spaceView{ID: s.ID, Width: geo.Width, Height: geo.Height, Users: users})
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"spaces": out})
}
