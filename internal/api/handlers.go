package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/extkljajicm/branchwatch/internal/discovery"
	"github.com/extkljajicm/branchwatch/internal/store"
)

// deviceResponse is the spec.md §6 `GET /devices` element shape.
type deviceResponse struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	IP           string   `json:"ip"`
	Reachability string   `json:"reachability"`
	DownSince    *string  `json:"down_since"`
	IsFlapping   bool     `json:"is_flapping"`
	LastProbeAt  *string  `json:"last_probe_at"`
	RTTMs        *float64 `json:"rtt_ms"`
	LossPct      *float64 `json:"loss_pct"`
	BranchID     *string  `json:"branch_id"`
	Classification string `json:"classification"`
}

func toDeviceResponse(d store.Device) deviceResponse {
	r := deviceResponse{
		ID:             d.ID,
		Name:           d.Name,
		IP:             d.IP,
		Reachability:   string(d.Reachability),
		IsFlapping:     d.IsFlapping,
		RTTMs:          d.LastRTTMs,
		LossPct:        d.LastLossPct,
		Classification: d.Classification,
	}
	if d.DownSince != nil {
		s := d.DownSince.UTC().Format(time.RFC3339)
		r.DownSince = &s
	}
	if d.LastProbeAt != nil {
		s := d.LastProbeAt.UTC().Format(time.RFC3339)
		r.LastProbeAt = &s
	}
	if d.BranchID != "" {
		r.BranchID = &d.BranchID
	}
	return r
}

// listDevices handles `GET /devices`, served from the short-lived cache
// when warm (spec.md §4.7).
func (s *Server) listDevices(w http.ResponseWriter, r *http.Request) {
	if cached, ok := s.cache.get(listCacheKey); ok {
		writeJSON(w, http.StatusOK, cached)
		return
	}

	devices, err := s.store.ListDevices(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("api: failed to list devices")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	out := make([]deviceResponse, 0, len(devices))
	for _, d := range devices {
		out = append(out, toDeviceResponse(d))
	}
	s.cache.set(listCacheKey, out)
	writeJSON(w, http.StatusOK, out)
}

// ispInterfaceResponse is the spec.md §6 `isp_interfaces` element shape.
type ispInterfaceResponse struct {
	Provider   string `json:"provider"`
	Status     string `json:"status"` // "up" or "down"
	IfName     string `json:"if_name"`
	IfAlias    string `json:"if_alias"`
	LastSeenAt string `json:"last_seen_at"`
}

type deviceDetailResponse struct {
	deviceResponse
	ISPInterfaces []ispInterfaceResponse `json:"isp_interfaces,omitempty"`
}

// deviceDetail handles `GET /devices/{id}`.
func (s *Server) deviceDetail(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	key := deviceCacheKey(id)
	if cached, ok := s.cache.get(key); ok {
		writeJSON(w, http.StatusOK, cached)
		return
	}

	d, err := s.store.GetDevice(r.Context(), id)
	if err != nil {
		if err == store.ErrNotFound {
			http.Error(w, "device not found", http.StatusNotFound)
			return
		}
		log.Error().Err(err).Str("device_id", id).Msg("api: failed to fetch device")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	ifaces, err := s.store.ListDeviceInterfaces(r.Context(), id)
	if err != nil {
		log.Error().Err(err).Str("device_id", id).Msg("api: failed to fetch device interfaces")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	resp := deviceDetailResponse{deviceResponse: toDeviceResponse(*d)}
	for _, iface := range ifaces {
		if iface.InterfaceType != "isp" {
			continue
		}
		status := "down"
		if iface.OperStatus == store.OperStatusUp {
			status = "up"
		}
		provider := ""
		if iface.ISPProvider != nil {
			provider = *iface.ISPProvider
		}
		resp.ISPInterfaces = append(resp.ISPInterfaces, ispInterfaceResponse{
			Provider:   provider,
			Status:     status,
			IfName:     iface.IfName,
			IfAlias:    iface.IfAlias,
			LastSeenAt: iface.LastSeenAt.UTC().Format(time.RFC3339),
		})
	}

	s.cache.set(key, resp)
	writeJSON(w, http.StatusOK, resp)
}

// bulkISPStatus handles `GET /interfaces/isp-status/bulk?device_ips=a,b,c`
// (spec.md §6, §8 scenario E): a single indexed store query, missing IPs
// silently omitted.
func (s *Server) bulkISPStatus(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("device_ips")
	if raw == "" {
		writeJSON(w, http.StatusOK, map[string]any{})
		return
	}
	ips := strings.Split(raw, ",")
	for i := range ips {
		ips[i] = strings.TrimSpace(ips[i])
	}

	rows, err := s.store.BulkISPStatus(r.Context(), ips)
	if err != nil {
		log.Error().Err(err).Msg("api: bulk isp status query failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	out := make(map[string]map[string]map[string]any, len(rows))
	for _, row := range rows {
		provider := "unknown"
		if row.ISPProvider != nil && *row.ISPProvider != "" {
			provider = *row.ISPProvider
		}
		status := "down"
		if row.OperStatus == store.OperStatusUp {
			status = "up"
		}
		byProvider, ok := out[row.DeviceIP]
		if !ok {
			byProvider = make(map[string]map[string]any)
			out[row.DeviceIP] = byProvider
		}
		byProvider[provider] = map[string]any{
			"status":       status,
			"if_name":      row.IfName,
			"last_seen_at": row.LastSeenAt.UTC().Format(time.RFC3339),
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// problemResponse is the spec.md §6 `GET /problems` element shape.
type problemResponse struct {
	ID             string  `json:"id"`
	Severity       string  `json:"severity"`
	FirstTriggered string  `json:"first_triggered"`
	DeviceID       string  `json:"device_id"`
	RuleName       string  `json:"rule_name"`
	Suppressed     bool    `json:"suppressed"`
	Flapping       bool    `json:"flapping"`
	ResolvedAt     *string `json:"resolved_at"`
}

// listProblems handles `GET /problems?active=true&severity=...&device_id=...`.
func (s *Server) listProblems(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	active := q.Get("active") != "false"
	if !active {
		http.Error(w, "only active=true is supported; historical queries use alert_history directly", http.StatusBadRequest)
		return
	}

	problems, err := s.store.ListActiveProblems(r.Context(), q.Get("severity"), q.Get("device_id"))
	if err != nil {
		log.Error().Err(err).Msg("api: failed to list active problems")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	ruleNames := make(map[string]string, len(problems))
	out := make([]problemResponse, 0, len(problems))
	for _, p := range problems {
		name, ok := ruleNames[p.RuleID]
		if !ok {
			if rule, err := s.store.GetAlertRule(r.Context(), p.RuleID); err == nil {
				name = rule.Name
			}
			ruleNames[p.RuleID] = name
		}
		out = append(out, problemResponse{
			ID:             p.ID,
			Severity:       p.Severity,
			FirstTriggered: p.FirstTriggered.UTC().Format(time.RFC3339),
			DeviceID:       p.DeviceID,
			RuleName:       name,
			Suppressed:     p.Suppressed,
			Flapping:       p.Flapping,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// historySample is the spec.md §6 `GET /devices/{id}/history` element shape.
type historySample struct {
	T         string  `json:"t"`
	Reachable bool    `json:"reachable"`
	RTTMs     float64 `json:"rtt_ms"`
	LossPct   float64 `json:"loss_pct"`
}

// deviceHistory handles `GET /devices/{id}/history?range=1h`
// (spec.md §6: time-series passthrough). The samples come from the
// time-series store; the current-state store is read only to resolve the
// device's IP.
func (s *Server) deviceHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	d, err := s.store.GetDevice(r.Context(), id)
	if err != nil {
		if err == store.ErrNotFound {
			http.Error(w, "device not found", http.StatusNotFound)
			return
		}
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	if s.ts == nil {
		writeJSON(w, http.StatusOK, []historySample{})
		return
	}

	rangeStr := r.URL.Query().Get("range")
	if rangeStr == "" {
		rangeStr = "1h"
	}
	lookback, err := time.ParseDuration(rangeStr)
	if err != nil {
		http.Error(w, "invalid range parameter", http.StatusBadRequest)
		return
	}

	samples, err := s.ts.PingHistory(r.Context(), d.IP, time.Now().Add(-lookback))
	if err != nil {
		log.Error().Err(err).Str("device_id", id).Msg("api: history query failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	out := make([]historySample, 0, len(samples))
	for _, smp := range samples {
		out = append(out, historySample{
			T:         smp.Time.UTC().Format(time.RFC3339),
			Reachable: smp.Reachable,
			RTTMs:     smp.RTTMs,
			LossPct:   smp.LossPct,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// discoverInterfaces handles `POST /interfaces/discover/{device_id}`
// (spec.md §6: on-demand SNMP interface discovery).
func (s *Server) discoverInterfaces(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "device_id")
	if err := discovery.RunDeviceDiscovery(r.Context(), s.store, s.snmpCfg, id); err != nil {
		if err == store.ErrNotFound {
			http.Error(w, "device not found", http.StatusNotFound)
			return
		}
		log.Error().Err(err).Str("device_id", id).Msg("api: on-demand discovery failed")
		http.Error(w, "discovery failed: "+err.Error(), http.StatusBadGateway)
		return
	}
	s.cache.evict(deviceCacheKey(id))
	w.WriteHeader(http.StatusAccepted)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("api: failed to encode JSON response")
	}
}
