package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/nicebartender/onebot-bridge/onebot"
)

type link interface {
	Connected() bool
	SessionID() string
}

// health tracks gateway liveness from meta events and serves it on /health.
type health struct {
	link    link
	started time.Time

	mu            sync.Mutex
	selfID        int64
	lastHeartbeat time.Time
	good          bool
	notices       int
	requests      int
}

func newHealth(l link) *health {
	return &health{link: l, started: time.Now()}
}

func (h *health) register(c *onebot.Client) {
	c.OnMetaEvent("lifecycle", h.onLifecycle, metaType("lifecycle"))
	c.OnMetaEvent("heartbeat", h.onHeartbeat, metaType("heartbeat"))
	c.OnNotice("notice-log", h.onNotice)
	c.OnRequest("request-log", h.onRequest)
}

func metaType(t string) onebot.Predicate {
	return onebot.PredicateFunc(func(ev onebot.Event) bool {
		m, ok := ev.(*onebot.MetaEvent)
		return ok && m.MetaEventType == t
	})
}

func (h *health) onLifecycle(ctx context.Context, c *onebot.Client, m *onebot.MetaEvent) error {
	h.mu.Lock()
	h.selfID = m.SelfID
	h.mu.Unlock()
	slog.Info("gateway lifecycle", "subType", m.SubType, "selfID", m.SelfID)
	return nil
}

func (h *health) onHeartbeat(ctx context.Context, c *onebot.Client, m *onebot.MetaEvent) error {
	var st onebot.Status
	if len(m.Status) > 0 {
		if err := json.Unmarshal(m.Status, &st); err != nil {
			slog.Debug("heartbeat status undecodable", "err", err)
		}
	}

	h.mu.Lock()
	h.lastHeartbeat = time.Now()
	h.good = st.Online && st.Good
	if m.SelfID != 0 {
		h.selfID = m.SelfID
	}
	h.mu.Unlock()
	return nil
}

func (h *health) onNotice(ctx context.Context, c *onebot.Client, n *onebot.NoticeEvent) error {
	h.mu.Lock()
	h.notices++
	h.mu.Unlock()
	slog.Debug("notice", "type", n.NoticeType, "subType", n.SubType, "group", n.GroupID, "user", n.UserID)
	return nil
}

func (h *health) onRequest(ctx context.Context, c *onebot.Client, r *onebot.RequestEvent) error {
	h.mu.Lock()
	h.requests++
	h.mu.Unlock()
	slog.Info("request awaiting approval", "type", r.RequestType, "user", r.UserID, "group", r.GroupID, "comment", r.Comment, "flag", r.Flag)
	return nil
}

type healthReport struct {
	Status        string `json:"status"`
	Connected     bool   `json:"connected"`
	Session       string `json:"session,omitempty"`
	SelfID        int64  `json:"selfId,omitempty"`
	Good          bool   `json:"good"`
	LastHeartbeat string `json:"lastHeartbeat,omitempty"`
	Notices       int    `json:"notices"`
	Requests      int    `json:"requests"`
	Uptime        string `json:"uptime"`
}

func (h *health) report() healthReport {
	h.mu.Lock()
	defer h.mu.Unlock()

	r := healthReport{
		Status:    "ok",
		Connected: h.link.Connected(),
		Session:   h.link.SessionID(),
		SelfID:    h.selfID,
		Good:      h.good,
		Notices:   h.notices,
		Requests:  h.requests,
		Uptime:    time.Since(h.started).Truncate(time.Second).String(),
	}
	if !r.Connected {
		r.Status = "disconnected"
	}
	if !h.lastHeartbeat.IsZero() {
		r.LastHeartbeat = h.lastHeartbeat.UTC().Format(time.RFC3339)
	}
	return r
}

func (h *health) mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		rep := h.report()
		w.Header().Set("Content-Type", "application/json")
		if !rep.Connected {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(rep)
	})
	return mux
}
