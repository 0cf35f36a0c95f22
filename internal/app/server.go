package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"arena-trader/internal/ai"
	"arena-trader/internal/monitor"
	"arena-trader/internal/store"
)

type applyRequest struct {
	Agent          string  `json:"agent"`
	Symbol         string  `json:"symbol"`
	PriceLower     float64 `json:"price_lower"`
	PriceUpper     float64 `json:"price_upper"`
	LevelCount     int     `json:"level_count"`
	Spacing        string  `json:"spacing"`
	BaseAllocation float64 `json:"base_allocation"`
	Leverage       int     `json:"leverage"`
	TakeProfitPct  float64 `json:"take_profit_pct"`
	StopLossPct    float64 `json:"stop_loss_pct"`
	Rebalance      bool    `json:"rebalance"`
}

type executeRequest struct {
	Agent    string      `json:"agent"`
	Symbol   string      `json:"symbol"`
	Decision ai.Decision `json:"decision"`
}

// startAdminServer 暴露策略管理与监控查询接口。
func startAdminServer(ctx context.Context, orch *orchestrator, port int, logger *zap.Logger) {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/strategy/apply", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var req applyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, fmt.Sprintf("解析请求失败: %v", err), http.StatusBadRequest)
			return
		}

		spacing := store.SpacingKind(strings.ToLower(strings.TrimSpace(req.Spacing)))
		if spacing == "" {
			spacing = store.SpacingArithmetic
		}

		result, err := orch.engine.ApplyStrategy(r.Context(), store.StrategyConfig{
			Agent:          req.Agent,
			Symbol:         req.Symbol,
			PriceLower:     req.PriceLower,
			PriceUpper:     req.PriceUpper,
			LevelCount:     req.LevelCount,
			Spacing:        spacing,
			BaseAllocation: req.BaseAllocation,
			Leverage:       req.Leverage,
			TakeProfitPct:  req.TakeProfitPct,
			StopLossPct:    req.StopLossPct,
			Rebalance:      req.Rebalance,
		})
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		orch.monitor.RecordGridApply(r.Context(), req.Agent, req.Symbol, result)
		writeJSON(w, result, logger)
	})

	mux.HandleFunc("/api/strategy/pause", func(w http.ResponseWriter, r *http.Request) {
		handleStatusToggle(w, r, orch, logger, orch.engine.Pause)
	})

	mux.HandleFunc("/api/strategy/resume", func(w http.ResponseWriter, r *http.Request) {
		handleStatusToggle(w, r, orch, logger, orch.engine.Resume)
	})

	mux.HandleFunc("/api/strategy/sync", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		configID, err := strconv.ParseInt(r.URL.Query().Get("config_id"), 10, 64)
		if err != nil || configID <= 0 {
			http.Error(w, "config_id 参数非法", http.StatusBadRequest)
			return
		}

		result, err := orch.engine.SyncStrategy(r.Context(), configID)
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, store.ErrNotFound) {
				status = http.StatusNotFound
			}
			http.Error(w, err.Error(), status)
			return
		}

		orch.monitor.RecordGridSync(r.Context(), result)
		writeJSON(w, result, logger)
	})

	mux.HandleFunc("/api/decision/execute", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var req executeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, fmt.Sprintf("解析请求失败: %v", err), http.StatusBadRequest)
			return
		}
		if req.Agent == "" || req.Symbol == "" {
			http.Error(w, "agent 与 symbol 不能为空", http.StatusBadRequest)
			return
		}
		if err := req.Decision.Validate(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		recordID, err := orch.persistDecision(r.Context(), req.Agent, req.Symbol, req.Decision)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		req.Decision.RecordID = recordID

		result := orch.executor.ExecuteDecision(r.Context(), req.Agent, req.Symbol, req.Decision)
		orch.monitor.RecordExecution(r.Context(), req.Agent, req.Symbol, result)
		writeJSON(w, result, logger)
	})

	mux.HandleFunc("/api/leaderboard", func(w http.ResponseWriter, r *http.Request) {
		accounts, err := orch.ledger.ListAccounts(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, accounts, logger)
	})

	mux.HandleFunc("/api/orders", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		orders, err := orch.ledger.GetOrders(r.Context(), q.Get("agent"), q.Get("symbol"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, orders, logger)
	})

	mux.HandleFunc("/api/events", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		limit := 200
		if qs := q.Get("limit"); qs != "" {
			if v, err := strconv.Atoi(qs); err == nil && v > 0 {
				if v > 1000 {
					v = 1000
				}
				limit = v
			}
		}

		eventType := monitor.EventType("")
		if typ := strings.TrimSpace(q.Get("type")); typ != "" {
			eventType = monitor.EventType(strings.ToLower(typ))
		}

		events, err := orch.monitor.ListEvents(r.Context(), eventType, limit)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, events, logger)
	})

	addr := fmt.Sprintf(":%d", port)
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && err != http.ErrServerClosed {
			logger.Warn("关闭管理接口失败", zap.Error(err))
		}
	}()

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("管理接口异常", zap.Error(err))
		}
	}()

	logger.Info("管理接口已启动", zap.String("addr", addr))
}

func handleStatusToggle(w http.ResponseWriter, r *http.Request, orch *orchestrator, logger *zap.Logger, toggle func(context.Context, string, string) error) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	agent := r.URL.Query().Get("agent")
	symbol := r.URL.Query().Get("symbol")
	if agent == "" || symbol == "" {
		http.Error(w, "agent 与 symbol 参数不能为空", http.StatusBadRequest)
		return
	}

	if err := toggle(r.Context(), agent, symbol); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, store.ErrNotFound) {
			status = http.StatusNotFound
		}
		http.Error(w, err.Error(), status)
		return
	}

	writeJSON(w, map[string]string{"status": "ok"}, logger)
}

func writeJSON(w http.ResponseWriter, payload interface{}, logger *zap.Logger) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Warn("写入响应失败", zap.Error(err))
	}
}
