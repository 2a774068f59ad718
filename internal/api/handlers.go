package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/quantfleet/engine/internal/errs"
	"github.com/quantfleet/engine/internal/fees"
	"github.com/quantfleet/engine/internal/optimizer"
	"github.com/quantfleet/engine/internal/orders"
	"github.com/quantfleet/engine/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respond(w, http.StatusOK, s.engine.Status())
}

// --- fleet ---

func (s *Server) handleListBots(w http.ResponseWriter, r *http.Request) {
	s.respond(w, http.StatusOK, s.engine.Supervisor().Summaries())
}

type createBotRequest struct {
	ID     string          `json:"id,omitempty"`
	Config types.BotConfig `json:"config"`
}

func (s *Server) handleCreateBot(w http.ResponseWriter, r *http.Request) {
	var req createBotRequest
	if err := s.decode(r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}

	b, err := s.engine.Supervisor().CreateBot(req.Config, req.ID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respond(w, http.StatusCreated, b.Status())
}

func (s *Server) handleGetBot(w http.ResponseWriter, r *http.Request) {
	b, err := s.engine.Supervisor().Get(mux.Vars(r)["id"])
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, b.Status())
}

func (s *Server) handleUpdateBot(w http.ResponseWriter, r *http.Request) {
	var cfg types.BotConfig
	if err := s.decode(r, &cfg); err != nil {
		s.respondError(w, r, err)
		return
	}

	snap, err := s.engine.Supervisor().UpdateBotConfig(mux.Vars(r)["id"], cfg)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, snap)
}

func (s *Server) handleDeleteBot(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Supervisor().DeleteBot(mux.Vars(r)["id"]); err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respond(w, http.StatusNoContent, nil)
}

type lifecycleResponse struct {
	BotID   string         `json:"bot_id"`
	Changed bool           `json:"changed"`
	State   types.BotState `json:"state"`
}

func (s *Server) handleBotLifecycle(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id, verb := vars["id"], vars["verb"]
	sup := s.engine.Supervisor()

	var changed bool
	var err error
	switch verb {
	case "start":
		changed, err = sup.StartBot(id)
	case "stop":
		changed, err = sup.StopBot(id)
	case "pause":
		changed, err = sup.PauseBot(id)
	case "resume":
		changed, err = sup.ResumeBot(id)
	}
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	b, err := sup.Get(id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, lifecycleResponse{BotID: id, Changed: changed, State: b.State()})
}

// --- orders ---

type orderRequest struct {
	BotID       string          `json:"bot_id,omitempty"`
	Symbol      string          `json:"symbol"`
	Side        types.OrderSide `json:"side"`
	Quantity    decimal.Decimal `json:"quantity"`
	Type        types.OrderType `json:"type,omitempty"`
	LimitPrice  decimal.Decimal `json:"limit_price,omitempty"`
	StopPrice   decimal.Decimal `json:"stop_price,omitempty"`
	Strategy    string          `json:"strategy,omitempty"`
	Broker      string          `json:"broker,omitempty"`
	AccountID   string          `json:"account_id,omitempty"`
	AutoConfirm bool            `json:"auto_confirm,omitempty"`
}

func (r orderRequest) validate() error {
	if r.Symbol == "" {
		return errs.New(errs.KindClient, "api", "submit_order", "symbol is required")
	}
	if r.Side != types.OrderSideBuy && r.Side != types.OrderSideSell {
		return errs.New(errs.KindClient, "api", "submit_order", "side must be buy or sell")
	}
	return nil
}

func (s *Server) handleSubmitOrder(w http.ResponseWriter, r *http.Request) {
	var req orderRequest
	if err := s.decode(r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	if err := req.validate(); err != nil {
		s.respondError(w, r, err)
		return
	}

	orderType := req.Type
	if orderType == "" {
		orderType = types.OrderTypeMarket
	}

	order, err := s.engine.Pipeline().Submit(r.Context(), orders.Request{
		BotID:       req.BotID,
		Symbol:      req.Symbol,
		Side:        req.Side,
		Quantity:    req.Quantity,
		Type:        orderType,
		LimitPrice:  req.LimitPrice,
		StopPrice:   req.StopPrice,
		Strategy:    req.Strategy,
		Broker:      req.Broker,
		AccountID:   req.AccountID,
		AutoConfirm: req.AutoConfirm,
	})
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	// Gate rejections come back as a rejected order, not an error.
	s.respond(w, http.StatusOK, order)
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	canceled, err := s.engine.Pipeline().Cancel(r.Context(), id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]interface{}{"order_id": id, "canceled": canceled})
}

func (s *Server) handleOpenOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	open := s.engine.Pipeline().OpenOrders(orders.Filter{
		BotID:  q.Get("bot_id"),
		Symbol: q.Get("symbol"),
	})
	s.respond(w, http.StatusOK, open)
}

// --- compliance ---

func (s *Server) handleComplianceStatus(w http.ResponseWriter, r *http.Request) {
	account := mux.Vars(r)["account"]
	for _, mgr := range s.engine.Compliance().All() {
		if mgr.AccountID() == account {
			s.respond(w, http.StatusOK, mgr.Status())
			return
		}
	}
	s.respondError(w, r, errs.Wrap(errs.ErrNotFound, errs.KindClient, "api", "compliance_status",
		"account "+account))
}

// --- optimizer ---

type optimizerEnableRequest struct {
	Mode optimizer.Mode `json:"mode"`
}

func (s *Server) handleOptimizerEnable(w http.ResponseWriter, r *http.Request) {
	botID := mux.Vars(r)["bot_id"]

	var req optimizerEnableRequest
	if err := s.decode(r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	switch req.Mode {
	case optimizer.ModeConservative, optimizer.ModeModerate, optimizer.ModeAggressive:
	default:
		s.respondError(w, r, errs.New(errs.KindClient, "api", "optimizer_enable",
			"mode must be conservative, moderate, or aggressive"))
		return
	}

	if err := s.engine.Optimizer().Enable(botID, req.Mode); err != nil {
		s.respondError(w, r, err)
		return
	}
	st, err := s.engine.Optimizer().Status(botID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, st)
}

func (s *Server) handleOptimizerDisable(w http.ResponseWriter, r *http.Request) {
	botID := mux.Vars(r)["bot_id"]
	if err := s.engine.Optimizer().Disable(botID); err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]interface{}{"bot_id": botID, "enabled": false})
}

func (s *Server) handleOptimizerStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.engine.Optimizer().Status(mux.Vars(r)["bot_id"])
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, st)
}

// --- reports ---

func (s *Server) handleFeesReport(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	to := s.engine.Clock().Now()
	from := to.AddDate(0, -1, 0)
	var err error
	if v := q.Get("from"); v != "" {
		if from, err = time.Parse(time.RFC3339, v); err != nil {
			s.respondError(w, r, errs.Wrap(err, errs.KindClient, "api", "fees_report", "invalid from"))
			return
		}
	}
	if v := q.Get("to"); v != "" {
		if to, err = time.Parse(time.RFC3339, v); err != nil {
			s.respondError(w, r, errs.Wrap(err, errs.KindClient, "api", "fees_report", "invalid to"))
			return
		}
	}

	groupBy := fees.ByBroker
	switch v := q.Get("group_by"); v {
	case "", string(fees.ByBroker):
	case string(fees.ByBot):
		groupBy = fees.ByBot
	case string(fees.ByFeeType):
		groupBy = fees.ByFeeType
	default:
		s.respondError(w, r, errs.New(errs.KindClient, "api", "fees_report",
			"group_by must be broker, bot, or fee_type"))
		return
	}

	report := s.engine.Fees().Aggregate(from, to, groupBy)

	switch q.Get("format") {
	case "", "json":
		s.respond(w, http.StatusOK, report)
	case "csv":
		var inRange []fees.Entry
		for _, e := range s.engine.Fees().Entries() {
			if !e.Timestamp.Before(from) && e.Timestamp.Before(to) {
				inRange = append(inRange, e)
			}
		}
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", `attachment; filename="fees.csv"`)
		if err := s.engine.Reporter().FeesCSV(w, inRange); err != nil {
			s.logger.Warn("fees csv write failed", zap.Error(err))
		}
	case "table":
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		s.engine.Reporter().FeesTable(w, report)
	default:
		s.respondError(w, r, errs.New(errs.KindClient, "api", "fees_report",
			"format must be json, csv, or table"))
	}
}
