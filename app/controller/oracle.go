package controller

import (
	"encoding/hex"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-jose/go-jose/v4/json"

	"github.com/claimswap/claimswap/pkg/oracle"
)

type reportCreateRequest struct {
	Token1            string `json:"token1"`
	Token2            string `json:"token2"`
	ExactToken1Amount string `json:"exactToken1Amount"`
	SettlementTimeSec int64  `json:"settlementTimeSec"`
	DisputeDelaySec   int64  `json:"disputeDelaySec"`
	EscalationHalt    string `json:"escalationHalt"`
	Multiplier        uint64 `json:"multiplier"`
	TimeType          string `json:"timeType"`
	BlocksPerSecond   uint64 `json:"blocksPerSecond"`
	SettlerReward     string `json:"settlerReward"`
	FeePercentage     uint64 `json:"feePercentage"`
	FeeRecipient      string `json:"feeRecipient"`
	Payer             string `json:"payer"`
	Payment           string `json:"payment"`
}

func parseTimeType(s string) oracle.TimeType {
	if s == "block" {
		return oracle.TimeBlock
	}
	return oracle.TimeWall
}

func (c *Controller) HandleReportCreate(w http.ResponseWriter, r *http.Request) {
	var req reportCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	p := oracle.Params{
		Multiplier:      req.Multiplier,
		TimeType:        parseTimeType(req.TimeType),
		BlocksPerSecond: req.BlocksPerSecond,
		FeePercentage:   req.FeePercentage,
		SettlementTime:  time.Duration(req.SettlementTimeSec) * time.Second,
		DisputeDelay:    time.Duration(req.DisputeDelaySec) * time.Second,
	}
	var payer common.Address
	var payment *big.Int
	var err error
	for _, step := range []func() error{
		func() (e error) { p.Token1, e = address(req.Token1); return },
		func() (e error) { p.Token2, e = address(req.Token2); return },
		func() (e error) { p.FeeRecipient, e = address(req.FeeRecipient); return },
		func() (e error) { p.ExactToken1Amount, e = bigInt(req.ExactToken1Amount); return },
		func() (e error) { p.EscalationHalt, e = bigInt(req.EscalationHalt); return },
		func() (e error) { p.SettlerReward, e = bigInt(req.SettlerReward); return },
		func() (e error) { payer, e = address(req.Payer); return },
		func() (e error) { payment, e = bigInt(req.Payment); return },
	} {
		if err = step(); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
	}
	p.Creator = payer

	id, err := c.App.Oracle.CreateReport(r.Context(), p, payer, payment, nil)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"reportId": id})
}

type claimRequest struct {
	Amount1     string `json:"amount1"`
	Amount2     string `json:"amount2"`
	PriorDigest string `json:"priorDigest"`
	Claimant    string `json:"claimant"`
}

func (c *Controller) HandleClaimSubmit(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	var req claimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	amount1, err := bigInt(req.Amount1)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	amount2, err := bigInt(req.Amount2)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	claimant, err := address(req.Claimant)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	digest, err := hex.DecodeString(req.PriorDigest)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if err := c.App.Oracle.SubmitClaim(r.Context(), id, amount1, amount2, digest, claimant); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleBountyReport relays a first claim through the bounty service so the
// reporter earns the current reward.
func (c *Controller) HandleBountyReport(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	var req claimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	amount1, err1 := bigInt(req.Amount1)
	amount2, err2 := bigInt(req.Amount2)
	claimant, err3 := address(req.Claimant)
	digest, err4 := hex.DecodeString(req.PriorDigest)
	for _, err := range []error{err1, err2, err3, err4} {
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
	}
	reward, err := c.App.Bounty.SubmitInitialReport(r.Context(), id, amount1, amount2, digest, claimant)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reward": reward.String()})
}

func (c *Controller) HandleReportSettle(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	var req struct {
		Caller string `json:"caller"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	caller, err := address(req.Caller)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	price, err := c.App.Oracle.Settle(r.Context(), id, caller)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"price": price.String()})
}

func (c *Controller) HandleReportStatus(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	st, err := c.App.Oracle.ReportStatus(id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	resp := map[string]any{
		"claimant":         st.Claimant.Hex(),
		"rounds":           st.Rounds,
		"lastUpdate":       st.LastUpdate.UTC().Format(time.RFC3339Nano),
		"lastUpdateHeight": st.LastUpdateHeight,
		"isDistributed":    st.Distributed,
	}
	if st.Amount1 != nil {
		resp["amount1"] = st.Amount1.String()
	}
	if st.Amount2 != nil {
		resp["amount2"] = st.Amount2.String()
	}
	if st.Bond != nil {
		resp["bond"] = st.Bond.String()
	}
	if st.Price != nil {
		resp["price"] = st.Price.String()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (c *Controller) HandleReportMeta(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	meta, err := c.App.Oracle.ReportMeta(id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"reportId":          meta.ID,
		"token1":            meta.Params.Token1.Hex(),
		"token2":            meta.Params.Token2.Hex(),
		"exactToken1Amount": meta.Params.ExactToken1Amount.String(),
		"settlementTimeSec": int64(meta.Params.SettlementTime.Seconds()),
		"disputeDelaySec":   int64(meta.Params.DisputeDelay.Seconds()),
		"escalationHalt":    meta.Params.EscalationHalt.String(),
		"multiplier":        meta.Params.Multiplier,
		"settlerReward":     meta.Params.SettlerReward.String(),
		"feePercentage":     meta.Params.FeePercentage,
	})
}

func (c *Controller) HandleReportDigest(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	digest, err := c.App.Oracle.StateDigest(id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"digest": hex.EncodeToString(digest)})
}
