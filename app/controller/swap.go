package controller

import (
	"encoding/hex"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-jose/go-jose/v4/json"

	"github.com/claimswap/claimswap/pkg/swap"
)

type swapCreateRequest struct {
	Swapper             string `json:"swapper"`
	SellToken           string `json:"sellToken"`
	SellAmt             string `json:"sellAmt"`
	BuyToken            string `json:"buyToken"`
	MinOut              string `json:"minOut"`
	MinFulfillLiquidity string `json:"minFulfillLiquidity"`
	DeadlineSec         int64  `json:"deadlineSec"` // relative to now
	GasCompensation     string `json:"gasCompensation"`

	Oracle struct {
		SettlerReward     string `json:"settlerReward"`
		InitialLiquidity  string `json:"initialLiquidity"`
		EscalationHalt    string `json:"escalationHalt"`
		SettlementTimeSec int64  `json:"settlementTimeSec"`
		LatencyBailoutSec int64  `json:"latencyBailoutSec"`
		MaxGameTimeSec    int64  `json:"maxGameTimeSec"`
		BlocksPerSecond   uint64 `json:"blocksPerSecond"`
		DisputeDelaySec   int64  `json:"disputeDelaySec"`
		SwapFee           uint64 `json:"swapFee"`
		ProtocolFee       uint64 `json:"protocolFee"`
		Multiplier        uint64 `json:"multiplier"`
		TimeType          string `json:"timeType"`
	} `json:"oracle"`

	Slippage struct {
		PriceTolerated string `json:"priceTolerated"`
		ToleranceRange uint64 `json:"toleranceRange"`
	} `json:"slippage"`

	FulfillFee struct {
		MaxFee         uint64 `json:"maxFee"`
		StartingFee    uint64 `json:"startingFee"`
		RoundLengthSec int64  `json:"roundLengthSec"`
		GrowthRate     uint64 `json:"growthRate"`
		MaxRounds      uint64 `json:"maxRounds"`
	} `json:"fulfillFee"`

	Bounty struct {
		TotalAmtDeposited string `json:"totalAmtDeposited"`
		BountyStartAmt    string `json:"bountyStartAmt"`
		RoundLengthSec    int64  `json:"roundLengthSec"`
		BountyToken       string `json:"bountyToken"`
		BountyMultiplier  uint64 `json:"bountyMultiplier"`
		MaxRounds         uint64 `json:"maxRounds"`
	} `json:"bounty"`
}

func (req *swapCreateRequest) terms(now time.Time) (swap.Terms, error) {
	var t swap.Terms
	var err error

	addrs := []struct {
		dst *common.Address
		src string
	}{
		{&t.Swapper, req.Swapper},
		{&t.SellToken, req.SellToken},
		{&t.BuyToken, req.BuyToken},
		{&t.Bounty.BountyToken, req.Bounty.BountyToken},
	}
	for _, a := range addrs {
		if *a.dst, err = address(a.src); err != nil {
			return t, err
		}
	}

	amounts := []struct {
		dst **big.Int
		src string
	}{
		{&t.SellAmt, req.SellAmt},
		{&t.MinOut, req.MinOut},
		{&t.MinFulfillLiquidity, req.MinFulfillLiquidity},
		{&t.GasCompensation, req.GasCompensation},
		{&t.Oracle.SettlerReward, req.Oracle.SettlerReward},
		{&t.Oracle.InitialLiquidity, req.Oracle.InitialLiquidity},
		{&t.Oracle.EscalationHalt, req.Oracle.EscalationHalt},
		{&t.Slippage.PriceTolerated, req.Slippage.PriceTolerated},
		{&t.Bounty.TotalAmtDeposited, req.Bounty.TotalAmtDeposited},
		{&t.Bounty.BountyStartAmt, req.Bounty.BountyStartAmt},
	}
	for _, a := range amounts {
		if *a.dst, err = bigInt(a.src); err != nil {
			return t, err
		}
	}

	t.Deadline = now.Add(time.Duration(req.DeadlineSec) * time.Second)
	t.Oracle.SettlementTime = time.Duration(req.Oracle.SettlementTimeSec) * time.Second
	t.Oracle.LatencyBailout = time.Duration(req.Oracle.LatencyBailoutSec) * time.Second
	t.Oracle.MaxGameTime = time.Duration(req.Oracle.MaxGameTimeSec) * time.Second
	t.Oracle.DisputeDelay = time.Duration(req.Oracle.DisputeDelaySec) * time.Second
	t.Oracle.BlocksPerSecond = req.Oracle.BlocksPerSecond
	t.Oracle.SwapFee = req.Oracle.SwapFee
	t.Oracle.ProtocolFee = req.Oracle.ProtocolFee
	t.Oracle.Multiplier = req.Oracle.Multiplier
	t.Oracle.TimeType = parseTimeType(req.Oracle.TimeType)

	t.Slippage.ToleranceRange = req.Slippage.ToleranceRange

	t.FulfillFee.MaxFee = req.FulfillFee.MaxFee
	t.FulfillFee.StartingFee = req.FulfillFee.StartingFee
	t.FulfillFee.RoundLength = time.Duration(req.FulfillFee.RoundLengthSec) * time.Second
	t.FulfillFee.GrowthRate = req.FulfillFee.GrowthRate
	t.FulfillFee.MaxRounds = req.FulfillFee.MaxRounds

	t.Bounty.RoundLength = time.Duration(req.Bounty.RoundLengthSec) * time.Second
	t.Bounty.BountyMultiplier = req.Bounty.BountyMultiplier
	t.Bounty.MaxRounds = req.Bounty.MaxRounds
	return t, nil
}

func (c *Controller) HandleSwapCreate(w http.ResponseWriter, r *http.Request) {
	var req swapCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	terms, err := req.terms(c.App.Clock.Now())
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	id, err := c.App.Swaps.Create(r.Context(), terms)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"swapId": id})
}

func swapView(v swap.View) map[string]any {
	resp := map[string]any{
		"swapId":    v.ID,
		"swapper":   v.Terms.Swapper.Hex(),
		"sellToken": v.Terms.SellToken.Hex(),
		"sellAmt":   v.Terms.SellAmt.String(),
		"buyToken":  v.Terms.BuyToken.Hex(),
		"minOut":    v.Terms.MinOut.String(),
		"deadline":  v.Terms.Deadline.UTC().Format(time.RFC3339Nano),
		"createdAt": v.CreatedAt.UTC().Format(time.RFC3339Nano),
		"active":    v.Active,
		"matched":   v.Matched,
		"cancelled": v.Cancelled,
		"finished":  v.Finished,
	}
	if v.Matched {
		resp["matcher"] = v.Matcher.Hex()
		resp["fulfillmentFee"] = v.FulfillmentFee
		resp["reportId"] = v.ReportID
		resp["start"] = v.Start.UTC().Format(time.RFC3339Nano)
	}
	return resp
}

func (c *Controller) HandleSwapGet(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	v, err := c.App.Swaps.Get(id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, swapView(v))
}

func (c *Controller) HandleSwapDigest(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	digest, err := c.App.Swaps.Digest(id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"digest": hex.EncodeToString(digest)})
}

func (c *Controller) HandleSwapMatch(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	var req struct {
		Matcher        string `json:"matcher"`
		ExpectedDigest string `json:"expectedDigest"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	matcher, err := address(req.Matcher)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	digest, err := hex.DecodeString(req.ExpectedDigest)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if err := c.App.Swaps.Match(r.Context(), id, digest, matcher); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "matched"})
}

func (c *Controller) HandleSwapCancel(w http.ResponseWriter, r *http.Request) {
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
	if err := c.App.Swaps.Cancel(r.Context(), id, caller); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (c *Controller) HandleSwapBailOut(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if err := c.App.Swaps.BailOut(r.Context(), id); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "refunded"})
}

func (c *Controller) HandleSwapGrabFees(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if err := c.App.Swaps.GrabFees(r.Context(), id); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "swept"})
}

func (c *Controller) HandleWithdrawHolding(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token   string `json:"token"`
		Account string `json:"account"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	tok, err := address(req.Token)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	account, err := address(req.Account)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	amount, err := c.App.Swaps.WithdrawHolding(r.Context(), tok, account)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"withdrawn": amount.String()})
}
