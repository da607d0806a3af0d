package controller

import (
	"net/http"

	"github.com/go-jose/go-jose/v4/json"
)

// HandleBankBalance reports an account's balance in one token.
func (c *Controller) HandleBankBalance(w http.ResponseWriter, r *http.Request) {
	account, err := address(r.URL.Query().Get("account"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	tok, err := address(r.URL.Query().Get("token"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"account": account.Hex(),
		"token":   tok.Hex(),
		"balance": c.App.Bank.Balance(account, tok).String(),
	})
}

// HandleBankDeposit mints balance into an account. Admin only; this is the
// on-ramp for operators and tests, there is no external chain to pull from.
func (c *Controller) HandleBankDeposit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Account string `json:"account"`
		Token   string `json:"token"`
		Amount  string `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	account, err := address(req.Account)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	tok, err := address(req.Token)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	amount, err := bigInt(req.Amount)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	c.App.Bank.Mint(account, tok, amount)
	writeJSON(w, http.StatusOK, map[string]string{
		"account": account.Hex(),
		"token":   tok.Hex(),
		"balance": c.App.Bank.Balance(account, tok).String(),
	})
}
