package rpcserver

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/aelahi23/Corda-BNO-membership/contracts"
	"github.com/aelahi23/Corda-BNO-membership/identity"
	"github.com/aelahi23/Corda-BNO-membership/ledger"
	"github.com/aelahi23/Corda-BNO-membership/membership"
)

type TransactionResponse struct {
	TxID string `json:"txId"`
	// Ref points at the first output, the asset for issues and transfers.
	Ref string `json:"ref"`
}

type AssetResponse struct {
	Ref     string        `json:"ref"`
	TokenID string        `json:"tokenId"`
	Owner   identity.Name `json:"owner"`
}

type AssetsResponse struct {
	Assets []AssetResponse    `json:"assets"`
	Cash   map[string]uint64 `json:"cash"`
}

type TransferRequest struct {
	Ref          string        `json:"ref"`
	Counterparty identity.Name `json:"counterparty"`
	Quantity     uint64        `json:"quantity"`
	Currency     string        `json:"currency"`
}

type MembershipRequest struct {
	Metadata map[string]string `json:"metadata"`
}

type ConfigResponse struct {
	Version          uint64          `json:"version"`
	TrustedBNO       identity.Name   `json:"trustedBNO"`
	WhitelistedBNOs  []identity.Name `json:"whitelistedBNOs"`
	Notary           identity.Name   `json:"notary"`
	MembershipPolicy string          `json:"membershipPolicy"`
}

func transactionResponse(stx *ledger.SignedTransaction) (*TransactionResponse, error) {
	id, err := stx.ID()
	if err != nil {
		return nil, err
	}
	return &TransactionResponse{TxID: id.String(), Ref: ledger.OutRef(id, 0).String()}, nil
}

func (s *Server) issueHandler(w http.ResponseWriter, r *http.Request) {
	n, ok := s.party(w, r)
	if !ok {
		return
	}
	stx, err := n.Flows().Issue(flowContext(r))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	resp, err := transactionResponse(stx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) assetsHandler(w http.ResponseWriter, r *http.Request) {
	n, ok := s.party(w, r)
	if !ok {
		return
	}
	me := n.Name()
	resp := AssetsResponse{Assets: []AssetResponse{}, Cash: make(map[string]uint64)}

	assets, err := n.Vault().Unconsumed(contracts.AssetContractName, me)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	for _, sar := range assets {
		asset, err := contracts.DecodeAsset(sar.State)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		resp.Assets = append(resp.Assets, AssetResponse{Ref: sar.Ref.String(), TokenID: asset.TokenID, Owner: asset.Owner})
	}

	cash, err := n.Vault().Unconsumed(contracts.CashContractName, me)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	for _, sar := range cash {
		c, err := contracts.DecodeCash(sar.State)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		resp.Cash[c.Amount.Currency] += c.Amount.Quantity
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) transferHandler(w http.ResponseWriter, r *http.Request) {
	n, ok := s.party(w, r)
	if !ok {
		return
	}
	var req TransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("error decoding request: %v", err))
		return
	}
	ref, err := ledger.ParseStateRef(req.Ref)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Counterparty == "" || req.Quantity == 0 || req.Currency == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("counterparty, quantity and currency are required"))
		return
	}
	amount := contracts.Amount{Quantity: req.Quantity, Currency: req.Currency}

	stx, err := n.Flows().Transfer(flowContext(r), ref, req.Counterparty, amount)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	resp, err := transactionResponse(stx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) requestMembershipHandler(w http.ResponseWriter, r *http.Request) {
	n, ok := s.party(w, r)
	if !ok {
		return
	}
	var req MembershipRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("error decoding request: %v", err))
			return
		}
	}
	record, err := n.Flows().RequestMembership(flowContext(r), req.Metadata)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) reloadHandler(w http.ResponseWriter, r *http.Request) {
	n, ok := s.node(w, r)
	if !ok {
		return
	}
	p := n.Protocol()
	if p == nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("%s has no protocol config", n.Name()))
		return
	}
	c, err := p.Reload()
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	writeJSON(w, http.StatusOK, ConfigResponse{
		Version:          c.Version,
		TrustedBNO:       c.TrustedBNO,
		WhitelistedBNOs:  c.WhitelistedBNOs(),
		Notary:           c.Notary,
		MembershipPolicy: string(c.MembershipPolicy),
	})
}

func (s *Server) flowHandler(w http.ResponseWriter, r *http.Request) {
	n, ok := s.party(w, r)
	if !ok {
		return
	}
	id := mux.Vars(r)["id"]
	c, err := n.Flows().Checkpoint(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if c == nil {
		writeError(w, http.StatusNotFound, fmt.Errorf("no flow %s", id))
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) membershipsHandler(w http.ResponseWriter, r *http.Request) {
	n, ok := s.bno(w, r)
	if !ok {
		return
	}
	records, err := n.Membership().Records()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) membershipActionHandler(w http.ResponseWriter, r *http.Request) {
	n, ok := s.bno(w, r)
	if !ok {
		return
	}
	vars := mux.Vars(r)
	party := identity.Name(vars["party"])
	svc := n.Membership()

	var (
		record *membership.Record
		err    error
	)
	switch vars["action"] {
	case "activate":
		record, err = svc.Activate(r.Context(), party)
	case "suspend":
		record, err = svc.Suspend(r.Context(), party)
	case "revoke":
		err = svc.Revoke(r.Context(), party)
	default:
		writeError(w, http.StatusBadRequest, fmt.Errorf("unknown action %q, must be one of activate, suspend, revoke", vars["action"]))
		return
	}
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	if record == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, record)
}
