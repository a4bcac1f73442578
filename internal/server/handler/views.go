package handler

import (
	"time"

	"github.com/alanyoungcy/sharemarket/internal/domain"
)

// View types render domain objects as JSON. All wei amounts are decimal
// strings so they survive JSON number precision.

type agreementView struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	Symbol           string `json:"symbol"`
	TotalTokenSupply int64  `json:"total_token_supply"`
	TokenStandard    string `json:"token_standard"`
	TokenContract    string `json:"token_contract"`
	TokenUnitID      string `json:"token_unit_id,omitempty"`
	OwnerAddress     string `json:"owner_address"`
	CreatedAt        string `json:"created_at"`
}

func toAgreementView(a domain.Agreement) agreementView {
	v := agreementView{
		ID:               a.ID,
		Name:             a.Name,
		Symbol:           a.Symbol,
		TotalTokenSupply: a.TotalTokenSupply,
		TokenStandard:    string(a.TokenStandard),
		TokenContract:    a.TokenContract,
		OwnerAddress:     a.OwnerAddress,
		CreatedAt:        a.CreatedAt.Format(time.RFC3339),
	}
	if a.TokenUnitID != nil {
		v.TokenUnitID = a.TokenUnitID.String()
	}
	return v
}

type balanceView struct {
	HolderAddress string `json:"holder_address"`
	AgreementID   string `json:"agreement_id"`
	BalanceWei    string `json:"balance_wei"`
	ReservedWei   string `json:"reserved_wei"`
	AvailableWei  string `json:"available_wei"`
}

func toBalanceView(b domain.ShareBalance) balanceView {
	return balanceView{
		HolderAddress: b.HolderAddress,
		AgreementID:   b.AgreementID,
		BalanceWei:    b.BalanceWei.String(),
		ReservedWei:   b.ReservedWei.String(),
		AvailableWei:  b.AvailableWei().String(),
	}
}

type listingView struct {
	ID            string `json:"id"`
	AgreementID   string `json:"agreement_id"`
	SellerAddress string `json:"seller_address"`
	SharesForSale string `json:"shares_for_sale_wei"`
	PricePerShare string `json:"price_per_share_wei"`
	Status        string `json:"status"`
	ExpiresAt     string `json:"expires_at,omitempty"`
	CreatedAt     string `json:"created_at"`
}

func toListingView(l domain.Listing) listingView {
	v := listingView{
		ID:            l.ID,
		AgreementID:   l.AgreementID,
		SellerAddress: l.SellerAddress,
		SharesForSale: l.SharesForSale.String(),
		PricePerShare: l.PricePerShare.String(),
		Status:        string(l.Status),
		CreatedAt:     l.CreatedAt.Format(time.RFC3339),
	}
	if l.ExpiresAt != nil {
		v.ExpiresAt = l.ExpiresAt.Format(time.RFC3339)
	}
	return v
}

type tradeView struct {
	ID              string `json:"id"`
	ListingID       string `json:"listing_id"`
	AgreementID     string `json:"agreement_id"`
	SellerAddress   string `json:"seller_address"`
	BuyerAddress    string `json:"buyer_address"`
	SharesPurchased string `json:"shares_purchased_wei"`
	PricePerShare   string `json:"price_per_share_wei"`
	TxHash          string `json:"tx_hash"`
	GasUsed         uint64 `json:"gas_used"`
	ExecutedAt      string `json:"executed_at"`
}

func toTradeView(t domain.Trade) tradeView {
	return tradeView{
		ID:              t.ID,
		ListingID:       t.ListingID,
		AgreementID:     t.AgreementID,
		SellerAddress:   t.SellerAddress,
		BuyerAddress:    t.BuyerAddress,
		SharesPurchased: t.SharesPurchased.String(),
		PricePerShare:   t.PricePerShare.String(),
		TxHash:          t.TxHash,
		GasUsed:         t.GasUsed,
		ExecutedAt:      t.ExecutedAt.Format(time.RFC3339),
	}
}

type proposalView struct {
	ID              string `json:"id"`
	AgreementID     string `json:"agreement_id"`
	ProposerAddress string `json:"proposer_address"`
	Type            string `json:"type"`
	ParameterKey    string `json:"parameter_key,omitempty"`
	TargetValue     int64  `json:"target_value"`
	Description     string `json:"description"`
	VotingStart     string `json:"voting_start"`
	VotingEnd       string `json:"voting_end"`
	ForVotes        string `json:"for_votes_wei"`
	AgainstVotes    string `json:"against_votes_wei"`
	AbstainVotes    string `json:"abstain_votes_wei"`
	QuorumRequired  string `json:"quorum_required_wei"`
	Status          string `json:"status"`
	ExecutionTxHash string `json:"execution_tx_hash,omitempty"`
	CreatedAt       string `json:"created_at"`
}

func toProposalView(p domain.Proposal) proposalView {
	return proposalView{
		ID:              p.ID,
		AgreementID:     p.AgreementID,
		ProposerAddress: p.ProposerAddress,
		Type:            string(p.Type),
		ParameterKey:    p.ParameterKey,
		TargetValue:     p.TargetValue,
		Description:     p.Description,
		VotingStart:     p.VotingStart.Format(time.RFC3339),
		VotingEnd:       p.VotingEnd.Format(time.RFC3339),
		ForVotes:        p.ForVotes.String(),
		AgainstVotes:    p.AgainstVotes.String(),
		AbstainVotes:    p.AbstainVotes.String(),
		QuorumRequired:  p.QuorumRequired.String(),
		Status:          string(p.Status),
		ExecutionTxHash: p.ExecutionTxHash,
		CreatedAt:       p.CreatedAt.Format(time.RFC3339),
	}
}

type voteView struct {
	ProposalID   string `json:"proposal_id"`
	VoterAddress string `json:"voter_address"`
	Support      string `json:"support"`
	VotingPower  string `json:"voting_power_wei"`
	VotedAt      string `json:"voted_at"`
}

func toVoteView(v domain.Vote) voteView {
	return voteView{
		ProposalID:   v.ProposalID,
		VoterAddress: v.VoterAddress,
		Support:      string(v.Support),
		VotingPower:  v.VotingPower.String(),
		VotedAt:      v.VotedAt.Format(time.RFC3339),
	}
}

type diffView struct {
	HolderAddress string `json:"holder_address"`
	LedgerWei     string `json:"ledger_wei"`
	ChainWei      string `json:"chain_wei"`
	DeltaWei      string `json:"delta_wei"`
	Action        string `json:"action"`
}

type planView struct {
	ID           string     `json:"id"`
	AgreementID  string     `json:"agreement_id"`
	Diffs        []diffView `json:"diffs"`
	ConfirmToken string     `json:"confirm_token,omitempty"`
	Status       string     `json:"status"`
	CreatedAt    string     `json:"created_at"`
	AppliedAt    string     `json:"applied_at,omitempty"`
}

// toPlanView renders a plan. The confirmation token is included only for
// the response to the Plan call itself (includeToken); reads of stored
// plans omit it so the token stays between the planner and the applier.
func toPlanView(p domain.ReconciliationPlan, includeToken bool) planView {
	diffs := make([]diffView, 0, len(p.Diffs))
	for _, d := range p.Diffs {
		diffs = append(diffs, diffView{
			HolderAddress: d.HolderAddress,
			LedgerWei:     d.LedgerWei.String(),
			ChainWei:      d.ChainWei.String(),
			DeltaWei:      d.DeltaWei.String(),
			Action:        string(d.Action),
		})
	}
	v := planView{
		ID:          p.ID,
		AgreementID: p.AgreementID,
		Diffs:       diffs,
		Status:      string(p.Status),
		CreatedAt:   p.CreatedAt.Format(time.RFC3339),
	}
	if includeToken {
		v.ConfirmToken = p.ConfirmToken
	}
	if p.AppliedAt != nil {
		v.AppliedAt = p.AppliedAt.Format(time.RFC3339)
	}
	return v
}

type overListingView struct {
	SellerAddress string   `json:"seller_address"`
	AgreementID   string   `json:"agreement_id"`
	BalanceWei    string   `json:"balance_wei"`
	ListedWei     string   `json:"listed_wei"`
	ExcessWei     string   `json:"excess_wei"`
	ListingIDs    []string `json:"listing_ids"`
}

func toOverListingView(o domain.OverListing) overListingView {
	return overListingView{
		SellerAddress: o.SellerAddress,
		AgreementID:   o.AgreementID,
		BalanceWei:    o.BalanceWei.String(),
		ListedWei:     o.ListedWei.String(),
		ExcessWei:     o.ExcessWei.String(),
		ListingIDs:    o.ListingIDs,
	}
}
