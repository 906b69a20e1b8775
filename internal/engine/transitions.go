package engine

import "github.com/kiranshivaraju/agentbazaar/pkg/models"

type statusSet map[string]bool

func statuses(ss ...string) statusSet {
	set := make(statusSet, len(ss))
	for _, s := range ss {
		set[s] = true
	}
	return set
}

func (s statusSet) has(status string) bool { return s[status] }

var (
	// Jobs that accept new bids.
	biddableJobs = statuses(models.JobStatusOpen, models.JobStatusPosted, models.JobStatusBidding)

	// Jobs a bid can be directly assigned on. An awaiting_approval job only
	// reaches assigned through Approve.
	assignableJobs = statuses(models.JobStatusOpen, models.JobStatusPosted, models.JobStatusBidding,
		models.JobStatusNegotiating)

	// Pre-assignment jobs: negotiation, approval and cancellation happen here.
	preAssignJobs = statuses(models.JobStatusOpen, models.JobStatusPosted, models.JobStatusBidding,
		models.JobStatusNegotiating, models.JobStatusAwaitingApproval)

	// Settled jobs whose disbursement can be retried.
	settledJobs = statuses(models.JobStatusCompleted, models.JobStatusDisputed, models.JobStatusCancelled)

	assignableBids = statuses(models.BidStatusPending, models.BidStatusCounterAccepted)

	negotiableBids = statuses(models.BidStatusPending, models.BidStatusCounterOffered,
		models.BidStatusAwaitingApproval)
)

func jobStateErr(job *models.Job, op string) error {
	return &InvalidStateError{Entity: "job", ID: job.ID, State: job.Status, Op: op}
}

func bidStateErr(bid *models.Bid, op string) error {
	return &InvalidStateError{Entity: "bid", ID: bid.ID, State: bid.Status, Op: op}
}

// canNegotiate reports whether a counter-offer may be appended. A bid whose
// final price is set has concluded negotiation.
func canNegotiate(bid *models.Bid) bool {
	return negotiableBids.has(bid.Status) && bid.FinalPrice == nil
}

// awaitsApproval reports whether bid is held by the approval gate: parked in
// awaiting_approval, or still pending with a price at or above the threshold.
func awaitsApproval(bid *models.Bid) bool {
	switch bid.Status {
	case models.BidStatusAwaitingApproval:
		return true
	case models.BidStatusPending:
		return bid.RequiresApproval && bid.ApprovedBy == nil
	}
	return false
}

// deref renders an optional id for logging.
func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// negotiationPhase derives the pre-assignment job status from the bids that
// have entered negotiation. Bids without counter-offers do not hold the job.
func negotiationPhase(job *models.Job, bids []*models.Bid) string {
	phase := models.JobStatusBidding
	if job.BidCount == 0 {
		phase = job.Status
	}
	for _, b := range bids {
		if b.IsTerminal() || len(b.CounterOffers) == 0 {
			continue
		}
		switch b.Status {
		case models.BidStatusAwaitingApproval:
			return models.JobStatusAwaitingApproval
		case models.BidStatusCounterOffered, models.BidStatusCounterAccepted:
			phase = models.JobStatusNegotiating
		}
	}
	return phase
}

// syncPhase updates a pre-assignment job to the status its bids imply and
// reports whether the job changed.
func syncPhase(job *models.Job, bids []*models.Bid) bool {
	if !preAssignJobs.has(job.Status) {
		return false
	}
	next := negotiationPhase(job, bids)
	if next == job.Status {
		return false
	}
	job.Status = next
	return true
}

// replaceBid returns bids with the entry matching b.ID swapped for b.
func replaceBid(bids []*models.Bid, b *models.Bid) []*models.Bid {
	out := make([]*models.Bid, 0, len(bids))
	found := false
	for _, cur := range bids {
		if cur.ID == b.ID {
			out = append(out, b)
			found = true
			continue
		}
		out = append(out, cur)
	}
	if !found {
		out = append(out, b)
	}
	return out
}
