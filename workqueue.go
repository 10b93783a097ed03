package main

import (
	"context"
	"sort"
)

type workItem struct {
	Address   string
	Challenge queuedChallenge
	Donation  bool
}

// key identifies one unit of dispatch; the in-progress set and the expiry
// tracker both index by it.
func (w workItem) key() string {
	return w.Address + "-" + w.Challenge.ChallengeID
}

// donationSource hands out a fresh donation address per item. May be
// unavailable; the queue then carries regular items only.
type donationSource interface {
	DonationAddress(ctx context.Context) (string, error)
}

type workQueueBuilder struct {
	ledger    *solutionsLedger
	donations donationSource
}

func newWorkQueueBuilder(ledger *solutionsLedger, donations donationSource) *workQueueBuilder {
	return &workQueueBuilder{ledger: ledger, donations: donations}
}

// build joins addresses x challenges minus the solved pairs, easiest
// challenge first (descending difficulty popcount). Every
// donationEveryNItems regular items a donation item for the easiest
// challenge is interleaved, each with a freshly fetched address.
func (b *workQueueBuilder) build(ctx context.Context, addresses []string, challenges []queuedChallenge) []workItem {
	if len(addresses) == 0 || len(challenges) == 0 {
		return nil
	}

	ordered := append([]queuedChallenge(nil), challenges...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return difficultyBits(ordered[i].Difficulty) > difficultyBits(ordered[j].Difficulty)
	})
	easiest := ordered[0]

	var queue []workItem
	donationsAvailable := b.donations != nil
	sinceDonation := 0

	for _, challenge := range ordered {
		for _, address := range addresses {
			if b.ledger.hasSolution(address, challenge.ChallengeID) {
				continue
			}
			queue = append(queue, workItem{Address: address, Challenge: challenge})
			sinceDonation++

			if donationsAvailable && sinceDonation >= donationEveryNItems {
				donationAddr, err := b.donations.DonationAddress(ctx)
				if err != nil {
					logger.Debug("donation address unavailable", "error", err)
					donationsAvailable = false
					continue
				}
				queue = append(queue, workItem{Address: donationAddr, Challenge: easiest, Donation: true})
				sinceDonation = 0
			}
		}
	}
	return queue
}
