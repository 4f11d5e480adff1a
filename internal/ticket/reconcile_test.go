package ticket

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("mergeSnapshots", func() {
	It("should union disjoint snapshots", func() {
		local := []Ticket{makeTicket("1000", "Cafe X", "img-1.jpg", "3.50")}
		remote := []Ticket{makeTicket("2000", "Market Y", "img-2.jpg", "1.20")}

		merged := mergeSnapshots(local, remote)
		Expect(merged).To(HaveLen(2))
	})

	It("should keep the remote copy when both sets share an ID", func() {
		local := []Ticket{
			makeTicket("1000", "Cafe X", "img-1.jpg", "3.50"),
			makeTicket("2000", "Market Y", "img-2.jpg", "1.20"),
		}
		remote := []Ticket{
			makeTicket("1000", "Cafe X Renamed", "img-1.jpg", "3.50"),
			makeTicket("3000", "Bakery Z", "img-3.jpg", "2.00"),
		}

		merged := mergeSnapshots(local, remote)
		Expect(merged).To(HaveLen(3))

		byID := map[string]Ticket{}
		for _, t := range merged {
			byID[t.ID] = t
		}
		Expect(byID["1000"].Merchant).To(Equal("Cafe X Renamed"))
	})

	It("should absorb a local ticket whose image URI matches a remote one", func() {
		// Local record created before remote sync assigned it a stable ID
		local := []Ticket{makeTicket("1111", "Cafe X", "img-1.jpg", "3.50")}
		remote := []Ticket{makeTicket("2222", "Cafe X", "img-1.jpg", "3.50")}

		merged := mergeSnapshots(local, remote)
		Expect(merged).To(HaveLen(1))
		Expect(merged[0].ID).To(Equal("2222"))
	})

	It("should sort the merged set newest first", func() {
		local := []Ticket{makeTicket("1000", "Cafe X", "img-1.jpg", "3.50")}
		remote := []Ticket{
			makeTicket("3000", "Bakery Z", "img-3.jpg", "2.00"),
			makeTicket("2000", "Market Y", "img-2.jpg", "1.20"),
		}

		merged := mergeSnapshots(local, remote)
		Expect(merged[0].ID).To(Equal("3000"))
		Expect(merged[1].ID).To(Equal("2000"))
		Expect(merged[2].ID).To(Equal("1000"))
	})

	It("should order longer time-derived IDs before shorter ones", func() {
		// UnixNano IDs grow a digit at epoch boundaries; string length
		// decides before lexicographic order does.
		merged := mergeSnapshots(
			[]Ticket{makeTicket("999", "Cafe X", "img-1.jpg", "3.50")},
			[]Ticket{makeTicket("1000", "Market Y", "img-2.jpg", "1.20")},
		)
		Expect(merged[0].ID).To(Equal("1000"))
	})

	It("should recompute totals on every merged ticket", func() {
		stale := makeTicket("1000", "Cafe X", "img-1.jpg", "3.50", "1.50")
		stale.Total = dec("99.00")

		merged := mergeSnapshots(nil, []Ticket{stale})
		Expect(merged[0].Total).To(Equal(dec("5.00")))
	})

	It("should handle empty snapshots", func() {
		Expect(mergeSnapshots(nil, nil)).To(BeEmpty())
	})
})
