package extract

import (
	"fmt"
	"strings"
)

type cardFixture struct {
	status      string
	address     string
	homeType    string
	price       string
	marketValue string
	auctionDate string
	tenure      string
	landArea    string
	created     string
	investors   string
}

func sampleCard(i int) cardFixture {
	return cardFixture{
		status:      "Active",
		address:     fmt.Sprintf("No. %d, Jalan Ampang, Kuala Lumpur", i),
		homeType:    "Condominium",
		price:       "RM 350,000.00",
		marketValue: "RM 420,000.00",
		auctionDate: "15/03/2024",
		tenure:      "Freehold",
		landArea:    "1,200 sq.ft",
		created:     "01/02/2024",
		investors:   "3",
	}
}

func renderCard(c cardFixture) string {
	var b strings.Builder
	b.WriteString(`<div class="col-xs-12 col-sm-6 col-md-4"><table>`)
	fmt.Fprintf(&b, `<tr><td><span class="lblStatus">%s</span></td></tr>`, c.status)
	if c.address != "" {
		fmt.Fprintf(&b, `<tr><td class="three_row"> %s </td></tr>`, c.address)
	}
	fmt.Fprintf(&b, `<tr><td class="grey-font">%s</td></tr>`, c.homeType)
	fmt.Fprintf(&b, `<tr><td><span class="market-price">%s</span>`, c.price)
	if c.marketValue != "" {
		fmt.Fprintf(&b, ` <small>(Market Value: %s)</small>`, c.marketValue)
	}
	b.WriteString(`</td></tr></table>`)
	fmt.Fprintf(&b, `<label>Auction Date: %s</label>`, c.auctionDate)
	fmt.Fprintf(&b, `<label>Tenure: %s</label>`, c.tenure)
	fmt.Fprintf(&b, `<label>Land Area: %s</label>`, c.landArea)
	fmt.Fprintf(&b, `<label>Created Date: %s</label>`, c.created)
	if c.investors != "" {
		fmt.Fprintf(&b, `<span class="lblTotalRegisteredCustomer">%s</span>`, c.investors)
	}
	b.WriteString(`</div>`)
	return b.String()
}

// renderPage builds a results page. total < 0 omits the record count.
func renderPage(cards []cardFixture, total int, next bool) string {
	var b strings.Builder
	b.WriteString(`<html><body><article>`)
	for _, c := range cards {
		b.WriteString(renderCard(c))
	}
	b.WriteString(`</article>`)
	b.WriteString(`<ul class="pagination"><li><a href="#">Previous</a></li>`)
	if next {
		b.WriteString(`<li><a href="#"> Next </a></li>`)
	}
	b.WriteString(`</ul>`)
	if total >= 0 {
		fmt.Fprintf(&b, `<div class="widget-footer">Showing %d records</div>`, total)
	} else {
		b.WriteString(`<div class="widget-footer">No results</div>`)
	}
	b.WriteString(`</body></html>`)
	return b.String()
}

// paginate splits n sample cards into pages of size per.
func paginate(n, per, total int) []string {
	var pages []string
	for start := 0; start < n || len(pages) == 0; start += per {
		end := min(start+per, n)
		cards := make([]cardFixture, 0, end-start)
		for i := start; i < end; i++ {
			cards = append(cards, sampleCard(i+1))
		}
		pages = append(pages, renderPage(cards, total, end < n))
	}
	return pages
}
