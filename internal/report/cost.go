package report

import (
	"strings"

	"github.com/fyrsmithlabs/retrospect/internal/claude"
)

// pricing is USD per million tokens, keyed by model family substring.
type pricing struct {
	family string
	input  float64
	output float64
}

// Order matters: more specific families first.
var priceTable = []pricing{
	{family: "haiku", input: 0.80, output: 4.00},
	{family: "sonnet", input: 3.00, output: 15.00},
	{family: "opus", input: 15.00, output: 75.00},
}

// EstimateCost converts accumulated token usage into an approximate USD
// cost for the given model. Unknown models estimate at sonnet rates.
func EstimateCost(model string, usage claude.Usage) float64 {
	in, out := 3.00, 15.00
	for _, p := range priceTable {
		if strings.Contains(model, p.family) {
			in, out = p.input, p.output
			break
		}
	}
	return float64(usage.InputTokens)*in/1e6 + float64(usage.OutputTokens)*out/1e6
}
