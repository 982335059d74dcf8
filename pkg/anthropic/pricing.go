package anthropic

// Usage counts the tokens of one call.
type Usage struct {
	Input      int64
	Output     int64
	CacheWrite int64
	CacheRead  int64
}

type price struct{ input, output float64 } // USD per million tokens

var prices = map[string]price{
	"claude-haiku-4-5-20251001":  {1, 5},
	"claude-sonnet-4-5-20250929": {3, 15},
	"claude-opus-4-1-20250805":   {15, 75},
}

// Cache writes bill at 1.25x the input rate, cache reads at 0.1x.
const (
	cacheWriteRate = 1.25
	cacheReadRate  = 0.1
)

// Cost estimates the USD cost of u on model. Unknown models cost 0.
func (u Usage) Cost(model string) float64 {
	p, ok := prices[model]
	if !ok {
		return 0
	}
	input := float64(u.Input) + float64(u.CacheWrite)*cacheWriteRate + float64(u.CacheRead)*cacheReadRate
	return (input*p.input + float64(u.Output)*p.output) / 1e6
}
