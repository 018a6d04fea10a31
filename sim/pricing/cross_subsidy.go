// Package pricing searches per-market-class price multipliers so the
// consumer share model reproduces the producer's absolute shares while
// total revenue matches total cost.
package pricing

import (
	"errors"
	"fmt"
	"math"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/floats"

	"github.com/vehicle-sim/vehicle-sim/sim"
	"github.com/vehicle-sim/vehicle-sim/sim/consumer"
	"github.com/vehicle-sim/vehicle-sim/sim/trace"
)

// minHalfWidth stops narrowing once the multiplier window has collapsed.
const minHalfWidth = 1e-7

// Options are the cross-subsidy search settings.
type Options struct {
	MultiplierMin  float64
	MultiplierMax  float64
	NumOptions     int
	MaxIterations  int
	PriceTolerance float64
	ShareTolerance float64
}

// OptionsFrom extracts the pricing settings from session options.
func OptionsFrom(o sim.SessionOptions) Options {
	return Options{
		MultiplierMin:  o.ConsumerPricingMultiplierMin,
		MultiplierMax:  o.ConsumerPricingMultiplierMax,
		NumOptions:     o.ConsumerPricingNumOptions,
		MaxIterations:  o.ConsumerPricingMaxIterations,
		PriceTolerance: o.ConsumerPriceTolerance,
		ShareTolerance: o.ConsumerShareTolerance,
	}
}

// ClassInput is the producer side of one market class.
type ClassInput struct {
	ProducerAbsShare  float64
	AverageCost       float64
	CO2eGPMI          float64
	KWhPMI            float64
	LiquidFuelPrice   float64
	CarbonIntensity   float64
	RefuelEfficiency  float64
	ElectricityPrice  float64
	PriceModification float64
	NoAltFloor        float64
	// Bounds are absolute share bounds; the share model sees them relative
	// to the parent.
	Bounds *sim.ShareBounds
}

// Input is one producer candidate to be priced.
type Input struct {
	ManufacturerID string
	Year           int
	OuterIteration int
	Tree           *sim.MarketTree
	ParentShares   map[string]float64
	Classes        map[string]ClassInput
	ShareModel     *consumer.ShareModel
	Options        Options
	Trace          *trace.SimulationTrace
}

// Result is the priced consumer response.
type Result struct {
	Response *sim.ConsumerResponse
	// Multipliers is the chosen cost multiplier per market class.
	Multipliers map[string]float64
}

// parentEval is one scored multiplier vector within a parent.
type parentEval struct {
	mult       []float64
	shares     consumer.ParentResult
	shareDelta float64
	ratio      float64 // Σ price·share / Σ cost·share within the parent
	score      float64
	deviation  float64 // Σ |m − 1|
}

// CrossSubsidize runs the multiplier search independently for every
// responsive parent and assembles the consumer response.
func CrossSubsidize(in Input) (*Result, error) {
	if in.Tree == nil || in.ShareModel == nil {
		return nil, errors.New("cross-subsidy needs a market tree and a share model")
	}
	opts := in.Options
	if opts.NumOptions < 2 {
		opts.NumOptions = 2
	}
	if opts.MaxIterations < 1 {
		opts.MaxIterations = 1
	}
	if opts.MultiplierMax < opts.MultiplierMin {
		return nil, fmt.Errorf("%w: multiplier max %v below min %v", sim.ErrInputValidation, opts.MultiplierMax, opts.MultiplierMin)
	}

	res := &Result{Response: &sim.ConsumerResponse{}, Multipliers: make(map[string]float64)}
	maxIter := 0
	for _, p := range in.Tree.ResponsiveParents() {
		leaves := p.LeafIDs()
		best, iterations, err := searchParent(in, opts, p.ID, leaves)
		if err != nil {
			return nil, err
		}
		if iterations > maxIter {
			maxIter = iterations
		}
		for i, id := range leaves {
			c := in.Classes[id]
			child := best.shares.Children[i]
			price := c.AverageCost * best.mult[i]
			noAlt, alt := consumer.DistributeAltShares(child.AbsShare, c.NoAltFloor)
			res.Multipliers[id] = best.mult[i]
			res.Response.MarketClasses = append(res.Response.MarketClasses, sim.MarketClassResponse{
				MarketClassID:        id,
				AbsShare:             child.AbsShare,
				RelShare:             child.RelShare,
				CostMultiplier:       best.mult[i],
				AverageCost:          c.AverageCost,
				CrossSubsidizedPrice: price,
				ModifiedPrice:        price + c.PriceModification,
				GeneralizedCost:      child.GeneralizedCost,
				NoAltAbsShare:        noAlt,
				AltAbsShare:          alt,
				Constrained:          child.Constrained,
			})
		}
	}
	sortResponses(res.Response.MarketClasses)
	finishResponse(res.Response, in.Classes, opts)
	res.Response.Iterations = maxIter
	return res, nil
}

// finishResponse fills the totals and the convergence flag.
func finishResponse(r *sim.ConsumerResponse, classes map[string]ClassInput, opts Options) {
	num, den := 0.0, 0.0
	converged := true
	for _, m := range r.MarketClasses {
		num += m.CrossSubsidizedPrice * m.AbsShare
		den += m.AverageCost * m.AbsShare
		d := math.Abs(classes[m.MarketClassID].ProducerAbsShare - m.AbsShare)
		r.ShareDeltaTotal += d
		if d > opts.ShareTolerance {
			converged = false
		}
	}
	r.PriceCostRatioTotal = 1
	if den > 0 {
		r.PriceCostRatioTotal = num / den
	}
	r.ConvergenceScore = r.ShareDeltaTotal + math.Abs(r.PriceCostRatioTotal-1)
	r.Converged = converged && math.Abs(1-r.PriceCostRatioTotal) <= opts.PriceTolerance
}

func searchParent(in Input, opts Options, parentID string, leaves []string) (*parentEval, int, error) {
	parentShare := in.ParentShares[parentID]
	k := len(leaves)
	if k == 1 {
		e, err := evaluate(in, parentID, parentShare, leaves, []float64{1})
		return e, 0, err
	}

	center := make([]float64, k)
	for i := range center {
		center[i] = 1
	}
	half := (opts.MultiplierMax - opts.MultiplierMin) / 2
	mid := (opts.MultiplierMax + opts.MultiplierMin) / 2

	var best *parentEval
	iter := 0
	for ; iter < opts.MaxIterations; iter++ {
		grids := make([][]float64, k)
		for i := range grids {
			c := mid
			if iter > 0 {
				c = center[i]
			}
			grids[i] = multiplierGrid(opts, c, half)
		}
		var iterBest *parentEval
		idx := make([]int, k)
		for {
			mult := make([]float64, k)
			for i := range mult {
				mult[i] = grids[i][idx[i]]
			}
			e, err := evaluate(in, parentID, parentShare, leaves, mult)
			if err != nil {
				return nil, iter, err
			}
			if iterBest == nil || lessEval(e, iterBest) {
				iterBest = e
			}
			j := 0
			for ; j < k; j++ {
				idx[j]++
				if idx[j] < len(grids[j]) {
					break
				}
				idx[j] = 0
			}
			if j == k {
				break
			}
		}
		if best == nil || lessEval(iterBest, best) {
			best = iterBest
		}
		record(in, iter, parentID, leaves, best)
		copy(center, best.mult)

		if parentConverged(in, opts, leaves, best) {
			iter++
			break
		}
		half /= 2
		if half < minHalfWidth {
			iter++
			break
		}
	}
	logrus.WithFields(logrus.Fields{
		"manufacturer": in.ManufacturerID,
		"year":         in.Year,
		"parent":       parentID,
		"iterations":   iter,
		"score":        best.score,
	}).Debug("cross-subsidy search")
	return best, iter, nil
}

// multiplierGrid spans [c − half, c + half] clipped to the configured range,
// always including 1 when it is reachable.
func multiplierGrid(opts Options, c, half float64) []float64 {
	lo := math.Max(opts.MultiplierMin, c-half)
	hi := math.Min(opts.MultiplierMax, c+half)
	if hi-lo <= minHalfWidth {
		return []float64{clamp(c, opts.MultiplierMin, opts.MultiplierMax)}
	}
	g := make([]float64, opts.NumOptions)
	floats.Span(g, lo, hi)
	g = append(g, c)
	if lo <= 1 && 1 <= hi {
		g = append(g, 1)
	}
	return uniqueSorted(g)
}

func evaluate(in Input, parentID string, parentShare float64, leaves []string, mult []float64) (*parentEval, error) {
	children := make([]consumer.ChildInput, len(leaves))
	for i, id := range leaves {
		c, ok := in.Classes[id]
		if !ok {
			return nil, fmt.Errorf("cross-subsidy: no producer data for market class %q", id)
		}
		bounds := sim.Unbounded
		if c.Bounds != nil && parentShare > 0 {
			bounds = sim.ShareBounds{
				Min: clamp(c.Bounds.Min/parentShare, 0, 1),
				Max: clamp(c.Bounds.Max/parentShare, 0, 1),
			}
		}
		children[i] = consumer.ChildInput{
			MarketClassID:    id,
			Price:            c.AverageCost*mult[i] + c.PriceModification,
			CO2eGPMI:         c.CO2eGPMI,
			KWhPMI:           c.KWhPMI,
			LiquidFuelPrice:  c.LiquidFuelPrice,
			CarbonIntensity:  c.CarbonIntensity,
			RefuelEfficiency: c.RefuelEfficiency,
			ElectricityPrice: c.ElectricityPrice,
			Bounds:           bounds,
		}
	}
	if len(leaves) == 1 {
		// single child: the unmodified producer cost is the price
		children[0].Price = in.Classes[leaves[0]].AverageCost
	}
	shares, err := in.ShareModel.ParentShares(parentID, parentShare, in.Year, children)
	if err != nil {
		return nil, err
	}
	e := &parentEval{mult: mult, shares: shares, ratio: 1}
	num, den := 0.0, 0.0
	for i, id := range leaves {
		c := in.Classes[id]
		s := shares.Children[i].AbsShare
		e.shareDelta += math.Abs(c.ProducerAbsShare - s)
		num += c.AverageCost * mult[i] * s
		den += c.AverageCost * s
		e.deviation += math.Abs(mult[i] - 1)
	}
	if den > 0 {
		e.ratio = num / den
	}
	e.score = e.shareDelta + math.Abs(e.ratio-1)
	return e, nil
}

// lessEval orders by score, then by distance from unit multipliers.
func lessEval(a, b *parentEval) bool {
	if a.score != b.score {
		return a.score < b.score
	}
	return a.deviation < b.deviation
}

func parentConverged(in Input, opts Options, leaves []string, e *parentEval) bool {
	if math.Abs(1-e.ratio) > opts.PriceTolerance {
		return false
	}
	for i, id := range leaves {
		if math.Abs(in.Classes[id].ProducerAbsShare-e.shares.Children[i].AbsShare) > opts.ShareTolerance {
			return false
		}
	}
	return true
}

func record(in Input, iter int, parentID string, leaves []string, e *parentEval) {
	if in.Trace == nil {
		return
	}
	mult := make([]trace.ClassValue, len(leaves))
	prod := make([]trace.ClassValue, len(leaves))
	cons := make([]trace.ClassValue, len(leaves))
	for i, id := range leaves {
		mult[i] = trace.ClassValue{MarketClassID: id, Value: e.mult[i]}
		prod[i] = trace.ClassValue{MarketClassID: id, Value: in.Classes[id].ProducerAbsShare}
		cons[i] = trace.ClassValue{MarketClassID: id, Value: e.shares.Children[i].AbsShare}
	}
	in.Trace.RecordConsumer(trace.ConsumerIterationRecord{
		ManufacturerID:   in.ManufacturerID,
		CalendarYear:     in.Year,
		OuterIteration:   in.OuterIteration,
		PricingIteration: iter,
		ParentID:         parentID,
		Multipliers:      mult,
		ProducerShares:   prod,
		ConsumerShares:   cons,
		ShareDelta:       e.shareDelta,
		PriceCostRatio:   e.ratio,
		ConvergenceScore: e.score,
	})
}
