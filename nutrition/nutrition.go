// Package nutrition resolves food names to nutrient profiles using a
// built-in reference table of common foods, scaled by portion weight.
package nutrition

import (
	"context"
	"fmt"
	"math"
	"strings"

	"nutripilot"
	"nutripilot/state"
)

// profile is a per-100g nutrient breakdown.
type profile struct {
	Calories float64
	Protein  float64
	Carbs    float64
	Fat      float64
	Fiber    float64
	SodiumMg float64
}

// table holds per-100g reference values for common foods. Lookup keys are
// matched as substrings of the queried name, so "grilled chicken" resolves
// through "chicken".
var table = map[string]profile{
	"chicken":  {Calories: 165, Protein: 31, Carbs: 0, Fat: 3.6, Fiber: 0, SodiumMg: 74},
	"rice":     {Calories: 130, Protein: 2.7, Carbs: 28, Fat: 0.3, Fiber: 0.4, SodiumMg: 1},
	"broccoli": {Calories: 34, Protein: 2.8, Carbs: 7, Fat: 0.4, Fiber: 2.6, SodiumMg: 33},
	"salmon":   {Calories: 208, Protein: 20, Carbs: 0, Fat: 13, Fiber: 0, SodiumMg: 59},
	"egg":      {Calories: 155, Protein: 13, Carbs: 1.1, Fat: 11, Fiber: 0, SodiumMg: 124},
	"pasta":    {Calories: 131, Protein: 5, Carbs: 25, Fat: 1.1, Fiber: 1.8, SodiumMg: 1},
	"noodle":   {Calories: 138, Protein: 4.5, Carbs: 25, Fat: 2.1, Fiber: 1.2, SodiumMg: 5},
	"bread":    {Calories: 265, Protein: 9, Carbs: 49, Fat: 3.2, Fiber: 2.7, SodiumMg: 491},
	"toast":    {Calories: 293, Protein: 9.8, Carbs: 54, Fat: 3.9, Fiber: 3.1, SodiumMg: 536},
	"potato":   {Calories: 77, Protein: 2, Carbs: 17, Fat: 0.1, Fiber: 2.2, SodiumMg: 6},
	"beef":     {Calories: 250, Protein: 26, Carbs: 0, Fat: 15, Fiber: 0, SodiumMg: 72},
	"steak":    {Calories: 252, Protein: 27, Carbs: 0, Fat: 15, Fiber: 0, SodiumMg: 54},
	"pork":     {Calories: 242, Protein: 27, Carbs: 0, Fat: 14, Fiber: 0, SodiumMg: 62},
	"tofu":     {Calories: 76, Protein: 8, Carbs: 1.9, Fat: 4.8, Fiber: 0.3, SodiumMg: 7},
	"apple":    {Calories: 52, Protein: 0.3, Carbs: 14, Fat: 0.2, Fiber: 2.4, SodiumMg: 1},
	"banana":   {Calories: 89, Protein: 1.1, Carbs: 23, Fat: 0.3, Fiber: 2.6, SodiumMg: 1},
	"salad":    {Calories: 20, Protein: 1.2, Carbs: 3.3, Fat: 0.2, Fiber: 1.8, SodiumMg: 28},
	"spinach":  {Calories: 23, Protein: 2.9, Carbs: 3.6, Fat: 0.4, Fiber: 2.2, SodiumMg: 79},
	"carrot":   {Calories: 41, Protein: 0.9, Carbs: 10, Fat: 0.2, Fiber: 2.8, SodiumMg: 69},
	"pizza":    {Calories: 266, Protein: 11, Carbs: 33, Fat: 10, Fiber: 2.3, SodiumMg: 598},
	"fries":    {Calories: 312, Protein: 3.4, Carbs: 41, Fat: 15, Fiber: 3.8, SodiumMg: 210},
	"yogurt":   {Calories: 59, Protein: 10, Carbs: 3.6, Fat: 0.4, Fiber: 0, SodiumMg: 36},
	"oatmeal":  {Calories: 68, Protein: 2.4, Carbs: 12, Fat: 1.4, Fiber: 1.7, SodiumMg: 49},
	"milk":     {Calories: 42, Protein: 3.4, Carbs: 5, Fat: 1, Fiber: 0, SodiumMg: 44},
	"cheese":   {Calories: 402, Protein: 25, Carbs: 1.3, Fat: 33, Fiber: 0, SodiumMg: 621},
	"smoothie": {Calories: 54, Protein: 1.1, Carbs: 13, Fat: 0.2, Fiber: 1.2, SodiumMg: 3},
	"juice":    {Calories: 45, Protein: 0.7, Carbs: 10, Fat: 0.2, Fiber: 0.2, SodiumMg: 1},
}

// dailyValues are the reference daily intakes used for percent-of-daily
// figures.
var dailyValues = map[string]float64{
	"calories": 2000,
	"protein":  50,
	"carbs":    275,
	"fat":      78,
	"fiber":    28,
	"sodium":   2300,
}

// Resolver implements nutripilot.NutritionLookup over the reference table.
type Resolver struct{}

func NewResolver() *Resolver { return &Resolver{} }

// Resolve scales the matched food's per-100g profile to the given portion.
// The queried name is matched exactly first, then by the longest table key
// it contains. Unknown foods return nutripilot.ErrNotFound.
func (r *Resolver) Resolve(ctx context.Context, foodName string, portionGrams float64) ([]state.NutrientInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if portionGrams <= 0 {
		return nil, fmt.Errorf("invalid portion %.1fg for %q", portionGrams, foodName)
	}

	name := strings.ToLower(strings.TrimSpace(foodName))
	p, ok := table[name]
	if !ok {
		key := ""
		for k := range table {
			if strings.Contains(name, k) && len(k) > len(key) {
				key = k
			}
		}
		if key == "" {
			return nil, fmt.Errorf("no nutrition data for %q: %w", foodName, nutripilot.ErrNotFound)
		}
		p = table[key]
	}

	scale := portionGrams / 100
	return []state.NutrientInfo{
		nutrient("calories", p.Calories*scale, "kcal"),
		nutrient("protein", p.Protein*scale, "g"),
		nutrient("carbs", p.Carbs*scale, "g"),
		nutrient("fat", p.Fat*scale, "g"),
		nutrient("fiber", p.Fiber*scale, "g"),
		nutrient("sodium", p.SodiumMg*scale, "mg"),
	}, nil
}

func nutrient(name string, amount float64, unit string) state.NutrientInfo {
	info := state.NutrientInfo{Name: name, Amount: round1(amount), Unit: unit}
	if dv, ok := dailyValues[name]; ok && dv > 0 {
		info.PercentDaily = round1(amount / dv * 100)
	}
	return info
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
