package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"

	"studygroups/optimizer"
)

func makeRoster(n int, rng *rand.Rand) []optimizer.Person {
	people := make([]optimizer.Person, n)
	for i := range n {
		sex := optimizer.SexA
		if rng.Intn(2) == 1 {
			sex = optimizer.SexB
		}
		people[i] = optimizer.Person{
			ID:        fmt.Sprintf("student-%03d", i),
			Sex:       sex,
			FirstName: "Student",
			LastName:  strconv.Itoa(i),
		}
	}
	return people
}

// makePairs draws random prior pairs until the requested fraction of all
// unordered pairs is covered, with weights in [1, maxWeight].
func makePairs(people []optimizer.Person, fraction float64, maxWeight int, rng *rand.Rand) []optimizer.Pair {
	n := len(people)
	want := int(fraction * float64(n*(n-1)/2))
	seen := map[[2]int]bool{}
	var pairs []optimizer.Pair
	for len(pairs) < want {
		a, b := rng.Intn(n), rng.Intn(n)
		if a == b {
			continue
		}
		if a > b {
			a, b = b, a
		}
		if seen[[2]int{a, b}] {
			continue
		}
		seen[[2]int{a, b}] = true
		pairs = append(pairs, optimizer.Pair{
			A:      people[a].ID,
			B:      people[b].ID,
			Weight: 1 + rng.Intn(maxWeight),
		})
	}
	return pairs
}

func normalizeKey(people []optimizer.Person, assignment map[string]int) string {
	gm := map[int][]int{}
	for i, p := range people {
		g := assignment[p.ID]
		gm[g] = append(gm[g], i)
	}
	var gs [][]int
	for _, members := range gm {
		slices.Sort(members)
		gs = append(gs, members)
	}
	slices.SortFunc(gs, func(a, b []int) int { return a[0] - b[0] })
	var buf strings.Builder
	for _, g := range gs {
		for i, m := range g {
			if i > 0 {
				buf.WriteByte(',')
			}
			buf.WriteString(strconv.Itoa(m))
		}
		buf.WriteByte(';')
	}
	return buf.String()
}

type runResult struct {
	status    optimizer.Status
	objective int
	solution  string
	elapsed   time.Duration
}

func printStats(label string, results []runResult, runs int) {
	statuses := map[optimizer.Status]int{}
	objectives := map[int]int{}
	solutions := map[string]int{}
	var totalTime time.Duration

	for _, r := range results {
		totalTime += r.elapsed
		statuses[r.status]++
		if r.status == optimizer.StatusOptimal || r.status == optimizer.StatusFeasible {
			objectives[r.objective]++
			solutions[r.solution]++
		}
	}

	fmt.Printf("--- %s ---\n", label)
	fmt.Printf("  avg time: %v\n", totalTime/time.Duration(runs))

	fmt.Printf("  status distribution:\n")
	for _, s := range []optimizer.Status{optimizer.StatusOptimal, optimizer.StatusFeasible, optimizer.StatusInfeasible, optimizer.StatusTimedOut} {
		if c := statuses[s]; c > 0 {
			fmt.Printf("    %s: %d/%d runs (%.0f%%)\n", s, c, runs, float64(c)/float64(runs)*100)
		}
	}

	var objList []struct {
		objective int
		count     int
	}
	for o, c := range objectives {
		objList = append(objList, struct {
			objective int
			count     int
		}{o, c})
	}
	sort.Slice(objList, func(i, j int) bool { return objList[i].objective < objList[j].objective })

	fmt.Printf("  objective distribution:\n")
	for _, oc := range objList {
		fmt.Printf("    objective %d: %d/%d runs (%.0f%%)\n", oc.objective, oc.count, runs, float64(oc.count)/float64(runs)*100)
	}

	fmt.Printf("  unique solutions seen: %d\n", len(solutions))
	fmt.Println()
}

func main() {
	sizes := flag.String("sizes", "12,24,30", "comma-separated roster sizes")
	groupSize := flag.Int("group", 4, "target group size")
	mode := flag.String("mode", "mixed", "group type: mixed, same_sex")
	budgets := flag.String("budgets", "5s,30s", "comma-separated time budgets")
	runs := flag.Int("runs", 10, "solver runs per parameter set")
	pairFraction := flag.Float64("pairs", 0.1, "fraction of all unordered pairs used as history")
	maxWeight := flag.Int("maxweight", 3, "maximum prior-pair weight")
	flag.Parse()

	rosterSizes := parseIntList(*sizes)
	budgetList := parseDurationList(*budgets)
	if len(rosterSizes) == 0 || len(budgetList) == 0 {
		fmt.Fprintln(os.Stderr, "need at least one roster size and one budget")
		os.Exit(1)
	}

	fmt.Printf("Group size: %d, Mode: %s, Pair fraction: %.2f, Runs per config: %d\n\n",
		*groupSize, *mode, *pairFraction, *runs)

	for _, n := range rosterSizes {
		for _, budget := range budgetList {
			var results []runResult
			for run := range *runs {
				rng := rand.New(rand.NewSource(int64(run * 31337)))
				people := makeRoster(n, rng)
				pairs := makePairs(people, *pairFraction, *maxWeight, rng)

				start := time.Now()
				res, err := optimizer.Solve(people, pairs, optimizer.Settings{
					GroupSize:  *groupSize,
					Mode:       optimizer.Mode(*mode),
					TimeBudget: budget,
				})
				elapsed := time.Since(start)
				if err != nil {
					fmt.Fprintf(os.Stderr, "solve (n=%d run=%d): %v\n", n, run, err)
					os.Exit(1)
				}

				r := runResult{status: res.Status, objective: res.Objective, elapsed: elapsed}
				if res.Assignment != nil {
					r.solution = normalizeKey(people, res.Assignment)
				}
				results = append(results, r)
			}
			label := fmt.Sprintf("n=%d group=%d mode=%s budget=%v", n, *groupSize, *mode, budget)
			printStats(label, results, *runs)
		}
	}
}

func parseIntList(s string) []int {
	parts := strings.Split(s, ",")
	var result []int
	for _, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err == nil {
			result = append(result, v)
		}
	}
	return result
}

func parseDurationList(s string) []time.Duration {
	parts := strings.Split(s, ",")
	var result []time.Duration
	for _, p := range parts {
		d, err := time.ParseDuration(strings.TrimSpace(p))
		if err == nil {
			result = append(result, d)
		}
	}
	return result
}
