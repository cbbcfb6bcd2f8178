package screener

import (
	"bytes"
	"fmt"
	"image/png"

	"github.com/corona10/goimagehash"
	"github.com/glaslos/ssdeep"
	"github.com/root4loot/goutils/log"
)

// fuzzyHash returns the ssdeep hash of img, or "" when img is too small to
// hash.
func fuzzyHash(img Image) string {
	hash, err := ssdeep.FuzzyBytes(img)
	if err != nil {
		log.Debugf("Could not compute fuzzy hash: %v", err)
		return ""
	}
	return hash
}

// perceptionHash returns the perceptual hash of a PNG, or nil if it cannot
// be decoded.
func perceptionHash(img Image) *goimagehash.ImageHash {
	decoded, err := png.Decode(bytes.NewReader(img))
	if err != nil {
		log.Debugf("Could not decode image for perceptual hash: %v", err)
		return nil
	}

	hash, err := goimagehash.PerceptionHash(decoded)
	if err != nil {
		log.Debugf("Could not compute perceptual hash: %v", err)
		return nil
	}
	return hash
}

// IsSimilarToAny returns the first result in results whose screenshot
// scores at least similarityThreshold against this one.
func (result Result) IsSimilarToAny(results []Result, similarityThreshold int) (Result, bool) {
	if result.Fuzzy == "" {
		return Result{}, false
	}

	for _, r := range results {
		if r.Fuzzy == "" {
			continue
		}

		score, err := ssdeep.Distance(result.Fuzzy, r.Fuzzy)
		if err != nil {
			continue
		}

		if score >= similarityThreshold {
			log.Debugf("%s is similar to %s with a score of %d", result.Target.URL, r.Target.URL, score)
			return r, true
		}
	}
	return Result{}, false
}

// MarkDuplicates sets DuplicateOf on every captured result whose screenshot
// is similar to an earlier captured one. Nothing is removed.
func MarkDuplicates(results []Result, similarityThreshold int) error {
	if similarityThreshold < 1 || similarityThreshold > 100 {
		return fmt.Errorf("invalid similarity threshold: %d. Must be between 1 and 100", similarityThreshold)
	}

	var seen []Result
	for i := range results {
		if !results[i].OK() {
			continue
		}
		if original, ok := results[i].IsSimilarToAny(seen, similarityThreshold); ok {
			results[i].DuplicateOf = original.Target.URL
			continue
		}
		seen = append(seen, results[i])
	}
	return nil
}

// GroupSimilar numbers groups of visually similar screenshots. Results whose
// perceptual hashes are within maxDistance of a group's first member join
// that group. Only groups with two or more members get a number, starting
// at 1 in result order.
func GroupSimilar(results []Result, maxDistance int) {
	type group struct {
		hash    *goimagehash.ImageHash
		members []int
	}

	var groups []*group
	for i := range results {
		results[i].Group = 0
		if !results[i].OK() || results[i].PHash == nil {
			continue
		}

		var joined bool
		for _, g := range groups {
			distance, err := results[i].PHash.Distance(g.hash)
			if err == nil && distance <= maxDistance {
				g.members = append(g.members, i)
				joined = true
				break
			}
		}
		if !joined {
			groups = append(groups, &group{hash: results[i].PHash, members: []int{i}})
		}
	}

	next := 1
	for _, g := range groups {
		if len(g.members) < 2 {
			continue
		}
		for _, i := range g.members {
			results[i].Group = next
		}
		next++
	}
}
